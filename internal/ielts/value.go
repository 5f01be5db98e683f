package ielts

import (
	"bytes"
	"encoding/json"
	"sort"
	"strconv"
	"strings"
)

// ValueKind tags the variant held by an AnswerValue.
type ValueKind string

const (
	KindScalar     ValueKind = "scalar"
	KindText       ValueKind = "text"
	KindList       ValueKind = "list"
	KindStructured ValueKind = "structured"
)

// AnswerValue is a submitted or correct answer: a number, a string, an
// ordered list of strings or a string mapping. The zero value is an empty
// answer.
type AnswerValue struct {
	Kind   ValueKind
	Number float64
	Text   string
	List   []string
	Map    map[string]string
}

// Scalar returns a numeric answer.
func Scalar(f float64) AnswerValue { return AnswerValue{Kind: KindScalar, Number: f} }

// Text returns a free-text answer.
func Text(s string) AnswerValue { return AnswerValue{Kind: KindText, Text: s} }

// List returns an ordered list answer. A nil list becomes empty, not absent.
func List(items ...string) AnswerValue {
	if items == nil {
		items = []string{}
	}
	return AnswerValue{Kind: KindList, List: items}
}

// Structured returns a key to value answer, such as a matching task.
func Structured(m map[string]string) AnswerValue {
	if m == nil {
		m = map[string]string{}
	}
	return AnswerValue{Kind: KindStructured, Map: m}
}

// IsEmpty reports whether the value carries no user input.
func (v AnswerValue) IsEmpty() bool {
	switch v.Kind {
	case KindScalar:
		return false
	case KindText:
		return strings.TrimSpace(v.Text) == ""
	case KindList:
		for _, s := range v.List {
			if strings.TrimSpace(s) != "" {
				return false
			}
		}
		return true
	case KindStructured:
		return len(v.Map) == 0
	}
	return true
}

// Strings flattens the value into its string items.
func (v AnswerValue) Strings() []string {
	switch v.Kind {
	case KindScalar:
		return []string{formatNumber(v.Number)}
	case KindText:
		return []string{v.Text}
	case KindList:
		return v.List
	case KindStructured:
		keys := make([]string, 0, len(v.Map))
		for k := range v.Map {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make([]string, len(keys))
		for i, k := range keys {
			out[i] = k + "=" + v.Map[k]
		}
		return out
	}
	return nil
}

// String renders the value for prompts and reports.
func (v AnswerValue) String() string {
	switch v.Kind {
	case KindScalar:
		return formatNumber(v.Number)
	case KindText:
		return v.Text
	}
	return strings.Join(v.Strings(), ", ")
}

type taggedValue struct {
	Kind  ValueKind       `json:"kind"`
	Value json.RawMessage `json:"value"`
}

// MarshalJSON writes the tagged form {"kind": ..., "value": ...}.
func (v AnswerValue) MarshalJSON() ([]byte, error) {
	var (
		raw []byte
		err error
	)
	switch v.Kind {
	case KindScalar:
		raw, err = json.Marshal(v.Number)
	case KindText:
		raw, err = json.Marshal(v.Text)
	case KindList:
		items := v.List
		if items == nil {
			items = []string{}
		}
		raw, err = json.Marshal(items)
	case KindStructured:
		m := v.Map
		if m == nil {
			m = map[string]string{}
		}
		raw, err = json.Marshal(m)
	default:
		return []byte("null"), nil
	}
	if err != nil {
		return nil, err
	}
	return json.Marshal(taggedValue{Kind: v.Kind, Value: raw})
}

// UnmarshalJSON accepts the tagged form as well as a bare JSON string,
// number, array or object, inferring the kind from the latter.
func (v *AnswerValue) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*v = AnswerValue{}
		return nil
	}
	if data[0] == '{' {
		var probe map[string]json.RawMessage
		if err := json.Unmarshal(data, &probe); err != nil {
			return err
		}
		kindRaw, hasKind := probe["kind"]
		valueRaw, hasValue := probe["value"]
		if hasKind && hasValue && len(probe) == 2 {
			var kind ValueKind
			if err := json.Unmarshal(kindRaw, &kind); err != nil {
				return err
			}
			return v.decodeKind(kind, valueRaw)
		}
	}
	parsed, err := ParseRaw(data)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

func (v *AnswerValue) decodeKind(kind ValueKind, raw json.RawMessage) error {
	switch kind {
	case KindScalar:
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return Invalid("value", "scalar: %v", err)
		}
		*v = Scalar(f)
	case KindText:
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return Invalid("value", "text: %v", err)
		}
		*v = Text(s)
	case KindList:
		var items []string
		if err := json.Unmarshal(raw, &items); err != nil {
			return Invalid("value", "list: %v", err)
		}
		*v = List(items...)
	case KindStructured:
		var m map[string]string
		if err := json.Unmarshal(raw, &m); err != nil {
			return Invalid("value", "structured: %v", err)
		}
		*v = Structured(m)
	default:
		return Invalid("kind", "unknown answer kind %q", kind)
	}
	return nil
}

// ParseRaw infers an AnswerValue from untagged JSON. Array and object
// members that are numbers or booleans are kept in their JSON text form.
func ParseRaw(data []byte) (AnswerValue, error) {
	var decoded any
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&decoded); err != nil {
		return AnswerValue{}, Invalid("value", "malformed answer: %v", err)
	}
	switch t := decoded.(type) {
	case nil:
		return AnswerValue{}, nil
	case string:
		return Text(t), nil
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return AnswerValue{}, Invalid("value", "number: %v", err)
		}
		return Scalar(f), nil
	case bool:
		return Text(strconv.FormatBool(t)), nil
	case []any:
		items := make([]string, 0, len(t))
		for _, item := range t {
			s, err := scalarString(item)
			if err != nil {
				return AnswerValue{}, err
			}
			items = append(items, s)
		}
		return List(items...), nil
	case map[string]any:
		m := make(map[string]string, len(t))
		for k, item := range t {
			s, err := scalarString(item)
			if err != nil {
				return AnswerValue{}, err
			}
			m[k] = s
		}
		return Structured(m), nil
	}
	return AnswerValue{}, Invalid("value", "unsupported answer shape")
}

func scalarString(v any) (string, error) {
	switch t := v.(type) {
	case string:
		return t, nil
	case json.Number:
		return t.String(), nil
	case bool:
		return strconv.FormatBool(t), nil
	case nil:
		return "", nil
	}
	return "", Invalid("value", "nested values are not supported (%T)", v)
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
