// Package i18n resolves localized content fields and the few fixed
// messages the engine writes into feedback.
package i18n

import (
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/language/display"
)

var supportedTags = []language.Tag{
	language.English,
	language.Russian,
	language.Uzbek,
}

var tagMatcher = language.NewMatcher(supportedTags)

// Default returns the fallback language.
func Default() language.Tag {
	return language.English
}

// Match maps a language code such as "ru", "ru-RU" or "uz_UZ" onto a
// supported tag, falling back to English.
func Match(code string) language.Tag {
	tag, ok := parseTag(code)
	if !ok {
		return Default()
	}
	_, idx, conf := tagMatcher.Match(tag)
	if conf == language.No {
		return Default()
	}
	return supportedTags[idx]
}

// Code returns the two-letter code of the matched language.
func Code(code string) string {
	base, _ := Match(code).Base()
	return base.String()
}

// LanguageName returns the English name of the matched language, as used in
// grader prompts: "uz" -> "Uzbek".
func LanguageName(code string) string {
	return display.Languages(language.English).Name(Match(code))
}

func parseTag(value string) (language.Tag, bool) {
	value = strings.ReplaceAll(strings.TrimSpace(value), "_", "-")
	if value == "" {
		return language.Und, false
	}
	tag, err := language.Parse(value)
	if err != nil {
		return language.Und, false
	}
	return tag, true
}

// Entity is content with a raw field value and optional per-language
// translations of it.
type Entity interface {
	RawField(field string) string
	Translation(field, lang string) (string, bool)
}

// Resolve returns field in the requested language, then English, then the
// raw value.
func Resolve(e Entity, field, lang string) string {
	for _, code := range []string{Code(lang), "en"} {
		if s, ok := e.Translation(field, code); ok && strings.TrimSpace(s) != "" {
			return s
		}
	}
	return e.RawField(field)
}

// Message keys for fixed feedback strings.
const (
	MsgNoAnswer    = "no_answer"
	MsgNotAnswered = "not_answered"
	MsgGraderError = "grader_error"
)

var catalog = map[string]map[string]string{
	MsgNoAnswer: {
		"en": "No answer",
		"ru": "Нет ответа",
		"uz": "Javob yo'q",
	},
	MsgNotAnswered: {
		"en": "Not answered",
		"ru": "Не отвечено",
		"uz": "Javob berilmagan",
	},
	MsgGraderError: {
		"en": "The answer could not be graded automatically.",
		"ru": "Ответ не удалось оценить автоматически.",
		"uz": "Javobni avtomatik baholab bo'lmadi.",
	},
}

// Message returns the fixed message for key in lang, falling back to
// English and finally to the key itself.
func Message(key, lang string) string {
	texts, ok := catalog[key]
	if !ok {
		return key
	}
	if s, ok := texts[Code(lang)]; ok {
		return s
	}
	return texts["en"]
}
