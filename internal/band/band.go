// Package band implements the IELTS band arithmetic: the Listening/Reading
// correct-count table and the criterion averaging used for Writing and
// Speaking.
package band

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Min and Max bound every band score.
const (
	Min = 0.0
	Max = 9.0

	// WritingFloor is the lowest overall Writing band, even when every
	// criterion is zero.
	WritingFloor = 1.0

	// WritingTask2Cap bounds the overall Writing band when Task 2 is
	// missing or a placeholder.
	WritingTask2Cap = 6.0

	// SpeakingDefault is reported when the grader returned no criteria at all.
	SpeakingDefault = 1.0
)

// step is one row of the correct-count table.
type step struct {
	lo, hi int
	band   float64
}

// table is the official Listening/Reading raw-score conversion.
var table = []step{
	{39, 40, 9.0},
	{37, 38, 8.5},
	{35, 36, 8.0},
	{32, 34, 7.5},
	{30, 31, 7.0},
	{26, 29, 6.5},
	{23, 25, 6.0},
	{18, 22, 5.5},
	{16, 17, 5.0},
	{13, 15, 4.5},
	{10, 12, 4.0},
	{7, 9, 3.5},
	{5, 6, 3.0},
	{3, 4, 2.5},
	{1, 2, 2.0},
	{0, 0, 0.0},
}

// FromCorrect maps a correct-answer count to its band. Counts outside the
// table (negative or above 40) map to 0.0.
func FromCorrect(correct int) float64 {
	for _, s := range table {
		if correct >= s.lo && correct <= s.hi {
			return s.band
		}
	}
	return Min
}

var two = decimal.NewFromInt(2)

// RoundHalf rounds to the nearest half band, ties to even on the doubled
// value: 6.25 -> 6.0, 6.75 -> 7.0.
func RoundHalf(x float64) float64 {
	f, _ := decimal.NewFromFloat(x).Mul(two).RoundBank(0).Div(two).Float64()
	return f
}

// Clamp bounds x to [Min, Max].
func Clamp(x float64) float64 {
	switch {
	case x < Min:
		return Min
	case x > Max:
		return Max
	}
	return x
}

// Average sums the criteria and divides by want, so a missing criterion
// counts as zero rather than shrinking the denominator.
func Average(want int, scores ...float64) float64 {
	if want <= 0 {
		return 0
	}
	sum := decimal.Zero
	for _, s := range scores {
		sum = sum.Add(decimal.NewFromFloat(s))
	}
	avg, _ := sum.Div(decimal.NewFromInt(int64(want))).Float64()
	return avg
}

// CriteriaPerTask is the number of criteria in every Writing task and in Speaking.
const CriteriaPerTask = 4

// WritingInput carries the graded criteria of both tasks.
type WritingInput struct {
	Task1 []float64
	Task2 []float64

	// GraderOverall is used verbatim (snapped and clamped) when the grader
	// supplies it.
	GraderOverall *float64

	// Task2Answer is the raw Task 2 text, checked for the placeholder cap.
	Task2Answer string
}

// Writing computes the overall Writing band.
func Writing(in WritingInput) float64 {
	var overall float64
	if in.GraderOverall != nil {
		overall = RoundHalf(Clamp(*in.GraderOverall))
	} else {
		a1 := Average(CriteriaPerTask, in.Task1...)
		a2 := Average(CriteriaPerTask, in.Task2...)
		switch {
		case a1 > 0 && a2 > 0:
			overall = RoundHalf(Average(2, a1, a2))
		case a1 > 0:
			overall = RoundHalf(a1)
		case a2 > 0:
			overall = RoundHalf(a2)
		default:
			overall = WritingFloor
		}
	}
	if overall < WritingFloor {
		overall = WritingFloor
	}
	if IsPlaceholder(in.Task2Answer) && overall > WritingTask2Cap {
		overall = WritingTask2Cap
	}
	return Clamp(overall)
}

// IsPlaceholder reports an empty answer or the literal "string" left by
// API clients that post the example payload.
func IsPlaceholder(answer string) bool {
	a := strings.ToLower(strings.TrimSpace(answer))
	return a == "" || a == "string"
}

// Speaking computes the overall Speaking band from the graded criteria.
func Speaking(criteria []float64) float64 {
	if len(criteria) == 0 {
		return SpeakingDefault
	}
	return Clamp(RoundHalf(Average(CriteriaPerTask, criteria...)))
}

// Valid reports whether b is a legal half band in [0, 9].
func Valid(b float64) bool {
	if b < Min || b > Max {
		return false
	}
	d := decimal.NewFromFloat(b).Mul(two)
	return d.Equal(d.Truncate(0))
}
