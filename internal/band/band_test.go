package band

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFromCorrect_RangeEdges(t *testing.T) {
	for _, s := range table {
		assert.Equalf(t, s.band, FromCorrect(s.lo), "lower edge %d", s.lo)
		assert.Equalf(t, s.band, FromCorrect(s.hi), "upper edge %d", s.hi)
	}
}

func TestFromCorrect_KnownPoints(t *testing.T) {
	tests := []struct {
		correct int
		want    float64
	}{
		{40, 9.0},
		{39, 9.0},
		{38, 8.5},
		{30, 7.0},
		{29, 6.5},
		{23, 6.0},
		{22, 5.5},
		{1, 2.0},
		{0, 0.0},
		{-1, 0.0},
		{41, 0.0},
	}
	for _, tt := range tests {
		if got := FromCorrect(tt.correct); got != tt.want {
			t.Errorf("FromCorrect(%d) = %v, want %v", tt.correct, got, tt.want)
		}
	}
}

func TestFromCorrect_TableCoversZeroToForty(t *testing.T) {
	seen := make(map[int]int)
	for _, s := range table {
		for c := s.lo; c <= s.hi; c++ {
			seen[c]++
		}
	}
	for c := 0; c <= 40; c++ {
		assert.Equalf(t, 1, seen[c], "count %d must be covered exactly once", c)
	}
}

func TestFromCorrect_Monotonic(t *testing.T) {
	prev := FromCorrect(0)
	for c := 1; c <= 40; c++ {
		got := FromCorrect(c)
		if got < prev {
			t.Fatalf("band decreased from %v to %v at %d correct", prev, got, c)
		}
		assert.True(t, Valid(got))
		prev = got
	}
}

func TestRoundHalf(t *testing.T) {
	tests := []struct {
		in   float64
		want float64
	}{
		{6.0, 6.0},
		{6.1, 6.0},
		{6.25, 6.0}, // 12.5 rounds to even
		{6.3, 6.5},
		{6.5, 6.5},
		{6.75, 7.0}, // 13.5 rounds to even
		{6.875, 7.0},
		{0.2, 0.0},
		{0.25, 0.0}, // 0.5 rounds to even
	}
	for _, tt := range tests {
		assert.Equalf(t, tt.want, RoundHalf(tt.in), "RoundHalf(%v)", tt.in)
	}
}

func TestAverage_MissingCountsAsZero(t *testing.T) {
	assert.Equal(t, 6.0, Average(4, 6, 6, 6, 6))
	assert.Equal(t, 4.5, Average(4, 6, 6, 6))
	assert.Equal(t, 0.0, Average(4))
	assert.Equal(t, 0.0, Average(0, 5))
}

func ptr(f float64) *float64 { return &f }

func TestWriting(t *testing.T) {
	tests := []struct {
		name string
		in   WritingInput
		want float64
	}{
		{
			name: "both tasks averaged",
			in: WritingInput{
				Task1:       []float64{7, 7, 6, 6},
				Task2:       []float64{7, 7, 7, 7},
				Task2Answer: "An essay about cities.",
			},
			want: 7.0, // (6.5 + 7.0) / 2 = 6.75 -> 13.5 -> 14 / 2
		},
		{
			name: "only task 1 graded",
			in: WritingInput{
				Task1:       []float64{6, 6, 6, 5},
				Task2Answer: "essay",
			},
			want: 6.0, // 5.75 -> 11.5 -> 12 / 2
		},
		{
			name: "only task 2 graded",
			in: WritingInput{
				Task2:       []float64{5, 5, 5, 5},
				Task2Answer: "essay",
			},
			want: 5.0,
		},
		{
			name: "all criteria zero floors at one",
			in: WritingInput{
				Task1:       []float64{0, 0, 0, 0},
				Task2:       []float64{0, 0, 0, 0},
				Task2Answer: "essay",
			},
			want: 1.0,
		},
		{
			name: "no criteria at all floors at one",
			in:   WritingInput{Task2Answer: "essay"},
			want: 1.0,
		},
		{
			name: "tiny averages floor at one",
			in: WritingInput{
				Task1:       []float64{1, 0, 0, 0},
				Task2Answer: "essay",
			},
			want: 1.0,
		},
		{
			name: "empty task 2 caps at six",
			in: WritingInput{
				Task1:       []float64{9, 9, 9, 9},
				Task2:       []float64{9, 9, 9, 9},
				Task2Answer: "   ",
			},
			want: 6.0,
		},
		{
			name: "placeholder task 2 caps at six",
			in: WritingInput{
				Task1:       []float64{8, 8, 8, 8},
				Task2:       []float64{8, 8, 8, 8},
				Task2Answer: " String ",
			},
			want: 6.0,
		},
		{
			name: "cap does not raise a low score",
			in: WritingInput{
				Task1:       []float64{4, 4, 4, 4},
				Task2Answer: "",
			},
			want: 4.0,
		},
		{
			name: "grader overall wins",
			in: WritingInput{
				Task1:         []float64{5, 5, 5, 5},
				Task2:         []float64{5, 5, 5, 5},
				GraderOverall: ptr(7.3),
				Task2Answer:   "essay",
			},
			want: 7.5,
		},
		{
			name: "grader overall still capped",
			in: WritingInput{
				GraderOverall: ptr(8),
				Task2Answer:   "string",
			},
			want: 6.0,
		},
		{
			name: "grader overall clamped to nine",
			in: WritingInput{
				GraderOverall: ptr(12),
				Task2Answer:   "essay",
			},
			want: 9.0,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Writing(tt.in)
			assert.Equal(t, tt.want, got)
			assert.True(t, Valid(got))
		})
	}
}

func TestSpeaking(t *testing.T) {
	assert.Equal(t, 1.0, Speaking(nil))
	assert.Equal(t, 0.0, Speaking([]float64{0, 0, 0, 0}))
	assert.Equal(t, 6.5, Speaking([]float64{7, 6, 6, 7}))
	assert.Equal(t, 4.5, Speaking([]float64{6, 6, 6})) // missing criterion counts as zero
	assert.Equal(t, 8.0, Speaking([]float64{8, 8, 7.5, 8.5}))
}

func TestIsPlaceholder(t *testing.T) {
	assert.True(t, IsPlaceholder(""))
	assert.True(t, IsPlaceholder("  \n"))
	assert.True(t, IsPlaceholder("STRING"))
	assert.False(t, IsPlaceholder("strings are fun"))
}

func TestValid(t *testing.T) {
	assert.True(t, Valid(0))
	assert.True(t, Valid(6.5))
	assert.True(t, Valid(9))
	assert.False(t, Valid(6.25))
	assert.False(t, Valid(-0.5))
	assert.False(t, Valid(9.5))
}
