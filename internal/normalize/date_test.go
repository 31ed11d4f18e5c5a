package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToDate(t *testing.T) {
	tests := []struct {
		name string
		in   RawValue
		want string
	}{
		{"iso", String("2025-03-15"), "2025-03-15"},
		{"rfc3339", String("2025-03-15T10:00:00Z"), "2025-03-15"},
		{"day first only valid", String("15/03/2025"), "2025-03-15"},
		{"month first only valid", String("03/15/2025"), "2025-03-15"},
		{"dotted", String("15.03.2025"), "2025-03-15"},
		{"french month", String("15 mars 2025"), "2025-03-15"},
		{"english month", String("March 15, 2025"), "2025-03-15"},
		{"excel serial", Number(45000), "2023-03-15"},
		{"first of list", Array(String("nope"), String("2025-01-31")), "2025-01-31"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ToDate(tt.in, DayFirst)
			require.NotNil(t, r.ISO(), "warnings: %v", r.Warnings)
			assert.Equal(t, tt.want, *r.ISO())
			assert.False(t, r.Ambiguous)
		})
	}
}

func TestToDateAmbiguity(t *testing.T) {
	r := ToDate(String("03/04/2025"), DayFirst)
	require.NotNil(t, r.Date)
	assert.Equal(t, "2025-04-03", *r.ISO())
	assert.True(t, r.Ambiguous)
	require.Len(t, r.Warnings, 1)
	assert.Contains(t, r.Warnings[0], "2025-03-04")

	r = ToDate(String("03/04/2025"), MonthFirst)
	assert.Equal(t, "2025-03-04", *r.ISO())
	assert.True(t, r.Ambiguous)

	r = ToDate(String("05/05/2025"), MonthFirst)
	assert.Equal(t, "2025-05-05", *r.ISO())
	assert.False(t, r.Ambiguous)
	assert.Empty(t, r.Warnings)
}

func TestToDateFromText(t *testing.T) {
	r := ToDate(String("Deadline: 31/12/2025 at noon"), DayFirst)
	require.NotNil(t, r.Date)
	assert.Equal(t, "2025-12-31", *r.ISO())
	assert.Contains(t, r.Warnings, "date extracted from surrounding text")
}

func TestToDateUnparseable(t *testing.T) {
	for _, in := range []RawValue{String("not a date"), String("31/02/2025"), String(""), Missing(), Number(12)} {
		r := ToDate(in, DayFirst)
		assert.Nil(t, r.Date, "input %q", in.Display())
	}
}

func TestParseDateOrder(t *testing.T) {
	assert.Equal(t, MonthFirst, ParseDateOrder("en-US"))
	assert.Equal(t, MonthFirst, ParseDateOrder("mdy"))
	assert.Equal(t, DayFirst, ParseDateOrder("fr-FR"))
	assert.Equal(t, DayFirst, ParseDateOrder(""))
}
