package normalize

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToArrayStrings(t *testing.T) {
	tests := []struct {
		name   string
		in     RawValue
		want   []string
		method string
	}{
		{"empty string", String(""), []string{}, "empty"},
		{"missing", Missing(), []string{}, "empty"},
		{"null sentinel", String("null"), []string{}, "empty"},
		{"comma and semicolon", String("Crop, Organic; Livestock"), []string{"Crop", "Organic", "Livestock"}, "delimited"},
		{"json array drops blanks", String(`["a", "", null, "b"]`), []string{"a", "b"}, "json"},
		{"pseudo list", String(`['Crop', 'Organic']`), []string{"Crop", "Organic"}, "pseudo_list"},
		{"quoted comma kept", String(`['Paris, Lyon', "Lille"]`), []string{"Paris, Lyon", "Lille"}, "pseudo_list"},
		{"bullet lines", String("- Farms\n- Cooperatives"), []string{"Farms", "Cooperatives"}, "delimited"},
		{"single sentence", String("Agriculture"), []string{"Agriculture"}, "wrapped"},
		{"native array", Array(String("x"), Missing(), String(" "), String("y")), []string{"x", "y"}, "array"},
		{"scalar number", Number(5), []string{"5"}, "scalar"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := ToArray(tt.in, ElementText)
			require.NotNil(t, r.Strings)
			assert.Equal(t, tt.want, r.Strings)
			assert.Equal(t, tt.method, r.Method)
		})
	}
}

func TestToArrayNumbers(t *testing.T) {
	r := ToArray(String("12.5"), ElementNumber)
	assert.Equal(t, []float64{12.5}, r.Numbers)
	assert.Equal(t, "numeric", r.Method)

	r = ToArray(String("1, 2, 3"), ElementNumber)
	assert.Equal(t, []float64{1, 2, 3}, r.Numbers)

	r = ToArray(String("[40, \"60%\"]"), ElementNumber)
	assert.Equal(t, []float64{40, 60}, r.Numbers)

	r = ToArray(String("abc"), ElementNumber)
	require.NotNil(t, r.Numbers)
	assert.Empty(t, r.Numbers)
	assert.NotEmpty(t, r.Warnings)
}

func TestToArraySeparatorBeatsDecimalComma(t *testing.T) {
	r := ToArray(String("12,5"), ElementNumber)
	assert.Equal(t, []float64{12, 5}, r.Numbers)
	assert.Equal(t, "delimited", r.Method)

	r = ToArray(String("20; 40"), ElementNumber)
	assert.Equal(t, []float64{20, 40}, r.Numbers)
}

func TestToArrayNeverNil(t *testing.T) {
	inputs := []RawValue{
		String("["), String(`["unterminated`), String("(("), String("'"),
		String(";;;"), String(","), String("[,]"), String("\n\n"),
		RawValue{Kind: RawObject, Fields: map[string]RawValue{"a": String("b")}},
		RawValue{Kind: RawBool, Bool: true}, Array(), Missing(),
	}
	for _, in := range inputs {
		assert.NotPanics(t, func() {
			r := ToArray(in, ElementText)
			assert.NotNil(t, r.Strings, "input %q", in.Display())
			n := ToArray(in, ElementNumber)
			assert.NotNil(t, n.Numbers, "input %q", in.Display())
		})
	}
}

func TestToArrayJSONRoundTrip(t *testing.T) {
	cases := [][]string{
		{"alpha"},
		{"alpha", "beta", "gamma"},
		{"Île-de-France", "Provence-Alpes-Côte d'Azur"},
		{"a;b", "c,d"},
	}
	for _, want := range cases {
		b, err := json.Marshal(want)
		require.NoError(t, err)
		r := ToArray(String(string(b)), ElementText)
		assert.Equal(t, want, r.Strings)
		assert.Equal(t, "json", r.Method)
	}
}
