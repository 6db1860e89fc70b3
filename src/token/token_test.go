package token

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "ppm/src/errors"
)

func TestFormatForPrompt(t *testing.T) {
	tests := []struct {
		name           string
		token          Token
		includeWeights bool
		want           string
	}{
		{"default weight", Token{Content: "blue eyes", Weight: 1.0}, true, "blue eyes"},
		{"weighted", Token{Content: "scar", Weight: 1.3}, true, "(scar:1.3)"},
		{"weights disabled", Token{Content: "scar", Weight: 1.3}, false, "scar"},
		{"one decimal place", Token{Content: "freckles", Weight: 0.85}, true, "(freckles:0.8)"},
		{"below one", Token{Content: "smile", Weight: 0.5}, true, "(smile:0.5)"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.token.FormatForPrompt(tt.includeWeights))
		})
	}
}

func TestParseContents(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want []string
	}{
		{"simple", "red hair, long hair, flowing", []string{"red hair", "long hair", "flowing"}},
		{"blank segments dropped", " a ,, ,b,", []string{"a", "b"}},
		{"only separators", " , , ", nil},
		{"single", "masterpiece", []string{"masterpiece"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ParseContents(tt.raw))
		})
	}
}

func TestParsePolarity(t *testing.T) {
	p, err := ParsePolarity(" Negative ")
	require.NoError(t, err)
	assert.Equal(t, Negative, p)

	_, err = ParsePolarity("neutral")
	assert.True(t, apperrors.IsValidation(err))
}

func TestFieldChangesMerge(t *testing.T) {
	first := FieldChanges{Weight: Ptr(1.2), Content: Ptr("scar")}
	second := FieldChanges{Weight: Ptr(0.8)}

	merged := first.Merge(second)
	require.NotNil(t, merged.Weight)
	assert.Equal(t, 0.8, *merged.Weight)
	require.NotNil(t, merged.Content)
	assert.Equal(t, "scar", *merged.Content)
	assert.Nil(t, merged.Polarity)
}

func TestTokenApply(t *testing.T) {
	tok := Token{Content: "scar", Weight: 1.0, GranularityID: Face, Polarity: Positive}
	tok.Apply(FieldChanges{Content: Ptr("  deep scar "), Polarity: Ptr(Negative)})

	assert.Equal(t, "deep scar", tok.Content)
	assert.Equal(t, Negative, tok.Polarity)
	assert.Equal(t, 1.0, tok.Weight)
	assert.Equal(t, Face, tok.GranularityID)
}

func TestCreateRequestValidate(t *testing.T) {
	valid := CreateRequest{PersonaID: "p1", GranularityID: Hair, Polarity: Positive, Content: " red hair "}.Normalize()
	require.NoError(t, valid.Validate())
	assert.Equal(t, "red hair", valid.Content)
	assert.Equal(t, DefaultWeight, valid.Weight)

	tests := []struct {
		name  string
		req   CreateRequest
		field string
	}{
		{"blank content", CreateRequest{PersonaID: "p1", GranularityID: Hair, Polarity: Positive, Content: "   "}, "content"},
		{"missing granularity", CreateRequest{PersonaID: "p1", Polarity: Positive, Content: "x"}, "granularity_id"},
		{"weight too high", CreateRequest{PersonaID: "p1", GranularityID: Hair, Polarity: Positive, Content: "x", Weight: 2.5}, "weight"},
		{"weight too low", CreateRequest{PersonaID: "p1", GranularityID: Hair, Polarity: Positive, Content: "x", Weight: 0.05}, "weight"},
		{"bad polarity", CreateRequest{PersonaID: "p1", GranularityID: Hair, Polarity: "sideways", Content: "x"}, "polarity"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.req.Normalize().Validate()
			require.Error(t, err)

			var vErr *apperrors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
			assert.True(t, apperrors.IsValidation(err))
		})
	}
}

func TestBatchCreateRequestValidate(t *testing.T) {
	req := BatchCreateRequest{PersonaID: "p1", GranularityID: Face, Polarity: Positive, Contents: " , ,"}.Normalize()
	err := req.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsValidation(err))

	req.Contents = "blue eyes, freckles"
	assert.NoError(t, req.Validate())
}

func TestFieldChangesValidate(t *testing.T) {
	assert.Error(t, FieldChanges{}.Validate())
	assert.Error(t, FieldChanges{Content: Ptr(" ")}.Validate())
	assert.Error(t, FieldChanges{Weight: Ptr(3.0)}.Validate())
	assert.Error(t, FieldChanges{Polarity: Ptr(Polarity("up"))}.Validate())
	assert.NoError(t, FieldChanges{Weight: Ptr(2.0)}.Validate())
	assert.NoError(t, FieldChanges{Weight: Ptr(0.1)}.Validate())
}

func TestSortForDisplay(t *testing.T) {
	tokens := []Token{
		{ID: "a", GranularityID: Face, DisplayOrder: 1},
		{ID: "b", GranularityID: "custom", DisplayOrder: 0},
		{ID: "c", GranularityID: Style, DisplayOrder: 5},
		{ID: "d", GranularityID: Face, DisplayOrder: 0},
	}

	sorted := SortForDisplay(tokens, DefaultGranularityLevels())
	ids := make([]string, len(sorted))
	for i, tok := range sorted {
		ids[i] = tok.ID
	}
	assert.Equal(t, []string{"c", "d", "a", "b"}, ids)
	assert.Equal(t, "a", tokens[0].ID, "input must not be reordered")
}
