package composer

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppm/src/token"
)

func tok(id, granularity string, polarity token.Polarity, content string, weight float64, order int) token.Token {
	return token.Token{
		ID:            id,
		PersonaID:     "p1",
		GranularityID: granularity,
		Polarity:      polarity,
		Content:       content,
		Weight:        weight,
		DisplayOrder:  order,
	}
}

func fixture() []token.Token {
	return []token.Token{
		tok("f2", token.Face, token.Positive, "scar", 1.3, 1),
		tok("h1", token.Hair, token.Positive, "red hair", 1.0, 0),
		tok("f1", token.Face, token.Positive, "blue eyes", 1.0, 0),
		tok("s1", token.Style, token.Positive, "masterpiece", 1.2, 0),
		tok("n1", token.Face, token.Negative, "blurry", 1.0, 0),
		tok("n2", token.Style, token.Negative, "lowres", 1.5, 3),
	}
}

func TestComposeSingleCategory(t *testing.T) {
	tokens := []token.Token{
		tok("a", token.Face, token.Positive, "blue eyes", 1.0, 0),
		tok("b", token.Face, token.Positive, "scar", 1.3, 1),
	}
	opts := DefaultOptions()
	opts.GranularityOrder = []string{token.Face}

	got := Compose(tokens, token.DefaultGranularityLevels(), opts)
	assert.Equal(t, "blue eyes, (scar:1.3)", got.PositivePrompt)
	assert.Equal(t, "", got.NegativePrompt)
	assert.Nil(t, got.PositiveTokenCount)
	assert.Nil(t, got.NegativeTokenCount)
}

func TestComposeNaturalOrder(t *testing.T) {
	got := Compose(fixture(), token.DefaultGranularityLevels(), DefaultOptions())

	assert.Equal(t, "(masterpiece:1.2), red hair, blue eyes, (scar:1.3)", got.PositivePrompt)
	assert.Equal(t, "(lowres:1.5), blurry", got.NegativePrompt)

	require.Len(t, got.Breakdown, 3)
	assert.Equal(t, Section{
		GranularityID:  token.Style,
		Name:           "Style",
		Color:          "magenta",
		PositiveTokens: []string{"(masterpiece:1.2)"},
		NegativeTokens: []string{"(lowres:1.5)"},
	}, got.Breakdown[0])
	assert.Equal(t, token.Hair, got.Breakdown[1].GranularityID)
	assert.Nil(t, got.Breakdown[1].NegativeTokens)
	assert.Equal(t, []string{"blue eyes", "(scar:1.3)"}, got.Breakdown[2].PositiveTokens)
}

func TestComposeOptions(t *testing.T) {
	levels := token.DefaultGranularityLevels()

	tests := []struct {
		name         string
		opts         Options
		wantPositive string
		wantNegative string
	}{
		{
			name:         "weights disabled",
			opts:         Options{IncludeWeights: false, Separator: ", "},
			wantPositive: "masterpiece, red hair, blue eyes, scar",
			wantNegative: "lowres, blurry",
		},
		{
			name:         "custom separator",
			opts:         Options{IncludeWeights: true, Separator: " | ", GranularityOrder: []string{token.Hair, token.Face}},
			wantPositive: "red hair | blue eyes | (scar:1.3)",
			wantNegative: "blurry",
		},
		{
			name:         "explicit order reorders categories",
			opts:         Options{IncludeWeights: true, Separator: ", ", GranularityOrder: []string{token.Face, token.Style}},
			wantPositive: "blue eyes, (scar:1.3), (masterpiece:1.2)",
			wantNegative: "blurry, (lowres:1.5)",
		},
		{
			name:         "duplicate ids in order render once",
			opts:         Options{IncludeWeights: true, Separator: ", ", GranularityOrder: []string{token.Hair, token.Hair}},
			wantPositive: "red hair",
			wantNegative: "",
		},
		{
			name: "adhoc at end",
			opts: Options{
				IncludeWeights:   true,
				Separator:        ", ",
				GranularityOrder: []string{token.Hair},
				AdhocPositive:    "  (smile:1.1), outdoors ",
				AdhocNegative:    "watermark",
				AdhocPosition:    AdhocEnd,
			},
			wantPositive: "red hair, (smile:1.1), outdoors",
			wantNegative: "watermark",
		},
		{
			name: "adhoc at beginning",
			opts: Options{
				IncludeWeights:   true,
				Separator:        ", ",
				GranularityOrder: []string{token.Face},
				AdhocPositive:    "portrait",
				AdhocNegative:    "bad hands",
				AdhocPosition:    AdhocBeginning,
			},
			wantPositive: "portrait, blue eyes, (scar:1.3)",
			wantNegative: "bad hands, blurry",
		},
		{
			name: "blank adhoc ignored",
			opts: Options{
				IncludeWeights:   true,
				Separator:        ", ",
				GranularityOrder: []string{token.Hair},
				AdhocPositive:    "   ",
			},
			wantPositive: "red hair",
			wantNegative: "",
		},
		{
			name:         "empty separator joins directly",
			opts:         Options{IncludeWeights: true, GranularityOrder: []string{token.Face, token.Hair}},
			wantPositive: "blue eyes(scar:1.3)red hair",
			wantNegative: "blurry",
		},
		{
			name: "empty separator with adhoc",
			opts: Options{
				IncludeWeights:   false,
				GranularityOrder: []string{token.Face},
				AdhocPositive:    "portrait ",
				AdhocPosition:    AdhocBeginning,
			},
			wantPositive: "portraitblue eyesscar",
			wantNegative: "blurry",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Compose(fixture(), levels, tt.opts)
			assert.Equal(t, tt.wantPositive, got.PositivePrompt)
			assert.Equal(t, tt.wantNegative, got.NegativePrompt)
		})
	}
}

func TestComposeUnknownCategory(t *testing.T) {
	tokens := append(fixture(), tok("x1", "accessories", token.Positive, "glasses", 1.0, 0))

	got := Compose(tokens, token.DefaultGranularityLevels(), DefaultOptions())
	assert.Equal(t, "(masterpiece:1.2), red hair, blue eyes, (scar:1.3), glasses", got.PositivePrompt)

	last := got.Breakdown[len(got.Breakdown)-1]
	assert.Equal(t, "accessories", last.GranularityID)
	assert.Equal(t, UnknownSection, last.Name)
	assert.Equal(t, UnknownColor, last.Color)
}

func TestComposeEmpty(t *testing.T) {
	got := Compose(nil, token.DefaultGranularityLevels(), DefaultOptions())
	assert.Equal(t, "", got.PositivePrompt)
	assert.Equal(t, "", got.NegativePrompt)
	assert.Empty(t, got.Breakdown)
}

func TestComposeIsPure(t *testing.T) {
	tokens := fixture()
	input := token.Clone(tokens)
	opts := DefaultOptions()
	opts.AdhocPositive = "outdoors"

	first, err := json.Marshal(Compose(tokens, token.DefaultGranularityLevels(), opts))
	require.NoError(t, err)
	second, err := json.Marshal(Compose(tokens, token.DefaultGranularityLevels(), opts))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, input, tokens, "input must not be reordered")
}
