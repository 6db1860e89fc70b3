// Package composer renders a persona's tokens into positive and negative
// prompt text. Compose is pure: no I/O, no shared state.
package composer

import (
	"sort"
	"strings"

	"ppm/src/token"
)

// AdhocPosition selects where free-form text is spliced into a prompt.
type AdhocPosition string

const (
	AdhocBeginning AdhocPosition = "beginning"
	AdhocEnd       AdhocPosition = "end"
)

// DefaultSeparator joins rendered tokens.
const DefaultSeparator = ", "

// UnknownSection names tokens whose category is not a known level.
const (
	UnknownSection = "Unknown"
	UnknownColor   = "base"
)

// Options control rendering.
type Options struct {
	IncludeWeights bool   `json:"include_weights"`
	Separator      string `json:"separator"`
	// GranularityOrder restricts and orders the categories rendered.
	// Empty means every category in level display order.
	GranularityOrder []string      `json:"granularity_order,omitempty"`
	AdhocPositive    string        `json:"adhoc_positive,omitempty"`
	AdhocNegative    string        `json:"adhoc_negative,omitempty"`
	AdhocPosition    AdhocPosition `json:"adhoc_position"`
}

// DefaultOptions returns weights on, ", " separator, ad-hoc text at the end.
func DefaultOptions() Options {
	return Options{
		IncludeWeights: true,
		Separator:      DefaultSeparator,
		AdhocPosition:  AdhocEnd,
	}
}

// Section is the breakdown of one category.
type Section struct {
	GranularityID  string   `json:"granularity_id"`
	Name           string   `json:"name"`
	Color          string   `json:"color"`
	PositiveTokens []string `json:"positive_tokens"`
	NegativeTokens []string `json:"negative_tokens"`
}

// ComposedPrompt is the output of Compose. The token counts are left nil
// here and filled in by a tokenizer afterwards.
type ComposedPrompt struct {
	PositivePrompt     string    `json:"positive_prompt"`
	NegativePrompt     string    `json:"negative_prompt"`
	Breakdown          []Section `json:"breakdown"`
	PositiveTokenCount *int      `json:"positive_token_count"`
	NegativeTokenCount *int      `json:"negative_token_count"`
}

// Compose renders tokens grouped by category, in category order then
// DisplayOrder, joined with the separator. levels supplies category names,
// colors and the natural order.
func Compose(tokens []token.Token, levels []token.GranularityLevel, opts Options) ComposedPrompt {
	opts = normalize(opts)
	index := token.LevelIndex(levels)

	byCategory := make(map[string][]token.Token)
	for _, t := range tokens {
		byCategory[t.GranularityID] = append(byCategory[t.GranularityID], t)
	}

	var (
		positive  []string
		negative  []string
		breakdown []Section
	)
	for _, id := range categoryOrder(opts.GranularityOrder, levels, byCategory) {
		group := byCategory[id]
		if len(group) == 0 {
			continue
		}
		sortByDisplayOrder(group)

		section := newSection(id, index)
		for _, t := range group {
			rendered := t.FormatForPrompt(opts.IncludeWeights)
			switch t.Polarity {
			case token.Positive:
				section.PositiveTokens = append(section.PositiveTokens, rendered)
				positive = append(positive, rendered)
			case token.Negative:
				section.NegativeTokens = append(section.NegativeTokens, rendered)
				negative = append(negative, rendered)
			}
		}
		breakdown = append(breakdown, section)
	}

	return ComposedPrompt{
		PositivePrompt: splice(positive, opts.AdhocPositive, opts),
		NegativePrompt: splice(negative, opts.AdhocNegative, opts),
		Breakdown:      breakdown,
	}
}

// normalize treats any position other than beginning as end. The separator
// is used as given, so callers wanting ", " start from DefaultOptions.
func normalize(opts Options) Options {
	if opts.AdhocPosition != AdhocBeginning {
		opts.AdhocPosition = AdhocEnd
	}
	return opts
}

// categoryOrder returns the explicit order without duplicates, or every
// level by display order followed by categories seen only in tokens.
func categoryOrder(explicit []string, levels []token.GranularityLevel, present map[string][]token.Token) []string {
	seen := make(map[string]bool)
	var order []string
	add := func(id string) {
		if !seen[id] {
			seen[id] = true
			order = append(order, id)
		}
	}

	if len(explicit) > 0 {
		for _, id := range explicit {
			add(id)
		}
		return order
	}

	for _, l := range token.SortLevels(levels) {
		add(l.ID)
	}
	var unknown []string
	for id := range present {
		if !seen[id] {
			unknown = append(unknown, id)
		}
	}
	sort.Strings(unknown)
	for _, id := range unknown {
		add(id)
	}
	return order
}

func sortByDisplayOrder(group []token.Token) {
	sort.SliceStable(group, func(i, j int) bool {
		if group[i].DisplayOrder != group[j].DisplayOrder {
			return group[i].DisplayOrder < group[j].DisplayOrder
		}
		return group[i].ID < group[j].ID
	})
}

func newSection(id string, index map[string]token.GranularityLevel) Section {
	level, ok := index[id]
	if !ok {
		return Section{GranularityID: id, Name: UnknownSection, Color: UnknownColor}
	}
	color := level.Color
	if color == "" {
		color = UnknownColor
	}
	return Section{GranularityID: id, Name: level.Name, Color: color}
}

// splice joins the rendered tokens and adds ad-hoc text verbatim.
func splice(rendered []string, adhoc string, opts Options) string {
	base := strings.Join(rendered, opts.Separator)
	adhoc = strings.TrimSpace(adhoc)

	switch {
	case adhoc == "":
		return base
	case base == "":
		return adhoc
	case opts.AdhocPosition == AdhocBeginning:
		return adhoc + opts.Separator + base
	default:
		return base + opts.Separator + adhoc
	}
}
