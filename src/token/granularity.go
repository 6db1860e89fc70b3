package token

import (
	"sort"
	"time"
)

// GranularityLevel is a named category used to group and order tokens.
type GranularityLevel struct {
	ID           string    `json:"id"`
	Name         string    `json:"name"`
	DisplayOrder int       `json:"display_order"`
	Color        string    `json:"color"`
	IsDefault    bool      `json:"is_default"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Built-in granularity ids.
const (
	Style      = "style"
	General    = "general"
	Hair       = "hair"
	Face       = "face"
	UpperBody  = "upper_body"
	Midsection = "midsection"
	LowerBody  = "lower_body"
)

// DefaultGranularityLevels returns the seven categories every database is seeded with.
func DefaultGranularityLevels() []GranularityLevel {
	return []GranularityLevel{
		{ID: Style, Name: "Style", DisplayOrder: 0, Color: "magenta", IsDefault: true},
		{ID: General, Name: "General", DisplayOrder: 1, Color: "white", IsDefault: true},
		{ID: Hair, Name: "Hair", DisplayOrder: 2, Color: "yellow", IsDefault: true},
		{ID: Face, Name: "Face", DisplayOrder: 3, Color: "cyan", IsDefault: true},
		{ID: UpperBody, Name: "Upper Body", DisplayOrder: 4, Color: "green", IsDefault: true},
		{ID: Midsection, Name: "Midsection", DisplayOrder: 5, Color: "blue", IsDefault: true},
		{ID: LowerBody, Name: "Lower Body", DisplayOrder: 6, Color: "red", IsDefault: true},
	}
}

// SortLevels orders levels by DisplayOrder, then id.
func SortLevels(levels []GranularityLevel) []GranularityLevel {
	out := make([]GranularityLevel, len(levels))
	copy(out, levels)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// LevelIndex maps granularity id to level.
func LevelIndex(levels []GranularityLevel) map[string]GranularityLevel {
	idx := make(map[string]GranularityLevel, len(levels))
	for _, l := range levels {
		idx[l.ID] = l
	}
	return idx
}

// SortForDisplay returns tokens ordered by category (level display order,
// unknown categories last by id), then by DisplayOrder.
func SortForDisplay(tokens []Token, levels []GranularityLevel) []Token {
	idx := LevelIndex(levels)
	rank := func(id string) (int, bool) {
		l, ok := idx[id]
		return l.DisplayOrder, ok
	}

	out := Clone(tokens)
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.GranularityID != b.GranularityID {
			ra, okA := rank(a.GranularityID)
			rb, okB := rank(b.GranularityID)
			switch {
			case okA && okB && ra != rb:
				return ra < rb
			case okA != okB:
				return okA
			default:
				return a.GranularityID < b.GranularityID
			}
		}
		return a.DisplayOrder < b.DisplayOrder
	})
	return out
}
