// Package token defines the persona token model shared by the draft session,
// the composer and the persistence layer.
package token

import (
	"fmt"
	"math"
	"strings"
	"time"

	apperrors "ppm/src/errors"
)

// Polarity determines whether a token lands in the positive or negative prompt.
type Polarity string

const (
	Positive Polarity = "positive"
	Negative Polarity = "negative"
)

const (
	DefaultWeight = 1.0
	MinWeight     = 0.1
	MaxWeight     = 2.0
)

// Polarities lists both polarities in rendering order.
var Polarities = []Polarity{Positive, Negative}

// ParsePolarity converts a stored or user supplied string into a Polarity.
func ParsePolarity(s string) (Polarity, error) {
	switch p := Polarity(strings.ToLower(strings.TrimSpace(s))); p {
	case Positive, Negative:
		return p, nil
	default:
		return "", apperrors.NewValidationError("polarity", s, "must be positive or negative")
	}
}

func (p Polarity) IsValid() bool {
	return p == Positive || p == Negative
}

func (p Polarity) String() string {
	return string(p)
}

// Token is a single weighted descriptive fragment owned by a persona.
type Token struct {
	ID            string    `json:"id"`
	PersonaID     string    `json:"persona_id"`
	GranularityID string    `json:"granularity_id"`
	Polarity      Polarity  `json:"polarity"`
	Content       string    `json:"content"`
	Weight        float64   `json:"weight"`
	DisplayOrder  int       `json:"display_order"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// HasDefaultWeight reports whether the token renders without a weight modifier.
func (t Token) HasDefaultWeight() bool {
	return math.Abs(t.Weight-DefaultWeight) <= 1e-9
}

// FormatForPrompt renders the token as it appears in a composed prompt,
// e.g. "(red hair:1.2)" when weights are included and the weight is not 1.0.
func (t Token) FormatForPrompt(includeWeight bool) string {
	if includeWeight && !t.HasDefaultWeight() {
		return fmt.Sprintf("(%s:%.1f)", t.Content, t.Weight)
	}
	return t.Content
}

// Apply patches the token with every field present in changes.
// UpdatedAt is left to the caller.
func (t *Token) Apply(changes FieldChanges) {
	if changes.Content != nil {
		t.Content = strings.TrimSpace(*changes.Content)
	}
	if changes.Weight != nil {
		t.Weight = *changes.Weight
	}
	if changes.GranularityID != nil {
		t.GranularityID = *changes.GranularityID
	}
	if changes.Polarity != nil {
		t.Polarity = *changes.Polarity
	}
}

// FieldChanges is a partial update; nil fields are left untouched.
type FieldChanges struct {
	Content       *string   `json:"content,omitempty" toml:"content"`
	Weight        *float64  `json:"weight,omitempty" toml:"weight"`
	GranularityID *string   `json:"granularity_id,omitempty" toml:"granularity_id"`
	Polarity      *Polarity `json:"polarity,omitempty" toml:"polarity"`
}

// IsEmpty reports whether no field is set.
func (c FieldChanges) IsEmpty() bool {
	return c.Content == nil && c.Weight == nil && c.GranularityID == nil && c.Polarity == nil
}

// Merge returns c overlaid with next; fields set in next win.
func (c FieldChanges) Merge(next FieldChanges) FieldChanges {
	merged := c
	if next.Content != nil {
		merged.Content = next.Content
	}
	if next.Weight != nil {
		merged.Weight = next.Weight
	}
	if next.GranularityID != nil {
		merged.GranularityID = next.GranularityID
	}
	if next.Polarity != nil {
		merged.Polarity = next.Polarity
	}
	return merged
}

// CreateRequest carries everything needed to persist a new token.
type CreateRequest struct {
	PersonaID     string   `json:"persona_id" validate:"required"`
	GranularityID string   `json:"granularity_id" validate:"required"`
	Polarity      Polarity `json:"polarity" validate:"required,oneof=positive negative"`
	Content       string   `json:"content" validate:"required"`
	Weight        float64  `json:"weight" validate:"gte=0.1,lte=2.0"`
}

// BatchCreateRequest creates one token per comma separated segment of Contents.
type BatchCreateRequest struct {
	PersonaID     string   `json:"persona_id" validate:"required"`
	GranularityID string   `json:"granularity_id" validate:"required"`
	Polarity      Polarity `json:"polarity" validate:"required,oneof=positive negative"`
	Contents      string   `json:"contents" validate:"required"`
	Weight        float64  `json:"weight" validate:"gte=0.1,lte=2.0"`
}

// ParseContents splits raw comma separated input, trimming every segment
// and dropping the empty ones.
func ParseContents(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if s := strings.TrimSpace(part); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Clone returns a copy of tokens that shares no backing array.
func Clone(tokens []Token) []Token {
	if tokens == nil {
		return nil
	}
	out := make([]Token, len(tokens))
	copy(out, tokens)
	return out
}

// Ptr is a small helper for building FieldChanges literals.
func Ptr[T any](v T) *T {
	return &v
}
