package reorder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	apperrors "ppm/src/errors"
	"ppm/src/ports"
	"ppm/src/token"
)

type mockReorderer struct {
	mock.Mock
}

func (m *mockReorderer) ReorderTokens(ctx context.Context, personaID string, batch []ports.ReorderEntry) error {
	args := m.Called(ctx, personaID, batch)
	return args.Error(0)
}

func tokens() []token.Token {
	return []token.Token{
		{ID: "a", Polarity: token.Positive, DisplayOrder: 0},
		{ID: "b", Polarity: token.Positive, DisplayOrder: 2},
		{ID: "n1", Polarity: token.Negative, DisplayOrder: 7},
		{ID: "c", Polarity: token.Positive, DisplayOrder: 5},
		{ID: "d", Polarity: token.Positive, DisplayOrder: 6},
		{ID: "e", Polarity: token.Positive, DisplayOrder: 9},
		{ID: "n2", Polarity: token.Negative, DisplayOrder: 3},
	}
}

func orders(tokens []token.Token) map[string]int {
	out := make(map[string]int, len(tokens))
	for _, t := range tokens {
		out[t.ID] = t.DisplayOrder
	}
	return out
}

func TestMove(t *testing.T) {
	tests := []struct {
		name     string
		from, to int
		want     []string
	}{
		{"down", 0, 3, []string{"b", "c", "d", "a", "e"}},
		{"up", 4, 1, []string{"a", "e", "b", "c", "d"}},
		{"same place", 2, 2, []string{"a", "b", "c", "d", "e"}},
		{"to end", 1, 4, []string{"a", "c", "d", "e", "b"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Move(tokens(), token.Positive, tt.from, tt.to)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := Move(tokens(), token.Negative, 0, 2)
	assert.True(t, apperrors.IsValidation(err))
}

func TestReorderContiguity(t *testing.T) {
	gw := new(mockReorderer)
	newOrder := []string{"d", "a", "e", "b", "c"}
	gw.On("ReorderTokens", mock.Anything, "p1", []ports.ReorderEntry{
		{TokenID: "d", DisplayOrder: 0},
		{TokenID: "a", DisplayOrder: 1},
		{TokenID: "e", DisplayOrder: 2},
		{TokenID: "b", DisplayOrder: 3},
		{TokenID: "c", DisplayOrder: 4},
	}).Return(nil).Once()

	r := NewReconciler(gw, nil)
	got, err := r.Reorder(context.Background(), "p1", token.Positive, tokens(), newOrder)
	require.NoError(t, err)
	gw.AssertExpectations(t)

	group := Group(got, token.Positive)
	for i, tok := range group {
		assert.Equal(t, i, tok.DisplayOrder)
		assert.Equal(t, newOrder[i], tok.ID)
	}

	o := orders(got)
	assert.Equal(t, 7, o["n1"], "negative group untouched")
	assert.Equal(t, 3, o["n2"], "negative group untouched")
}

func TestReorderRollsBackOnFailure(t *testing.T) {
	gw := new(mockReorderer)
	boom := errors.New("database is locked")
	gw.On("ReorderTokens", mock.Anything, "p1", mock.Anything).Return(boom).Once()

	current := tokens()
	r := NewReconciler(gw, nil)
	got, err := r.Reorder(context.Background(), "p1", token.Positive, current, []string{"e", "d", "c", "b", "a"})

	require.ErrorIs(t, err, boom)
	assert.Equal(t, tokens(), got)
	assert.Equal(t, tokens(), current, "caller state untouched")
	gw.AssertExpectations(t)
}

func TestReorderRejectsBadPermutation(t *testing.T) {
	tests := []struct {
		name  string
		order []string
	}{
		{"missing id", []string{"a", "b", "c", "d"}},
		{"foreign id", []string{"a", "b", "c", "d", "n1"}},
		{"repeated id", []string{"a", "a", "c", "d", "e"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw := new(mockReorderer)
			r := NewReconciler(gw, nil)

			_, err := r.Reorder(context.Background(), "p1", token.Positive, tokens(), tt.order)
			require.Error(t, err)
			assert.True(t, apperrors.IsValidation(err))
			gw.AssertNotCalled(t, "ReorderTokens", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}
