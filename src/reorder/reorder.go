// Package reorder recomputes contiguous display orders after a drag-drop
// and pushes them to the backend as one batch, rolling local state back
// when the backend rejects it.
package reorder

import (
	"context"
	"fmt"
	"sort"

	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/ports"
	"ppm/src/token"
)

// Group returns the tokens of one polarity sorted by DisplayOrder.
func Group(tokens []token.Token, polarity token.Polarity) []token.Token {
	var out []token.Token
	for _, t := range tokens {
		if t.Polarity == polarity {
			out = append(out, t)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].DisplayOrder != out[j].DisplayOrder {
			return out[i].DisplayOrder < out[j].DisplayOrder
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Batch assigns each id its index in ordered.
func Batch(ordered []string) []ports.ReorderEntry {
	batch := make([]ports.ReorderEntry, len(ordered))
	for i, id := range ordered {
		batch[i] = ports.ReorderEntry{TokenID: id, DisplayOrder: i}
	}
	return batch
}

// Move returns the ids of one polarity group in the order produced by
// dragging the token at index from to index to.
func Move(tokens []token.Token, polarity token.Polarity, from, to int) ([]string, error) {
	group := Group(tokens, polarity)
	if from < 0 || from >= len(group) {
		return nil, apperrors.NewValidationError("from", from, fmt.Sprintf("must be in [0, %d)", len(group)))
	}
	if to < 0 || to >= len(group) {
		return nil, apperrors.NewValidationError("to", to, fmt.Sprintf("must be in [0, %d)", len(group)))
	}

	ids := make([]string, 0, len(group))
	for _, t := range group {
		ids = append(ids, t.ID)
	}
	moved := ids[from]
	ids = append(ids[:from], ids[from+1:]...)
	ids = append(ids[:to], append([]string{moved}, ids[to:]...)...)
	return ids, nil
}

// Apply returns a copy of tokens with the batch's display orders set.
func Apply(tokens []token.Token, batch []ports.ReorderEntry) []token.Token {
	orders := make(map[string]int, len(batch))
	for _, e := range batch {
		orders[e.TokenID] = e.DisplayOrder
	}
	out := token.Clone(tokens)
	for i := range out {
		if order, ok := orders[out[i].ID]; ok {
			out[i].DisplayOrder = order
		}
	}
	return out
}

// Reconciler applies reorders optimistically.
type Reconciler struct {
	gw     ports.Reorderer
	logger *zap.Logger
}

// NewReconciler returns a Reconciler sending batches to gw.
func NewReconciler(gw ports.Reorderer, logger *zap.Logger) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{gw: gw, logger: logger}
}

// Reorder sets the display orders of the polarity group to the positions
// in newOrder, which must list every token of the group exactly once.
// Tokens of the other polarity keep their orders. The reordered list is
// returned on success; on gateway failure current is returned unchanged
// together with the error.
func (r *Reconciler) Reorder(ctx context.Context, personaID string, polarity token.Polarity, current []token.Token, newOrder []string) ([]token.Token, error) {
	if err := checkPermutation(Group(current, polarity), newOrder); err != nil {
		return current, err
	}

	snapshot := token.Clone(current)
	batch := Batch(newOrder)
	optimistic := Apply(current, batch)

	if err := r.gw.ReorderTokens(ctx, personaID, batch); err != nil {
		r.logger.Warn("reorder rejected, restoring previous order",
			zap.String("persona_id", personaID),
			zap.Stringer("polarity", polarity),
			zap.Error(err))
		return snapshot, apperrors.WrapWithContext(err, "reorder %s tokens", polarity)
	}

	r.logger.Debug("reordered tokens",
		zap.String("persona_id", personaID),
		zap.Stringer("polarity", polarity),
		zap.Int("count", len(batch)))
	return optimistic, nil
}

func checkPermutation(group []token.Token, ids []string) error {
	if len(group) != len(ids) {
		return apperrors.NewValidationError("order", len(ids),
			fmt.Sprintf("expected %d token ids", len(group)))
	}
	want := make(map[string]bool, len(group))
	for _, t := range group {
		want[t.ID] = true
	}
	for _, id := range ids {
		if !want[id] {
			return apperrors.NewValidationError("order", id, "not in this polarity group or repeated")
		}
		delete(want, id)
	}
	return nil
}
