// Package draft implements the staged-edit session: token mutations are
// recorded in an ordered log against a snapshot and either replayed
// against the persistence gateway on commit or dropped on discard.
package draft

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/ports"
	"ppm/src/token"
)

// Session is a draft over one persona's tokens.
type Session struct {
	mu sync.Mutex

	personaID string
	gw        ports.TokenGateway
	logger    *zap.Logger
	now       func() time.Time
	newID     func() string

	active   bool
	original []token.Token
	pending  []*Operation
	view     []token.Token
}

// Option configures a Session.
type Option func(*Session)

// WithLogger sets the session logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Session) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) Option {
	return func(s *Session) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides temp id generation. Generated ids are always
// prefixed with TempIDPrefix.
func WithIDGenerator(gen func() string) Option {
	return func(s *Session) {
		if gen != nil {
			s.newID = gen
		}
	}
}

// New returns an inactive session for personaID. Call Start to begin editing.
func New(personaID string, gw ports.TokenGateway, opts ...Option) *Session {
	s := &Session{
		personaID: personaID,
		gw:        gw,
		logger:    zap.NewNop(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("persona_id", personaID))
	return s
}

// PersonaID returns the persona the session edits.
func (s *Session) PersonaID() string {
	return s.personaID
}

// Active reports whether the session was started and not yet ended.
func (s *Session) Active() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// Start captures snapshot as the session baseline.
func (s *Session) Start(snapshot []token.Token) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.active {
		return apperrors.ErrAlreadyActive
	}
	s.active = true
	s.original = token.Clone(snapshot)
	s.pending = nil
	s.recompute()

	s.logger.Debug("draft started", zap.Int("tokens", len(snapshot)))
	return nil
}

// StageBatchCreate stages one Create per non-empty comma separated segment
// of raw. A nil weight means the default weight. It returns the staged
// tokens with their temp ids.
func (s *Session) StageBatchCreate(granularityID string, polarity token.Polarity, raw string, weight *float64) ([]token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil, apperrors.ErrNoActiveSession
	}

	req := token.BatchCreateRequest{
		PersonaID:     s.personaID,
		GranularityID: granularityID,
		Polarity:      polarity,
		Contents:      raw,
	}
	if weight != nil {
		if err := token.ValidateWeight(*weight); err != nil {
			return nil, err
		}
		req.Weight = *weight
	}
	req = req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	contents := token.ParseContents(req.Contents)
	created := make([]token.Token, 0, len(contents))
	for _, content := range contents {
		tok := token.Token{
			ID:            TempIDPrefix + s.newID(),
			PersonaID:     s.personaID,
			GranularityID: req.GranularityID,
			Polarity:      req.Polarity,
			Content:       content,
			Weight:        req.Weight,
			DisplayOrder:  len(s.view),
			CreatedAt:     now,
			UpdatedAt:     now,
		}
		s.pending = append(s.pending, &Operation{
			Kind:     OpCreate,
			TokenID:  tok.ID,
			Payload:  tok,
			StagedAt: now,
		})
		s.recompute()
		created = append(created, tok)
	}

	s.logger.Debug("staged create",
		zap.String("granularity_id", req.GranularityID),
		zap.Stringer("polarity", req.Polarity),
		zap.Int("count", len(created)))
	return created, nil
}

// StageUpdate stages changes for the token id. Changes to a staged create
// are folded into its payload; repeated updates of a persisted token merge
// into one Update, the latest value of each field winning.
func (s *Session) StageUpdate(id string, changes token.FieldChanges) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return apperrors.ErrNoActiveSession
	}
	if err := changes.Validate(); err != nil {
		return err
	}

	now := s.now()
	if op := s.find(OpCreate, id); op != nil {
		if op.done {
			return apperrors.ErrAlreadyCommitted
		}
		op.Payload.Apply(changes)
		op.Payload.UpdatedAt = now
		op.StagedAt = now
		s.recompute()
		return nil
	}

	if op := s.find(OpUpdate, id); op != nil {
		op.Changes = op.Changes.Merge(changes)
		op.StagedAt = now
		// merged changes must reach the backend even if an earlier
		// attempt already applied part of them
		op.done = false
		s.recompute()
		return nil
	}

	if !s.inView(id) {
		return apperrors.ErrTokenNotFound
	}
	original, ok := s.originalByID(id)
	if !ok {
		return apperrors.ErrTokenNotFound
	}
	s.pending = append(s.pending, &Operation{
		Kind:     OpUpdate,
		TokenID:  id,
		Original: original,
		Changes:  changes,
		StagedAt: now,
	})
	s.recompute()
	return nil
}

// StageDelete stages removal of the token id. Deleting a staged create
// cancels it outright; deleting a persisted token supersedes any pending
// update of it.
func (s *Session) StageDelete(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return apperrors.ErrNoActiveSession
	}

	if op := s.find(OpCreate, id); op != nil {
		if op.done {
			return apperrors.ErrAlreadyCommitted
		}
		s.remove(op)
		s.recompute()
		return nil
	}

	if !s.inView(id) {
		return apperrors.ErrTokenNotFound
	}
	original, ok := s.originalByID(id)
	if !ok {
		return apperrors.ErrTokenNotFound
	}
	if op := s.find(OpUpdate, id); op != nil {
		s.remove(op)
	}
	s.pending = append(s.pending, &Operation{
		Kind:     OpDelete,
		TokenID:  id,
		Original: original,
		StagedAt: s.now(),
	})
	s.recompute()
	return nil
}

// CurrentView returns the materialized token list in log order. Callers
// sort it with token.SortForDisplay. It stays readable after the session
// ended and then reflects the committed or restored state.
func (s *Session) CurrentView() []token.Token {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token.Clone(s.view)
}

// Pending returns a copy of the operation log.
func (s *Session) Pending() []Operation {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Operation, len(s.pending))
	for i, op := range s.pending {
		out[i] = *op
	}
	return out
}

// HasChanges reports whether anything is staged.
func (s *Session) HasChanges() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending) > 0
}

// Discard drops the log, restores the snapshot and ends the session.
func (s *Session) Discard() ([]token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil, apperrors.ErrNoActiveSession
	}
	if n := s.committedOps(); n > 0 {
		s.logger.Warn("discarding draft after partial commit", zap.Int("committed_ops", n))
	}
	s.pending = nil
	s.recompute()
	s.active = false

	s.logger.Debug("draft discarded")
	return token.Clone(s.view), nil
}

// recompute rebuilds view from the snapshot and the log.
func (s *Session) recompute() {
	view := token.Clone(s.original)
	for _, op := range s.pending {
		switch op.Kind {
		case OpCreate:
			view = append(view, op.Payload)
		case OpUpdate:
			for i := range view {
				if view[i].ID == op.TokenID {
					view[i].Apply(op.Changes)
					view[i].UpdatedAt = op.StagedAt
					break
				}
			}
		case OpDelete:
			for i := range view {
				if view[i].ID == op.TokenID {
					view = append(view[:i], view[i+1:]...)
					break
				}
			}
		}
	}
	s.view = view
}

func (s *Session) find(kind OpKind, id string) *Operation {
	for _, op := range s.pending {
		if op.Kind == kind && op.TokenID == id {
			return op
		}
	}
	return nil
}

func (s *Session) remove(target *Operation) {
	for i, op := range s.pending {
		if op == target {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func (s *Session) inView(id string) bool {
	for _, t := range s.view {
		if t.ID == id {
			return true
		}
	}
	return false
}

func (s *Session) originalByID(id string) (token.Token, bool) {
	for _, t := range s.original {
		if t.ID == id {
			return t, true
		}
	}
	return token.Token{}, false
}

func (s *Session) committedOps() int {
	n := 0
	for _, op := range s.pending {
		if op.done {
			n++
		}
	}
	return n
}

// end replaces the baseline with the authoritative state and closes the session.
func (s *Session) end(fresh []token.Token) {
	s.original = token.Clone(fresh)
	s.pending = nil
	s.recompute()
	s.active = false
}
