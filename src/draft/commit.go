package draft

import (
	"context"

	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/ports"
	"ppm/src/token"
)

// Commit replays the log against the gateway: every delete, then every
// update, then every create. A phase starts only after the previous one
// finished. On success the authoritative token list is fetched, becomes
// the new baseline and the session ends.
//
// On failure the session stays active with its log intact and a
// *errors.CommitError is returned. Ops that already reached the backend are
// marked done and skipped by the next Commit. When the gateway implements
// ports.TxTokenGateway the replay runs in one backend transaction, so a
// failure leaves the backend untouched and nothing is marked done.
func (s *Session) Commit(ctx context.Context) ([]token.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return nil, apperrors.ErrNoActiveSession
	}

	s.logger.Debug("committing draft", zap.Int("ops", len(s.pending)))

	if txGw, ok := s.gw.(ports.TxTokenGateway); ok {
		var acked []ack
		err := txGw.WithinTx(ctx, func(tx ports.TokenGateway) error {
			acked = acked[:0]
			return s.replay(ctx, tx, func(a ack) { acked = append(acked, a) })
		})
		if err != nil {
			s.logger.Warn("draft commit rolled back", zap.Error(err))
			return nil, err
		}
		for _, a := range acked {
			a.apply()
		}
	} else {
		if err := s.replay(ctx, s.gw, func(a ack) { a.apply() }); err != nil {
			s.logger.Warn("draft commit failed",
				zap.Int("committed_ops", s.committedOps()),
				zap.Error(err))
			return nil, err
		}
	}

	fresh, err := s.gw.GetTokensByPersona(ctx, s.personaID)
	if err != nil {
		return nil, apperrors.WrapWithContext(err, "refresh tokens after commit")
	}
	s.end(fresh)

	s.logger.Info("draft committed", zap.Int("tokens", len(fresh)))
	return token.Clone(fresh), nil
}

// ack records a gateway call that succeeded.
type ack struct {
	op          *Operation
	persistedID string
}

func (a ack) apply() {
	a.op.done = true
	if a.persistedID != "" {
		a.op.persistedID = a.persistedID
	}
}

func (s *Session) replay(ctx context.Context, gw ports.TokenGateway, onAck func(ack)) error {
	for _, phase := range commitPhases {
		if err := ctx.Err(); err != nil {
			return &apperrors.CommitError{Phase: phase.String(), Err: err}
		}

		for _, op := range s.pending {
			if op.Kind != phase || op.done {
				continue
			}

			a, err := s.execute(ctx, gw, op)
			if err != nil {
				s.logger.Warn("draft op failed",
					zap.Stringer("op", op.Kind),
					zap.String("token_id", op.TokenID),
					zap.Error(err))
				return &apperrors.CommitError{Phase: phase.String(), TokenID: op.TokenID, Err: err}
			}
			onAck(a)
		}
		s.logger.Debug("commit phase done", zap.Stringer("phase", phase))
	}
	return nil
}

func (s *Session) execute(ctx context.Context, gw ports.TokenGateway, op *Operation) (ack, error) {
	switch op.Kind {
	case OpDelete:
		return ack{op: op}, gw.DeleteToken(ctx, op.TokenID)
	case OpUpdate:
		_, err := gw.UpdateToken(ctx, op.TokenID, op.Changes)
		return ack{op: op}, err
	case OpCreate:
		created, err := gw.CreateToken(ctx, op.createRequest())
		return ack{op: op, persistedID: created.ID}, err
	default:
		return ack{}, apperrors.NewValidationError("op", op.Kind.String(), "unknown operation kind")
	}
}
