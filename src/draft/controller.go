package draft

import (
	"sync"

	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/ports"
	"ppm/src/token"
)

// Controller owns the single active draft. Opening a draft for another
// persona discards the current one.
type Controller struct {
	mu      sync.Mutex
	gw      ports.TokenGateway
	logger  *zap.Logger
	opts    []Option
	session *Session
}

// NewController returns a controller creating sessions against gw.
func NewController(gw ports.TokenGateway, logger *zap.Logger, opts ...Option) *Controller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Controller{
		gw:     gw,
		logger: logger,
		opts:   append([]Option{WithLogger(logger)}, opts...),
	}
}

// Open starts a draft for personaID over snapshot.
func (c *Controller) Open(personaID string, snapshot []token.Token) (*Session, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.Active() {
		if c.session.PersonaID() == personaID {
			return nil, apperrors.ErrAlreadyActive
		}
		if c.session.HasChanges() {
			c.logger.Info("discarding uncommitted draft",
				zap.String("persona_id", c.session.PersonaID()),
				zap.String("next_persona_id", personaID))
		}
		if _, err := c.session.Discard(); err != nil {
			return nil, err
		}
	}

	s := New(personaID, c.gw, c.opts...)
	if err := s.Start(snapshot); err != nil {
		return nil, err
	}
	c.session = s
	return s, nil
}

// Active returns the current session if one is open.
func (c *Controller) Active() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session == nil || !c.session.Active() {
		return nil, false
	}
	return c.session, true
}

// ActiveFor returns the open session for personaID.
func (c *Controller) ActiveFor(personaID string) (*Session, error) {
	s, ok := c.Active()
	if !ok || s.PersonaID() != personaID {
		return nil, apperrors.ErrNoActiveSession
	}
	return s, nil
}

// Close discards the current session, if any.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.session != nil && c.session.Active() {
		_, _ = c.session.Discard()
	}
	c.session = nil
}
