package draft

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	apperrors "ppm/src/errors"
	"ppm/src/token"
)

func TestControllerOpenSwitchesPersona(t *testing.T) {
	c := NewController(newFakeGateway(), zap.NewNop())

	first, err := c.Open("p1", snapshot())
	require.NoError(t, err)
	_, err = first.StageBatchCreate(token.Face, token.Positive, "freckles", nil)
	require.NoError(t, err)

	_, err = c.Open("p1", snapshot())
	assert.ErrorIs(t, err, apperrors.ErrAlreadyActive)

	second, err := c.Open("p2", nil)
	require.NoError(t, err)

	assert.False(t, first.Active(), "switching persona discards the previous draft")
	assert.Equal(t, snapshot(), first.CurrentView())

	active, ok := c.Active()
	require.True(t, ok)
	assert.Same(t, second, active)

	_, err = c.ActiveFor("p1")
	assert.ErrorIs(t, err, apperrors.ErrNoActiveSession)
	got, err := c.ActiveFor("p2")
	require.NoError(t, err)
	assert.Same(t, second, got)
}

func TestControllerClose(t *testing.T) {
	c := NewController(newFakeGateway(), nil)

	s, err := c.Open("p1", snapshot())
	require.NoError(t, err)
	c.Close()

	assert.False(t, s.Active())
	_, ok := c.Active()
	assert.False(t, ok)

	_, err = c.Open("p1", snapshot())
	assert.NoError(t, err)
}
