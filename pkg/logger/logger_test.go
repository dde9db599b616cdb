package logger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewEnvironments(t *testing.T) {
	for _, env := range []string{"prod", "local", "dev", "docker"} {
		l, err := New(env, "")
		require.NoError(t, err, env)
		assert.NotNil(t, l)
	}

	_, err := New("staging", "")
	assert.ErrorContains(t, err, "unknown environment")
}

func TestNewLevelOverride(t *testing.T) {
	l, err := New("prod", "warn")
	require.NoError(t, err)
	assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, l.Core().Enabled(zapcore.WarnLevel))

	_, err = New("prod", "loud")
	assert.ErrorContains(t, err, "invalid level")
}

func TestContextRoundTrip(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	l := zap.New(core)

	ctx := WithContext(context.Background(), l)
	FromContext(ctx).Info("hello")
	assert.Equal(t, 1, logs.Len())

	assert.NotPanics(t, func() { FromContext(context.Background()).Info("dropped") })
	assert.NotPanics(t, func() { OrNop(nil).Info("dropped") })
	assert.Same(t, l, OrNop(l))
}
