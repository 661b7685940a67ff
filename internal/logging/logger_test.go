package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	_, err := NewLogger("order-api", "test", "loud")
	assert.Error(t, err)

	l, err := NewLogger("order-api", "test", "debug")
	require.NoError(t, err)
	assert.True(t, l.Core().Enabled(zap.DebugLevel))
}

func TestFromContext(t *testing.T) {
	base := zap.NewNop()
	reqLogger := zap.NewExample()

	assert.Same(t, base, FromContext(context.Background(), base))

	ctx := ContextWithLogger(context.Background(), reqLogger)
	assert.Same(t, reqLogger, FromContext(ctx, base))

	// nil loggers are never stored
	assert.Same(t, base, FromContext(ContextWithLogger(context.Background(), nil), base))
	assert.NotNil(t, FromContext(context.Background(), nil))
}
