package logging

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestFromContext(t *testing.T) {
	log := zap.NewNop().Sugar()
	ctx := WithLogger(context.Background(), log)
	assert.Same(t, log, FromContext(ctx))
	assert.NotNil(t, FromContext(context.Background()))
}

func TestNewLogger_Debug(t *testing.T) {
	t.Setenv(EnvDebug, "true")
	log := NewLogger()
	assert.NotNil(t, log)
	assert.True(t, log.Desugar().Core().Enabled(zap.DebugLevel))
}
