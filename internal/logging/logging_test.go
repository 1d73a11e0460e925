package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew(t *testing.T) {
	for _, format := range []string{"json", "console", ""} {
		l, err := New(Config{Level: "debug", Format: format})
		require.NoError(t, err, format)
		assert.True(t, l.Core().Enabled(zap.DebugLevel))
	}

	_, err := New(Config{Level: "loud"})
	assert.Error(t, err)
}

func TestScopedLoggers(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	l := &Logger{Logger: zap.New(core)}

	l.WithComponent("workflow").WithCase("case-1").Info("analyse complete")

	require.Equal(t, 1, logs.Len())
	fields := logs.All()[0].ContextMap()
	assert.Equal(t, "workflow", fields["component"])
	assert.Equal(t, "case-1", fields["case_id"])
}
