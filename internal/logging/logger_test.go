package logging

import (
	"testing"

	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNewLogger(t *testing.T) {
	t.Run("valid level", func(t *testing.T) {
		l, err := NewLogger("warn")
		require.NoError(t, err)
		assert.True(t, l.Core().Enabled(zapcore.WarnLevel))
		assert.False(t, l.Core().Enabled(zapcore.InfoLevel))
	})

	t.Run("invalid level", func(t *testing.T) {
		_, err := NewLogger("loud")
		assert.ErrorContains(t, err, `parsing log level "loud"`)
	})

	t.Run("nop with operation", func(t *testing.T) {
		l := Nop()
		assert.NotNil(t, l.WithOperation("abc"))
		assert.Same(t, l.Logger, l.WithOperation(""))
	})
}

func TestBadgerLogger(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	l := &Logger{zap.New(core)}

	var bl badger.Logger = l.Badger()
	bl.Infof("opened %d tables\n", 3)
	bl.Warningf("slow\n")
	bl.Errorf("broken: %s\n", "disk")

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, zapcore.DebugLevel, entries[0].Level)
	assert.Equal(t, "opened 3 tables", entries[0].Message)
	assert.Equal(t, "badger", entries[0].LoggerName)
	assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
	assert.Equal(t, "broken: disk", entries[2].Message)
}
