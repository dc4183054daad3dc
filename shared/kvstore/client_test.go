package kvstore

import (
	"bytes"
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewClient_InMemory(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))

	client, err := NewClient(&Config{InMemory: true}, logger)
	require.NoError(t, err)
	require.NotNil(t, client.GetDB())

	require.NoError(t, client.HealthCheck(context.Background()))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, client.HealthCheck(ctx), context.Canceled)

	require.NoError(t, client.Close())
	assert.Error(t, client.HealthCheck(context.Background()))
}

func TestBadgerLogger(t *testing.T) {
	var buf bytes.Buffer
	l := &badgerLogger{logger: slog.New(slog.NewTextHandler(&buf, &slog.HandlerOptions{Level: slog.LevelDebug}))}

	l.Errorf("compaction failed: %s\n", "disk full")
	l.Warningf("slow write %d", 3)
	l.Infof("opened")
	l.Debugf("tick")

	out := buf.String()
	assert.Contains(t, out, "level=ERROR")
	assert.Contains(t, out, `msg="compaction failed: disk full"`)
	assert.Contains(t, out, "level=WARN")
	assert.Contains(t, out, "msg=opened")
	assert.Contains(t, out, "msg=tick")
}
