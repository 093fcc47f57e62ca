package main

import (
	"bytes"
	"errors"
	"sync"
	"testing"

	"solusiemas/api/internal/config"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// syncRecorder is a log sink that remembers whether it was flushed.
type syncRecorder struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	synced bool
}

func (r *syncRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

func (r *syncRecorder) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.synced = true
	return nil
}

func TestServeFlushesLoggerOnFailure(t *testing.T) {
	sink := &syncRecorder{}
	newLogger := func(level string) (*zap.Logger, error) {
		core := zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), sink, zapcore.DebugLevel)
		return zap.New(core), nil
	}

	code := serve(config.Config{Backend: "s3"}, newLogger)

	assert.Equal(t, 1, code)
	assert.True(t, sink.synced, "logger must be flushed before exit")
	assert.Contains(t, sink.buf.String(), "api stopped")
	assert.Contains(t, sink.buf.String(), "s3")
}

func TestServeLoggerFailure(t *testing.T) {
	code := serve(config.Config{}, func(string) (*zap.Logger, error) {
		return nil, errors.New("bad level")
	})
	assert.Equal(t, 1, code)
}
