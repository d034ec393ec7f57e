package configsvc

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testConfig struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestRegisterLoadsAndWatches(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("name: initial\ncount: 1\n"), 0o644))

	svc := New(zap.NewNop())
	go svc.Start(ctx)
	<-svc.Ready()

	// Buffered generously: one write can surface as several fsnotify events.
	updates := make(chan testConfig, 16)
	cfg, err := Register(svc, path, testConfig{}, func(c testConfig, err error) {
		require.NoError(t, err)
		updates <- c
	})
	require.NoError(t, err)
	assert.Equal(t, testConfig{Name: "initial", Count: 1}, cfg)

	require.NoError(t, os.WriteFile(path, []byte("name: updated\ncount: 2\n"), 0o644))
	select {
	case c := <-updates:
		assert.Equal(t, testConfig{Name: "updated", Count: 2}, c)
	case <-time.After(5 * time.Second):
		t.Fatal("no config update received")
	}
}

func TestRegisterMissingFile(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc := New(zap.NewNop())
	go svc.Start(ctx)
	<-svc.Ready()

	def := testConfig{Name: "default"}
	cfg, err := Register(svc, filepath.Join(t.TempDir(), "missing.yaml"), def, func(testConfig, error) {})
	assert.Error(t, err)
	assert.Equal(t, def, cfg)
}
