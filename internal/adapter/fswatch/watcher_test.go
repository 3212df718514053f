package fswatch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type collector struct {
	mu      sync.Mutex
	batches [][]Change
	notify  chan struct{}
}

func newCollector() *collector {
	return &collector{notify: make(chan struct{}, 16)}
}

func (c *collector) handle(changes []Change) {
	c.mu.Lock()
	c.batches = append(c.batches, changes)
	c.mu.Unlock()
	c.notify <- struct{}{}
}

func (c *collector) wait(t *testing.T) []Change {
	t.Helper()
	select {
	case <-c.notify:
	case <-time.After(5 * time.Second):
		t.Fatal("no change batch delivered")
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.batches[len(c.batches)-1]
}

func TestDedupe(t *testing.T) {
	in := []Change{
		{Path: "a.uva", Op: OpCreate},
		{Path: "b.uva", Op: OpWrite},
		{Path: "a.uva", Op: OpWrite},
	}
	out := dedupe(in)
	require.Len(t, out, 2)
	assert.Equal(t, Change{Path: "a.uva", Op: OpWrite}, out[0])
	assert.Equal(t, "b.uva", out[1].Path)
}

func TestRelevant(t *testing.T) {
	dir := t.TempDir()
	cfg := filepath.Join(dir, "uvalens.yaml")
	w, err := New(dir, nil, Options{Extensions: []string{".uva"}, Files: []string{cfg}})
	require.NoError(t, err)
	defer w.Stop()

	assert.True(t, w.relevant(filepath.Join(dir, "main.uva")))
	assert.True(t, w.relevant(filepath.Join(dir, "MAIN.UVA")))
	assert.True(t, w.relevant(cfg))
	assert.False(t, w.relevant(filepath.Join(dir, "notes.txt")))
	assert.False(t, w.relevant(filepath.Join(dir, "main.uva.swp")))
}

func TestOpString(t *testing.T) {
	assert.Equal(t, "create", OpCreate.String())
	assert.Equal(t, "rename", OpRename.String())
	assert.Equal(t, "unknown", Op(42).String())
}

func TestWatcher_DebouncesWrites(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	w, err := New(dir, c.handle, Options{Debounce: 50 * time.Millisecond, Extensions: []string{".uva"}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	path := filepath.Join(dir, "main.uva")
	for i := range 3 {
		require.NoError(t, os.WriteFile(path, []byte{byte('a' + i)}, 0o600))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("x"), 0o600))

	batch := c.wait(t)
	require.Len(t, batch, 1)
	assert.Equal(t, path, batch[0].Path)
}

func TestWatcher_NewSubdirectory(t *testing.T) {
	dir := t.TempDir()
	c := newCollector()
	w, err := New(dir, c.handle, Options{Debounce: 20 * time.Millisecond, Extensions: []string{".uva"}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	sub := filepath.Join(dir, "pkg")
	require.NoError(t, os.Mkdir(sub, 0o750))
	time.Sleep(100 * time.Millisecond)

	path := filepath.Join(sub, "lib.uva")
	require.NoError(t, os.WriteFile(path, []byte("fn lib() {}"), 0o600))

	batch := c.wait(t)
	assert.Equal(t, path, batch[len(batch)-1].Path)
}

func TestWatcher_ExtraFile(t *testing.T) {
	root := t.TempDir()
	cfgDir := t.TempDir()
	cfg := filepath.Join(cfgDir, "uvalens.yaml")
	require.NoError(t, os.WriteFile(cfg, []byte("logging:\n  level: info\n"), 0o600))

	c := newCollector()
	w, err := New(root, c.handle, Options{Debounce: 20 * time.Millisecond, Extensions: []string{".uva"}, Files: []string{cfg}})
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	require.NoError(t, w.Start(ctx))
	defer w.Stop()

	require.NoError(t, os.WriteFile(filepath.Join(cfgDir, "other.yaml"), []byte("x"), 0o600))
	require.NoError(t, os.WriteFile(cfg, []byte("logging:\n  level: debug\n"), 0o600))

	batch := c.wait(t)
	require.Len(t, batch, 1)
	assert.Equal(t, cfg, batch[0].Path)
}
