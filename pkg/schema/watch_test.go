package schema

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/linq2js/remos/pkg/model"
)

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWatcherDeliversReloadedDefinition(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "person.yaml")
	writeFile(t, path, "properties:\n  name: one\n")

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var latest model.Definition
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(def model.Definition, err error) {
			if err != nil {
				return
			}
			mu.Lock()
			latest = def
			mu.Unlock()
		})
	}()

	writeFile(t, path, "properties:\n  name: two\n")

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return latest != nil && latest["name"] == "two"
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestWatcherIgnoresSiblingFiles(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "person.yaml")
	writeFile(t, path, "properties:\n  name: one\n")

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	reloads := 0
	go w.Run(ctx, func(def model.Definition, err error) {
		mu.Lock()
		reloads++
		mu.Unlock()
	})

	writeFile(t, filepath.Join(dir, "other.yaml"), "properties:\n  x: 1\n")
	time.Sleep(200 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	require.Zero(t, reloads, "sibling file changes should not trigger reloads")
}

func TestWatcherSurvivesBrokenFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "person.yaml")
	writeFile(t, path, "properties:\n  name: one\n")

	w, err := NewWatcher(path, WithDebounce(20*time.Millisecond))
	require.NoError(t, err)
	defer w.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		def model.Definition
		err error
	}
	results := make(chan result, 16)
	go w.Run(ctx, func(def model.Definition, err error) {
		results <- result{def, err}
	})

	writeFile(t, path, "properties: [broken")
	select {
	case r := <-results:
		require.Error(t, r.err)
	case <-time.After(5 * time.Second):
		t.Fatal("no callback for broken file")
	}

	writeFile(t, path, "properties:\n  name: fixed\n")
	select {
	case r := <-results:
		require.NoError(t, r.err)
		require.Equal(t, "fixed", r.def["name"])
	case <-time.After(5 * time.Second):
		t.Fatal("no callback after the file was fixed")
	}
}
