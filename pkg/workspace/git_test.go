package workspace

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestWorkspace(t *testing.T) *Workspace {
	t.Helper()
	if _, err := exec.LookPath("git"); err != nil {
		t.Skip("git not installed")
	}
	w := New(t.TempDir())
	require.NoError(t, w.Init(context.Background()))
	return w
}

func TestInitIsIdempotent(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkspace(t)

	head1, err := w.Head(ctx)
	require.NoError(t, err)

	require.NoError(t, w.Init(ctx))
	head2, err := w.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, head1, head2)
}

func TestSnapshotAndRestore(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkspace(t)

	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "main.go"), []byte("package main\n"), 0o644))
	sha1, err := w.Snapshot(ctx, "add main")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "main.go"), []byte("package main // broken\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "junk.txt"), []byte("scratch"), 0o644))
	sha2, err := w.Snapshot(ctx, "break main")
	require.NoError(t, err)
	assert.NotEqual(t, sha1, sha2)

	require.NoError(t, w.Restore(ctx, sha1))

	content, err := os.ReadFile(filepath.Join(w.Dir(), "main.go"))
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(content))
	_, err = os.Stat(filepath.Join(w.Dir(), "junk.txt"))
	assert.True(t, os.IsNotExist(err))

	head, err := w.Head(ctx)
	require.NoError(t, err)
	assert.Equal(t, sha1, head)
}

func TestSnapshotOfCleanTree(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkspace(t)

	sha1, err := w.Snapshot(ctx, "checkpoint a")
	require.NoError(t, err)
	sha2, err := w.Snapshot(ctx, "checkpoint b")
	require.NoError(t, err)
	assert.NotEqual(t, sha1, sha2)
}

func TestRestoreRejectsBadRef(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkspace(t)

	assert.Error(t, w.Restore(ctx, "$(reboot)"))
	assert.Error(t, w.Restore(ctx, "--hard"))
	_, err := w.Diff(ctx, "; rm -rf /")
	assert.Error(t, err)
}

func TestChangedFiles(t *testing.T) {
	ctx := context.Background()
	w := newTestWorkspace(t)

	base, err := w.Snapshot(ctx, "base")
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "a.go"), []byte("package a\n"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(w.Dir(), "b.go"), []byte("package b\n"), 0o644))
	_, err = w.Snapshot(ctx, "add files")
	require.NoError(t, err)

	files, err := w.ChangedFiles(ctx, base)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a.go", "b.go"}, files)
}
