package tasks

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spawnpoint/spawnpoint/pkg/store"
)

func writeTask(t *testing.T, dir, name string) {
	t.Helper()
	taskDir := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(taskDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(taskDir, "Dockerfile"), []byte("FROM scratch\n"), 0o644))
}

func TestRegisterScansSubdirectories(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "web_task")
	writeTask(t, dir, "pwn_task")
	// A stray file in the tasks dir is not a task.
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("x"), 0o644))

	st, err := store.NewTestStore()
	require.NoError(t, err)
	defer st.Close()

	names, err := Register(context.Background(), st, nil, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"pwn_task", "web_task"}, names)

	task, err := st.FindTask(context.Background(), "web_task")
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, filepath.Join(dir, "web_task", "Dockerfile"), task.DockerfilePath)
}

func TestRegisterSkipsDirsWithoutDockerfile(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "real_task")
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "notes"), 0o755))

	st, err := store.NewTestStore()
	require.NoError(t, err)
	defer st.Close()

	names, err := Register(context.Background(), st, nil, dir)
	require.NoError(t, err)
	assert.Equal(t, []string{"real_task"}, names)

	task, err := st.FindTask(context.Background(), "notes")
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestRegisterIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeTask(t, dir, "web_task")

	st, err := store.NewTestStore()
	require.NoError(t, err)
	defer st.Close()

	_, err = Register(context.Background(), st, nil, dir)
	require.NoError(t, err)
	_, err = Register(context.Background(), st, nil, dir)
	require.NoError(t, err)

	all, err := st.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, all, 1)
}

func TestRegisterMissingDirectory(t *testing.T) {
	st, err := store.NewTestStore()
	require.NoError(t, err)
	defer st.Close()

	_, err = Register(context.Background(), st, nil, filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
