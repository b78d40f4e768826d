package utils

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPIDFile_WriteReadRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "authserver.pid")
	p := NewPIDFile(path)
	assert.Equal(t, path, p.Path())

	require.NoError(t, p.Write())
	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid()), strings.TrimSpace(string(raw)))

	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	// rewriting our own pid is allowed
	require.NoError(t, p.Write())

	require.NoError(t, p.Remove())
	_, err = os.Stat(path)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, p.Remove())
}

func TestPIDFile_StaleIsOverwritten(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authserver.pid")
	require.NoError(t, os.WriteFile(path, []byte("999999"), 0644))

	p := NewPIDFile(path)
	require.NoError(t, p.Write())
	pid, err := p.Read()
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)
}

func TestPIDFile_ReadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := NewPIDFile("").Read()
	assert.ErrorContains(t, err, "PID file path is empty")

	_, err = NewPIDFile(filepath.Join(dir, "missing.pid")).Read()
	assert.ErrorContains(t, err, "failed to read PID file")

	bad := filepath.Join(dir, "bad.pid")
	require.NoError(t, os.WriteFile(bad, []byte("invalid"), 0644))
	_, err = NewPIDFile(bad).Read()
	assert.ErrorContains(t, err, "invalid PID format")

	zero := filepath.Join(dir, "zero.pid")
	require.NoError(t, os.WriteFile(zero, []byte("0"), 0644))
	_, err = NewPIDFile(zero).Read()
	assert.ErrorContains(t, err, "invalid PID value")
}

func TestPIDFile_Signal(t *testing.T) {
	path := filepath.Join(t.TempDir(), "authserver.pid")
	p := NewPIDFile(path)
	require.NoError(t, p.Write())
	assert.NoError(t, p.Signal(syscall.Signal(0)))

	require.NoError(t, os.WriteFile(path, []byte("999999"), 0644))
	assert.ErrorContains(t, p.Signal(syscall.SIGHUP), "failed to send signal")
}
