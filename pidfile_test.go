package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePIDLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run", "serve.pid")

	lock, err := acquirePIDLock(path)
	require.NoError(t, err)

	pid, err := readPIDFile(path)
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), pid)

	_, err = acquirePIDLock(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "another driveindex serve is already running")

	lock.release()

	_, err = os.Stat(path)
	assert.ErrorIs(t, err, os.ErrNotExist)

	lock, err = acquirePIDLock(path)
	require.NoError(t, err)
	lock.release()
}

func TestAcquirePIDLock_OverwritesLongerStaleContent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "serve.pid")
	require.NoError(t, os.WriteFile(path, []byte("123456789012345\n"), 0o644))

	lock, err := acquirePIDLock(path)
	require.NoError(t, err)
	t.Cleanup(lock.release)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(os.Getpid())+"\n", string(data))
}

func TestAcquirePIDLock_EmptyPath(t *testing.T) {
	_, err := acquirePIDLock("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")
}

func TestReadPIDFile(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{"valid", "12345\n", 12345, false},
		{"whitespace", "  42  ", 42, false},
		{"garbage", "not-a-pid\n", 0, true},
		{"zero", "0\n", 0, true},
		{"negative", "-1\n", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(dir, tt.name+".pid")
			require.NoError(t, os.WriteFile(path, []byte(tt.content), 0o644))

			pid, err := readPIDFile(path)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "invalid PID")

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, pid)
		})
	}

	_, err := readPIDFile(filepath.Join(dir, "absent.pid"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestSignalServer(t *testing.T) {
	t.Run("no PID file", func(t *testing.T) {
		err := signalServer(filepath.Join(t.TempDir(), "absent.pid"), syscall.SIGHUP)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no running server")
	})

	t.Run("stale PID file is removed", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "serve.pid")
		// Far above any real pid_max.
		require.NoError(t, os.WriteFile(path, []byte("999999999\n"), 0o644))

		err := signalServer(path, syscall.SIGHUP)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not running")

		_, statErr := os.Stat(path)
		assert.ErrorIs(t, statErr, os.ErrNotExist)
	})

	t.Run("delivers", func(t *testing.T) {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGUSR1)
		defer signal.Stop(sigCh)

		path := filepath.Join(t.TempDir(), "serve.pid")
		require.NoError(t, os.WriteFile(path, []byte(strconv.Itoa(os.Getpid())), 0o644))

		require.NoError(t, signalServer(path, syscall.SIGUSR1))
		assert.Equal(t, syscall.SIGUSR1, <-sigCh)
	})
}

func TestReloadCmd(t *testing.T) {
	t.Run("signals the lock holder", func(t *testing.T) {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGHUP)
		defer signal.Stop(sigCh)

		path := filepath.Join(t.TempDir(), "serve.pid")
		lock, err := acquirePIDLock(path)
		require.NoError(t, err)
		defer lock.release()

		_, err = runCLI(t, "", "reload", "--pid-file", path)
		require.NoError(t, err)
		assert.Equal(t, syscall.SIGHUP, <-sigCh)
	})

	t.Run("no server", func(t *testing.T) {
		_, err := runCLI(t, "", "reload", "--pid-file", filepath.Join(t.TempDir(), "serve.pid"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "no running server")
	})
}
