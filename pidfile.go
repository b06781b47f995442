package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
)

// pidLock is the flock-held PID file of a running server. While one is held
// a second serve on the same path refuses to start, and reload finds the
// process to signal.
type pidLock struct {
	path string
	f    *os.File
}

func acquirePIDLock(path string) (*pidLock, error) {
	if path == "" {
		return nil, errors.New("PID file path is empty; cannot determine data directory")
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("creating PID file directory: %w", err)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening PID file: %w", err)
	}

	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		f.Close()

		if errors.Is(err, syscall.EWOULDBLOCK) {
			return nil, fmt.Errorf("another driveindex serve is already running (%s is locked)", path)
		}

		return nil, fmt.Errorf("locking PID file: %w", err)
	}

	l := &pidLock{path: path, f: f}

	if err := l.record(os.Getpid()); err != nil {
		l.release()
		return nil, err
	}

	return l, nil
}

// record replaces the file's content with pid.
func (l *pidLock) record(pid int) error {
	if err := l.f.Truncate(0); err != nil {
		return fmt.Errorf("truncating PID file: %w", err)
	}

	if _, err := l.f.WriteAt([]byte(strconv.Itoa(pid)+"\n"), 0); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}

	return l.f.Sync()
}

// release removes the file before dropping the lock, so a waiting server
// never locks a file that is about to disappear.
func (l *pidLock) release() {
	os.Remove(l.path)
	l.f.Close()
}

func readPIDFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("reading PID file: %w", err)
	}

	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, fmt.Errorf("invalid PID in %s: %q", path, strings.TrimSpace(string(data)))
	}

	return pid, nil
}

// signalServer delivers sig to the server recorded at pidPath. A PID file
// whose process is gone is removed.
func signalServer(pidPath string, sig syscall.Signal) error {
	pid, err := readPIDFile(pidPath)
	if errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("no running server found (no PID file at %s)", pidPath)
	}

	if err != nil {
		return err
	}

	switch err := syscall.Kill(pid, sig); {
	case err == nil:
		return nil
	case errors.Is(err, syscall.ESRCH):
		os.Remove(pidPath)
		return fmt.Errorf("server (PID %d) is not running; removed stale %s", pid, pidPath)
	default:
		return fmt.Errorf("signaling server (PID %d): %w", pid, err)
	}
}
