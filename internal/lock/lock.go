package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"
)

// FileName is the lock file created inside a profile directory.
const FileName = "daemon.lock"

// Owner describes the daemon holding a profile lock.
type Owner struct {
	PID     int
	Started time.Time
	Socket  string
}

// HeldError is returned when another daemon already owns the profile.
type HeldError struct {
	Owner Owner
	Path  string
}

func (e *HeldError) Error() string {
	return fmt.Sprintf("profile is owned by daemon PID %d since %s (%s)",
		e.Owner.PID, e.Owner.Started.Format(time.RFC3339), e.Path)
}

// Lock is an acquired profile lock.
type Lock struct {
	file *os.File
	path string
}

// Acquire takes the exclusive lock of a profile directory and records the
// calling process as its owner. socket is the control socket it will serve.
func Acquire(profileDir, socket string) (*Lock, error) {
	if err := os.MkdirAll(profileDir, 0700); err != nil {
		return nil, fmt.Errorf("create profile dir: %w", err)
	}
	path := filepath.Join(profileDir, FileName)

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("open lock file: %w", err)
	}
	if err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = f.Close()
		owner, _ := ReadOwner(profileDir)
		held := &HeldError{Path: path}
		if owner != nil {
			held.Owner = *owner
		}
		return nil, held
	}

	owner := Owner{PID: os.Getpid(), Started: time.Now().UTC(), Socket: socket}
	if err := writeOwner(f, owner); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Lock{file: f, path: path}, nil
}

// Release drops the lock. Safe on a nil or released lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	_ = os.Remove(l.path)
	err := l.file.Close()
	l.file = nil
	return err
}

// ReadOwner returns the owner recorded in a profile's lock file. The file
// outlives a crashed daemon, so the owner is not necessarily alive.
func ReadOwner(profileDir string) (*Owner, error) {
	data, err := os.ReadFile(filepath.Join(profileDir, FileName))
	if err != nil {
		return nil, err
	}
	var o Owner
	for _, line := range strings.Split(string(data), "\n") {
		key, val, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		switch key {
		case "pid":
			o.PID, _ = strconv.Atoi(val)
		case "started":
			o.Started, _ = time.Parse(time.RFC3339, val)
		case "socket":
			o.Socket = val
		}
	}
	if o.PID == 0 {
		return nil, errors.New("lock file has no pid")
	}
	return &o, nil
}

func writeOwner(f *os.File, o Owner) error {
	if err := f.Truncate(0); err != nil {
		return err
	}
	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	_, err := fmt.Fprintf(f, "pid=%d\nstarted=%s\nsocket=%s\n",
		o.PID, o.Started.Format(time.RFC3339), o.Socket)
	return err
}
