package utils

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFormatMoney(t *testing.T) {
	tests := map[float64]string{
		0:           "$0.00",
		45.97222:    "$45.97",
		1234567.891: "$1,234,567.89",
		-1500:       "-$1,500.00",
	}
	for in, want := range tests {
		if got := FormatMoney(in); got != want {
			t.Errorf("FormatMoney(%v) = %q, want %q", in, got, want)
		}
	}
}

func TestDBLock(t *testing.T) {
	dir := t.TempDir()
	path, err := PrepareDBPath(filepath.Join(dir, "nested", "emvscope.sqlite"))
	if err != nil {
		t.Fatalf("prepare: %v", err)
	}
	if _, err := os.Stat(filepath.Dir(path)); err != nil {
		t.Fatalf("expected parent directory to exist: %v", err)
	}

	lock, err := NewDBLock(path, 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if err := lock.Lock(context.Background()); err != nil {
		t.Fatalf("lock: %v", err)
	}
	if _, err := os.Stat(path + ".lock"); err != nil {
		t.Fatalf("expected lock file: %v", err)
	}
	if err := lock.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
}

func TestDBLockTimeout(t *testing.T) {
	path := filepath.Join(t.TempDir(), "emvscope.sqlite")
	holder, err := NewDBLock(path, 0)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	if err := holder.Lock(context.Background()); err != nil {
		t.Fatalf("lock: %v", err)
	}
	defer holder.Unlock()

	waiter, err := NewDBLock(path, 300*time.Millisecond)
	if err != nil {
		t.Fatalf("new lock: %v", err)
	}
	began := time.Now()
	err = waiter.Lock(context.Background())
	if !errors.Is(err, ErrLockTimeout) {
		t.Fatalf("expected ErrLockTimeout, got %v", err)
	}
	if waited := time.Since(began); waited < 250*time.Millisecond {
		t.Fatalf("gave up after %s, before the timeout", waited)
	}

	if err := holder.Unlock(); err != nil {
		t.Fatalf("unlock: %v", err)
	}
	if err := waiter.Lock(context.Background()); err != nil {
		t.Fatalf("lock after release: %v", err)
	}
	waiter.Unlock()
}
