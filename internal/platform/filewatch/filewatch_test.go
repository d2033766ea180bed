package filewatch

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"
)

func TestUntilModifyContext(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "pipeline.yaml")
	other := filepath.Join(dir, "other.yaml")
	if err := os.WriteFile(target, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel, err := UntilModifyContext(context.Background(), target)
	if err != nil {
		t.Fatalf("watch: %v", err)
	}
	defer cancel()

	if err := os.WriteFile(other, []byte("b: 2\n"), 0o644); err != nil {
		t.Fatalf("write other: %v", err)
	}
	select {
	case <-ctx.Done():
		t.Fatalf("unrelated file canceled the context: %v", context.Cause(ctx))
	case <-time.After(200 * time.Millisecond):
	}

	if err := os.WriteFile(target, []byte("a: 2\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	select {
	case <-ctx.Done():
		if !errors.Is(context.Cause(ctx), ErrModified) {
			t.Fatalf("unexpected cause %v", context.Cause(ctx))
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("context not canceled after modification")
	}
}

func TestUntilModifyContextErrors(t *testing.T) {
	if _, _, err := UntilModifyContext(context.Background()); err == nil {
		t.Fatalf("expected error without targets")
	}
	missing := filepath.Join(t.TempDir(), "nope", "pipeline.yaml")
	if _, _, err := UntilModifyContext(context.Background(), missing); err == nil {
		t.Fatalf("expected error for missing directory")
	}
}

func TestOnChange(t *testing.T) {
	dir := t.TempDir()
	target := filepath.Join(dir, "pipeline.yaml")
	if err := os.WriteFile(target, []byte("a: 1\n"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var calls atomic.Int32
	stopAfterOne := errors.New("stop")
	done := make(chan error, 1)
	go func() {
		done <- OnChange(ctx, 10*time.Millisecond, func(context.Context) error {
			calls.Add(1)
			return stopAfterOne
		}, target)
	}()

	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(target, []byte("a: 2\n"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}

	select {
	case err := <-done:
		if !errors.Is(err, stopAfterOne) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-ctx.Done():
		t.Fatalf("OnChange did not react to the modification")
	}
	if calls.Load() != 1 {
		t.Fatalf("expected one call, got %d", calls.Load())
	}
}

func TestOnChangeStopsWithContext(t *testing.T) {
	target := filepath.Join(t.TempDir(), "pipeline.yaml")
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- OnChange(ctx, 0, func(context.Context) error { return nil }, target)
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("OnChange did not stop")
	}
}
