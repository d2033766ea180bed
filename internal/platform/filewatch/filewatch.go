// Package filewatch waits for changes to a set of files.
package filewatch

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ErrModified is the cancel cause of a context ended by a file change.
var ErrModified = errors.New("file modified")

// UntilModifyContext returns a context that is canceled when one of the target
// files is written, created, removed, or renamed.
//
// Parent directories are watched rather than the files themselves, so editors
// that replace a file by renaming over it are still noticed.
//
// If error is not nil, both of the context and the cancel function are nil.
func UntilModifyContext(ctx context.Context, targetFilePath ...string) (context.Context, func(), error) {
	if len(targetFilePath) == 0 {
		return nil, nil, errors.New("no files to watch")
	}
	targets := map[string]struct{}{}
	dirs := map[string]struct{}{}
	for _, f := range targetFilePath {
		abs, err := filepath.Abs(f)
		if err != nil {
			return nil, nil, err
		}
		targets[abs] = struct{}{}
		dirs[filepath.Dir(abs)] = struct{}{}
	}

	cctx, cancel := context.WithCancelCause(ctx)

	w, err := fsnotify.NewWatcher()
	if err != nil {
		cancel(err)
		return nil, nil, err
	}
	for d := range dirs {
		if err := w.Add(d); err != nil {
			w.Close()
			cancel(err)
			return nil, nil, err
		}
	}

	go func() {
		defer w.Close()

		for {
			select {
			case <-cctx.Done():
				return
			case event, ok := <-w.Events:
				if !ok {
					return
				}
				if _, hit := targets[filepath.Clean(event.Name)]; !hit {
					continue
				}
				if event.Op == fsnotify.Chmod {
					continue
				}
				cancel(fmt.Errorf("%w: %s (%s)", ErrModified, event.Name, event.Op.String()))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				cancel(err)
			}
		}
	}()

	return cctx, func() { cancel(nil) }, nil
}

// OnChange calls fn each time one of the files changes, until ctx ends or fn
// returns an error. Events arriving within settle of each other are merged.
func OnChange(ctx context.Context, settle time.Duration, fn func(context.Context) error, targetFilePath ...string) error {
	for {
		wctx, stop, err := UntilModifyContext(ctx, targetFilePath...)
		if err != nil {
			return err
		}
		<-wctx.Done()
		cause := context.Cause(wctx)
		stop()
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(cause, ErrModified) {
			return cause
		}
		if settle > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(settle):
			}
		}
		if err := fn(ctx); err != nil {
			return err
		}
	}
}
