package repl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/peterje/rootrepl/internal/backend"
)

// anchor is where an evaluation's wait begins: a stream offset when the
// backend has one, otherwise the number of prompts already on display.
// Prompt counts stop growing once the display window is full, so the count
// is only a fallback.
type anchor struct {
	tail    backend.Tailer
	offset  int64
	prompts int
}

func (r *REPL) anchor(name string) (anchor, error) {
	if t, ok := r.backend.(backend.Tailer); ok {
		off, err := t.Offset(name)
		if err == nil {
			return anchor{tail: t, offset: off}, nil
		}
		if !errors.Is(err, backend.ErrNoStream) {
			return anchor{}, err
		}
	}
	display, err := r.backend.Display(name)
	if err != nil {
		return anchor{}, err
	}
	return anchor{prompts: r.marker.Count(display)}, nil
}

// promptSince reports whether a prompt has been printed after a.
func (r *REPL) promptSince(name string, a anchor) (bool, error) {
	if a.tail != nil {
		out, err := a.tail.DisplaySince(name, a.offset)
		if err != nil {
			return false, err
		}
		return r.marker.Count(out) > 0, nil
	}
	display, err := r.backend.Display(name)
	if err != nil {
		return false, err
	}
	return r.marker.Count(display) > a.prompts, nil
}

func (r *REPL) waitForOutput(ctx context.Context, name string, a anchor) error {
	switch r.opts.Capture.Mode {
	case CapturePrompt:
		return r.waitUntil(ctx, r.opts.Capture.Timeout, func() (bool, error) {
			return r.promptSince(name, a)
		})
	default:
		return sleep(ctx, r.opts.Capture.Delay)
	}
}

// waitForFirstPrompt is used right after start, before the display can have
// filled up, so counting is enough.
func (r *REPL) waitForFirstPrompt(ctx context.Context, name string, timeout time.Duration) error {
	return r.waitUntil(ctx, timeout, func() (bool, error) {
		display, err := r.backend.Display(name)
		if err != nil {
			return false, err
		}
		return r.marker.Count(display) > 0, nil
	})
}

// waitUntil polls done every Capture.Poll until it reports true.
func (r *REPL) waitUntil(ctx context.Context, timeout time.Duration, done func() (bool, error)) error {
	poll := r.opts.Capture.Poll
	if poll <= 0 {
		poll = 50 * time.Millisecond
	}
	deadline := time.After(timeout)
	ticker := time.NewTicker(poll)
	defer ticker.Stop()

	for {
		ok, err := done()
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("%w %q after %v", ErrTimeout, r.marker.String(), timeout)
		case <-ticker.C:
		}
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
