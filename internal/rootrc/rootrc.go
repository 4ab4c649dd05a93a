// Package rootrc writes a temporary .rootrc that turns off ROOT's prompt
// colors for the lifetime of a session start, without ever touching a file
// the user already has.
package rootrc

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
)

// DefaultPath is relative to the directory ROOT is started in.
const DefaultPath = "./.rootrc"

// Contents disables the color settings TRint applies to the prompt and
// typed input.
const Contents = `Rint.TypeColor:        default
Rint.BracketColor:     default
Rint.BadBracketColor:  default
Rint.TabComColor:      default
Rint.PromptColor:      default
`

// Guard tracks a .rootrc created by Acquire.
type Guard struct {
	path    string
	created bool

	once sync.Once
	err  error
}

// Acquire creates path with Contents if no file exists there. When a file is
// already present the returned Guard owns nothing and Release is a no-op.
func Acquire(path string) (*Guard, error) {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return &Guard{path: path}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := f.WriteString(Contents); err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(path)
		return nil, fmt.Errorf("close %s: %w", path, err)
	}
	return &Guard{path: path, created: true}, nil
}

// Path returns the guarded file path.
func (g *Guard) Path() string { return g.path }

// Created reports whether this guard wrote the file.
func (g *Guard) Created() bool { return g.created }

// Release removes the file if this guard created it. Safe to call more than once.
func (g *Guard) Release() error {
	g.once.Do(func() {
		if !g.created {
			return
		}
		if err := os.Remove(g.path); err != nil && !errors.Is(err, fs.ErrNotExist) {
			g.err = fmt.Errorf("remove %s: %w", g.path, err)
		}
	})
	return g.err
}
