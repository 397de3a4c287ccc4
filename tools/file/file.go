// Package file provides the in-process filesystem fallback for the
// tool host. All paths are resolved against a root directory and
// escapes are rejected.
package file

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Executor performs local filesystem operations jailed to Root. An
// empty Root allows absolute paths anywhere, which is the mode the
// migration service runs in: project paths arrive absolute and
// validated at intake.
type Executor struct {
	Root string
}

// NewExecutor creates an executor jailed to root. Pass "" to disable
// the jail.
func NewExecutor(root string) *Executor {
	return &Executor{Root: root}
}

func (e *Executor) resolve(path string) (string, error) {
	if e.Root == "" {
		if !filepath.IsAbs(path) {
			return "", fmt.Errorf("relative path not allowed without a root: %s", path)
		}
		return filepath.Clean(path), nil
	}

	joined := filepath.Join(e.Root, path)
	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", err
	}
	root, err := filepath.Abs(e.Root)
	if err != nil {
		return "", err
	}
	if abs != root && !strings.HasPrefix(abs, root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes root: %s", path)
	}
	return abs, nil
}

// ReadFile returns the contents of path.
func (e *Executor) ReadFile(path string) ([]byte, error) {
	abs, err := e.resolve(path)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(abs)
}

// WriteFile writes data to path, creating parent directories.
func (e *Executor) WriteFile(path string, data []byte) error {
	abs, err := e.resolve(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return err
	}
	return os.WriteFile(abs, data, 0o644)
}
