// Package dotdir resolves the .scout/ directory that holds config.toml, the
// system prompt and local databases.
package dotdir

import (
	"fmt"
	"os"
	"path/filepath"
)

// DirName is the name of the scout state directory.
const DirName = ".scout"

type Manager struct {
	// home and cwd are swapped out by tests.
	home func() (string, error)
	cwd  func() (string, error)
}

func NewManager() *Manager {
	return &Manager{
		home: os.UserHomeDir,
		cwd:  os.Getwd,
	}
}

// Target returns the absolute path of the .scout/ directory to use, creating
// it when missing. Precedence:
//  1. overrideDir, when non-empty
//  2. ./.scout/ if it already exists
//  3. ~/.scout/
func (m *Manager) Target(overrideDir string) (string, error) {
	dir, err := m.pick(overrideDir)
	if err != nil {
		return "", err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating scout directory %s: %w", dir, err)
	}

	return filepath.Abs(dir)
}

// File returns the path of name inside the resolved directory.
func (m *Manager) File(overrideDir, name string) (string, error) {
	dir, err := m.Target(overrideDir)
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}

func (m *Manager) pick(overrideDir string) (string, error) {
	if overrideDir != "" {
		return overrideDir, nil
	}

	cwd, err := m.cwd()
	if err == nil {
		local := filepath.Join(cwd, DirName)
		if info, statErr := os.Stat(local); statErr == nil && info.IsDir() {
			return local, nil
		}
	}

	home, err := m.home()
	if err != nil {
		return "", fmt.Errorf("getting home directory: %w", err)
	}
	return filepath.Join(home, DirName), nil
}
