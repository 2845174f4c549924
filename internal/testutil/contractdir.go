// Package testutil provides on-disk fixtures for tests that feed real
// contract source files through the payload CLI.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ContractDir is an isolated temporary directory holding contract source
// fixtures. Sources are stored as .js files, the form the create-payload
// command consumes.
type ContractDir struct {
	Root string
}

// NewContractDir creates a fixture directory under the system temp root.
func NewContractDir() (*ContractDir, error) {
	dir, err := os.MkdirTemp("", "dvm_contracts")
	if err != nil {
		return nil, err
	}
	return &ContractDir{Root: dir}, nil
}

// WriteSource stores a contract source fixture and returns its absolute
// path. The name must be a bare file name; a .js extension is added when
// missing.
func (d *ContractDir) WriteSource(name, source string) (string, error) {
	if name == "" || name != filepath.Base(name) {
		return "", fmt.Errorf("contract fixture name %q must be a bare file name", name)
	}
	if !strings.HasSuffix(name, ".js") {
		name += ".js"
	}
	path := filepath.Join(d.Root, name)
	if err := os.WriteFile(path, []byte(source), 0o600); err != nil {
		return "", err
	}
	return path, nil
}

// ReadSource reads a previously written fixture back.
func (d *ContractDir) ReadSource(name string) (string, error) {
	if !strings.HasSuffix(name, ".js") {
		name += ".js"
	}
	b, err := os.ReadFile(filepath.Join(d.Root, name))
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// Cleanup removes the fixture directory and everything in it.
func (d *ContractDir) Cleanup() error {
	return os.RemoveAll(d.Root)
}
