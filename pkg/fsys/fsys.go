// Package fsys is the file-existence facility. Local checks go through a
// go-billy filesystem so tests can substitute an in-memory tree.
package fsys

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/osfs"
)

// Checker answers whether a path exists on the managed host.
type Checker interface {
	Exists(ctx context.Context, path string) (bool, error)
}

// BillyChecker implements Checker on top of a billy.Filesystem.
type BillyChecker struct {
	fs billy.Filesystem
}

// NewBillyChecker wraps fs.
func NewBillyChecker(fs billy.Filesystem) *BillyChecker {
	return &BillyChecker{fs: fs}
}

// NewOSChecker checks paths on the local root filesystem.
func NewOSChecker() *BillyChecker {
	return NewBillyChecker(osfs.New("/"))
}

// Exists implements Checker.
func (c *BillyChecker) Exists(_ context.Context, path string) (bool, error) {
	_, err := c.fs.Stat(path)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, fs.ErrNotExist) {
		return false, nil
	}
	return false, fmt.Errorf("failed to stat %s: %w", path, err)
}
