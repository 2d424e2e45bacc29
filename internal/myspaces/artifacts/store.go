// Package artifacts manages the local directory tree my-spaces owns: the
// root directory and the rendered build descriptors under it.
//
// Layout:
//
//	<root>/
//	  dockerfiles/
//	    Dockerfile.<tag>
//
// Descriptors are rewritten on every build attempt and never removed.
package artifacts

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/bdobrica/myspaces/internal/myspaces/errdefs"
)

const (
	dockerfilesDir   = "dockerfiles"
	descriptorPrefix = "Dockerfile."
)

// RootPaths are the directories EnsureRoot guarantees.
type RootPaths struct {
	Root        string
	Dockerfiles string
}

// Store owns a root directory.
type Store struct {
	root string
}

// New returns a Store rooted at root. Nothing is created until EnsureRoot.
func New(root string) *Store {
	return &Store{root: root}
}

// Root returns the root directory.
func (s *Store) Root() string {
	return s.root
}

// EnsureRoot creates the root and descriptor directories if they are
// missing. It is safe to call from several processes at once.
func (s *Store) EnsureRoot() (RootPaths, error) {
	paths := RootPaths{
		Root:        s.root,
		Dockerfiles: filepath.Join(s.root, dockerfilesDir),
	}
	for _, dir := range []string{paths.Root, paths.Dockerfiles} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return RootPaths{}, fsError(fmt.Errorf("create %s: %w", dir, err))
		}
	}
	return paths, nil
}

// DescriptorPath returns where the descriptor for tag lives under outDir.
func DescriptorPath(outDir, tag string) string {
	return filepath.Join(outDir, descriptorPrefix+tag)
}

// WriteDescriptor writes rendered as Dockerfile.<tag> under outDir and
// returns its path. Any previous content for the tag is replaced; the file is
// written to a temporary name first so readers never see a partial file.
func WriteDescriptor(outDir, tag, rendered string) (string, error) {
	if tag == "" || tag != filepath.Base(tag) {
		return "", errdefs.New(errdefs.ErrInvalidIdentifier, errdefs.PhaseRender, fmt.Errorf("tag %q cannot name a descriptor file", tag))
	}
	path := DescriptorPath(outDir, tag)

	tmp, err := os.CreateTemp(outDir, "."+descriptorPrefix+tag+".*")
	if err != nil {
		return "", fsError(fmt.Errorf("write descriptor %s: %w", path, err))
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.WriteString(rendered); err != nil {
		tmp.Close()
		return "", fsError(fmt.Errorf("write descriptor %s: %w", path, err))
	}
	if err := tmp.Close(); err != nil {
		return "", fsError(fmt.Errorf("write descriptor %s: %w", path, err))
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return "", fsError(fmt.Errorf("write descriptor %s: %w", path, err))
	}
	if err := os.Rename(tmpName, path); err != nil {
		return "", fsError(fmt.Errorf("write descriptor %s: %w", path, err))
	}
	return path, nil
}

// fsError tags permission failures with ErrPermission. Other filesystem
// errors are returned as they are.
func fsError(err error) error {
	if errors.Is(err, fs.ErrPermission) {
		return errdefs.New(errdefs.ErrPermission, errdefs.PhaseSetup, err)
	}
	return err
}
