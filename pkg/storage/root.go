// Package storage confines every client-visible path to a single storage root.
//
// All filesystem access triggered by a client-supplied path must go through
// Root.Resolve first. The resolver is purely lexical: it never touches the disk,
// so it is safe to call before the target exists (uploads, folder creation).
package storage

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// ErrInvalidPath is returned when a client path would leave the storage root
// or cannot be represented safely (NUL bytes, ".." segments, volume prefixes).
var ErrInvalidPath = errors.New("invalid path")

// tempPrefix marks in-flight upload files. They are hidden from listings.
const tempPrefix = ".sharebox-upload-"

// Root is an absolute, cleaned directory that all client paths are sandboxed in.
type Root struct {
	path string
}

// Entry is a file or directory below the root, addressed by its slash-separated
// root-relative path.
type Entry struct {
	Path  string
	IsDir bool
}

// String renders the entry the way it travels on the wire: directories carry a
// trailing "/" so clients can tell them apart from files.
func (e Entry) String() string {
	if e.IsDir {
		return e.Path + "/"
	}
	return e.Path
}

// NewRoot makes path absolute and creates it (with parents) if missing.
func NewRoot(path string) (*Root, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage root: path is required")
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	abs = filepath.Clean(abs)

	if err := os.MkdirAll(abs, 0755); err != nil {
		return nil, fmt.Errorf("storage root: create %s: %w", abs, err)
	}

	return &Root{path: abs}, nil
}

// Path returns the absolute root directory.
func (r *Root) Path() string {
	return r.path
}

// Resolve maps a client-supplied relative path to an absolute path under the
// root. Leading "/" and "\" are stripped before normalization, so "/docs/a.txt"
// and "docs/a.txt" name the same file. The empty path resolves to the root.
func (r *Root) Resolve(rel string) (string, error) {
	if strings.ContainsRune(rel, 0) {
		return "", fmt.Errorf("%w: contains NUL byte", ErrInvalidPath)
	}

	rel = strings.TrimSpace(rel)
	rel = strings.TrimLeft(rel, `/\`)
	rel = strings.ReplaceAll(rel, `\`, "/")

	if hasVolumePrefix(rel) {
		return "", fmt.Errorf("%w: volume prefix in %q", ErrInvalidPath, rel)
	}

	for _, segment := range strings.Split(rel, "/") {
		if segment == ".." {
			return "", fmt.Errorf("%w: parent segment in %q", ErrInvalidPath, rel)
		}
	}

	abs := filepath.Clean(filepath.Join(r.path, filepath.FromSlash(rel)))
	if !r.contains(abs) {
		return "", fmt.Errorf("%w: %q escapes storage root", ErrInvalidPath, rel)
	}

	return abs, nil
}

// Rel converts an absolute path under the root back to its slash-separated
// root-relative form.
func (r *Root) Rel(abs string) (string, error) {
	abs = filepath.Clean(abs)
	if !r.contains(abs) {
		return "", fmt.Errorf("%w: %q is outside storage root", ErrInvalidPath, abs)
	}

	rel, err := filepath.Rel(r.path, abs)
	if err != nil {
		return "", err
	}
	if rel == "." {
		return "", nil
	}
	return filepath.ToSlash(rel), nil
}

func (r *Root) contains(abs string) bool {
	return abs == r.path || strings.HasPrefix(abs, r.path+string(filepath.Separator))
}

// hasVolumePrefix catches drive letters ("C:") and UNC/device prefixes on every
// platform, since clients may run on a different OS than the server.
func hasVolumePrefix(rel string) bool {
	if filepath.VolumeName(rel) != "" {
		return true
	}
	if len(rel) >= 2 && rel[1] == ':' {
		c := rel[0]
		return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
	}
	return false
}

// List walks the whole tree below the root and returns every file and
// directory in lexical walk order. The root itself is not included.
//
// The walk checks ctx between entries so a server shutdown can abort a scan of
// a very large tree.
func (r *Root) List(ctx context.Context) ([]Entry, error) {
	var entries []Entry

	err := filepath.WalkDir(r.path, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		if path == r.path {
			return nil
		}
		if IsTempName(d.Name()) {
			return nil
		}

		rel, err := r.Rel(path)
		if err != nil {
			return err
		}
		entries = append(entries, Entry{Path: rel, IsDir: d.IsDir()})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list storage root: %w", err)
	}

	return entries, nil
}

// IsRegularFile reports whether abs exists and is a regular file.
func IsRegularFile(abs string) (os.FileInfo, bool) {
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return nil, false
	}
	return info, true
}

// Exists reports whether anything (file, directory, link) exists at abs.
func Exists(abs string) bool {
	_, err := os.Lstat(abs)
	return err == nil
}

// TempName returns the hidden name used while an upload is in flight.
func TempName(id string) string {
	return tempPrefix + id + ".part"
}

// IsTempName reports whether name is an in-flight upload file.
func IsTempName(name string) bool {
	return strings.HasPrefix(name, tempPrefix) && strings.HasSuffix(name, ".part")
}
