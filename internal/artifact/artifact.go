// Package artifact maps built files onto the artifact store key layout.
package artifact

import (
	"context"
	"errors"
	"io/fs"
	"mime"
	"path"
	"path/filepath"
	"strings"

	"github.com/splax/edgeship/internal/domain"
)

// KeyPrefix is the root of every stored artifact.
const KeyPrefix = "__outputs"

// DefaultContentType is used for files whose extension is unknown.
const DefaultContentType = "application/octet-stream"

// Store persists artifact entries. Implementations must be safe for concurrent Put calls.
type Store interface {
	Put(ctx context.Context, entry domain.ArtifactEntry) error
}

// Key returns the storage key for a file of a deployment: __outputs/<id>/<relativePath>.
func Key(deploymentID, relativePath string) string {
	rel := strings.TrimLeft(filepath.ToSlash(relativePath), "/")
	return path.Join(KeyPrefix, deploymentID, rel)
}

// ContentType derives a MIME type from the file extension.
func ContentType(name string) string {
	if ext := path.Ext(name); ext != "" {
		if ct := mime.TypeByExtension(strings.ToLower(ext)); ct != "" {
			return ct
		}
	}
	return DefaultContentType
}

// Skipped is a directory Walk could not read.
type Skipped struct {
	Path string
	Err  error
}

// Walk lists every regular file in fsys as forward-slash paths relative to its root, in
// depth-first lexical order. Subdirectories that cannot be read are left out and reported as
// skipped; only an unreadable root fails the walk. It has no side effects, so callers may
// run it again.
func Walk(fsys fs.FS) ([]string, []Skipped, error) {
	if fsys == nil {
		return nil, nil, errors.New("nil filesystem")
	}
	var (
		files   []string
		skipped []Skipped
	)
	err := fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if p == "." {
				return err
			}
			skipped = append(skipped, Skipped{Path: p, Err: err})
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, p)
		}
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	return files, skipped, nil
}
