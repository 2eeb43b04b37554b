// Package filestore is a state.Backend writing one JSON document per id under a directory.
//
//	<dir>/sessions/<session_id>.json
//	<dir>/todolists/<todolist_id>.json
package filestore

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/taskcore"
	"github.com/m-mizutani/taskcore/state"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// ErrInvalidID is returned for ids that cannot be used as a file name.
var ErrInvalidID = goerr.New("invalid document id")

// Backend persists documents as files.
type Backend struct {
	dir string
}

var _ state.Backend = (*Backend)(nil)

// New creates a Backend rooted at dir. Directories are created on first write.
func New(dir string) *Backend {
	return &Backend{dir: dir}
}

func kindDir(kind state.Kind) string {
	return string(kind) + "s"
}

func (x *Backend) path(kind state.Kind, id string) (string, error) {
	if !idPattern.MatchString(id) || id == "." || id == ".." {
		return "", goerr.Wrap(ErrInvalidID, "id must match "+idPattern.String(), goerr.V("id", id))
	}
	return filepath.Join(x.dir, kindDir(kind), id+".json"), nil
}

func (x *Backend) Read(_ context.Context, kind state.Kind, id string) ([]byte, error) {
	p, err := x.path(kind, id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, goerr.Wrap(taskcore.ErrNotFound, "document file not found", goerr.V("path", p))
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to read document file", goerr.V("path", p))
	}
	return data, nil
}

// Write replaces the document with a temporary file that is synced and renamed into place.
func (x *Backend) Write(_ context.Context, kind state.Kind, id string, data []byte) error {
	p, err := x.path(kind, id)
	if err != nil {
		return err
	}

	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return goerr.Wrap(err, "failed to create document directory", goerr.V("dir", dir))
	}

	tmp, err := os.CreateTemp(dir, "."+id+".*.tmp")
	if err != nil {
		return goerr.Wrap(err, "failed to create temporary file", goerr.V("dir", dir))
	}
	tmpName := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpName)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to write temporary file", goerr.V("path", tmpName))
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return goerr.Wrap(err, "failed to sync temporary file", goerr.V("path", tmpName))
	}
	if err := tmp.Close(); err != nil {
		return goerr.Wrap(err, "failed to close temporary file", goerr.V("path", tmpName))
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return goerr.Wrap(err, "failed to set file mode", goerr.V("path", tmpName))
	}
	if err := os.Rename(tmpName, p); err != nil {
		return goerr.Wrap(err, "failed to replace document file", goerr.V("path", p))
	}
	return nil
}

func (x *Backend) Delete(_ context.Context, kind state.Kind, id string) error {
	p, err := x.path(kind, id)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return goerr.Wrap(err, "failed to delete document file", goerr.V("path", p))
	}
	return nil
}

func (x *Backend) List(_ context.Context, kind state.Kind) ([]string, error) {
	dir := filepath.Join(x.dir, kindDir(kind))
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, goerr.Wrap(err, "failed to list document directory", goerr.V("dir", dir))
	}

	var ids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(name, ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}
