package main

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"strings"

	"github.com/bpowers/go-mcpserver/examples/fstools"
)

// rootFS is an os.Root backed filesystem that also supports writes. Every
// operation is confined to the root directory, symlinks included.
type rootFS struct {
	fs.FS
	root *os.Root
}

var (
	_ fstools.WriteFS    = rootFS{}
	_ fstools.MkdirAllFS = rootFS{}
)

func newRootFS(root *os.Root) fs.FS {
	return rootFS{FS: root.FS(), root: root}
}

func (r rootFS) WriteFile(name string, data []byte, perm fs.FileMode) error {
	f, err := r.root.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (r rootFS) MkdirAll(name string, perm fs.FileMode) error {
	if !fs.ValidPath(name) {
		return &fs.PathError{Op: "mkdir", Path: name, Err: fs.ErrInvalid}
	}
	if name == "." {
		return nil
	}

	dir := ""
	for _, elem := range strings.Split(name, "/") {
		dir = path.Join(dir, elem)
		err := r.root.Mkdir(dir, perm)
		if err == nil || errors.Is(err, fs.ErrExist) {
			continue
		}
		return err
	}
	return nil
}

// readOnlyFS hides the write methods of the wrapped filesystem.
type readOnlyFS struct {
	fs.FS
}
