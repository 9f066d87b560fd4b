package transfer

import (
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
)

// Source is the file served by a transfer server.
type Source struct {
	FS   fs.FS
	Name string
}

// FileSource returns the source for a file path on the local file system.
func FileSource(file string) Source {
	dir, name := filepath.Split(file)
	if dir == "" {
		dir = "."
	}
	return Source{FS: os.DirFS(dir), Name: name}
}

func (s Source) String() string {
	return s.Name
}

// Open opens the source file and returns it along with its size. The returned
// error matches fs.ErrNotExist when the file is absent.
func (s Source) Open() (fs.File, int64, error) {
	name := path.Clean(s.Name)
	if name == "." || !fs.ValidPath(name) {
		return nil, 0, &fs.PathError{Op: "open", Path: s.Name, Err: fs.ErrInvalid}
	}
	f, err := s.FS.Open(name)
	if err != nil {
		return nil, 0, err
	}
	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, 0, err
	}
	if stat.IsDir() {
		f.Close()
		return nil, 0, fmt.Errorf("%s is a directory", s.Name)
	}
	return f, stat.Size(), nil
}
