package server

import (
	"io"
	"iter"
	"slices"
	"strings"

	"github.com/go-git/go-billy/v5"
)

// Resolution classifies a requested path. It is one of RegularFile,
// Directory or Missing.
type Resolution interface {
	Kind() string
	Path() string
}

type RegularFile struct {
	AbsolutePath string
	SizeBytes    int64
	MimeType     string
}

type Directory struct {
	AbsolutePath  string
	DisplayPrefix string
	names         []string
}

type Missing struct {
	AbsolutePath string
}

func (f RegularFile) Kind() string { return "file" }
func (d Directory) Kind() string   { return "directory" }
func (m Missing) Kind() string     { return "missing" }

func (f RegularFile) Path() string { return f.AbsolutePath }
func (d Directory) Path() string   { return d.AbsolutePath }
func (m Missing) Path() string     { return m.AbsolutePath }

// Entries yields the directory's entry names, never "." or "..".
func (d Directory) Entries() iter.Seq[string] {
	return slices.Values(d.names)
}

// Len is the number of entries Entries yields.
func (d Directory) Len() int { return len(d.names) }

// Resolver maps request paths onto a filesystem rooted at Root. Paths
// are joined by plain concatenation: "..", percent escapes and repeated
// slashes reach the filesystem untouched.
type Resolver struct {
	fs   billy.Filesystem
	root string
	mime *MimeTable
}

func NewResolver(fs billy.Filesystem, root string, mime *MimeTable) *Resolver {
	if mime == nil {
		mime = DefaultMimeTable()
	}
	return &Resolver{fs: fs, root: root, mime: mime}
}

// WithMimeTable returns a resolver sharing the filesystem and root but
// using a different table.
func (r *Resolver) WithMimeTable(mime *MimeTable) *Resolver {
	return NewResolver(r.fs, r.root, mime)
}

func (r *Resolver) Filesystem() billy.Filesystem { return r.fs }
func (r *Resolver) Root() string                 { return r.root }
func (r *Resolver) MimeTable() *MimeTable        { return r.mime }

// Resolve classifies requestedPath. The request method plays no part.
func (r *Resolver) Resolve(requestedPath string) Resolution {
	abs := r.root + requestedPath

	fi, err := r.fs.Stat(abs)
	if err != nil {
		return Missing{AbsolutePath: abs}
	}

	if fi.Mode().IsRegular() {
		if size, err := r.sizeOf(abs); err == nil {
			return RegularFile{
				AbsolutePath: abs,
				SizeBytes:    size,
				MimeType:     r.mime.Lookup(fileExtension(abs)),
			}
		}
	}

	if fi.IsDir() {
		if names, err := r.list(abs); err == nil {
			return Directory{
				AbsolutePath:  abs,
				DisplayPrefix: strings.TrimLeft(requestedPath, "/"),
				names:         names,
			}
		}
	}

	return Missing{AbsolutePath: abs}
}

// sizeOf opens the file and seeks to its end rather than trusting stat.
func (r *Resolver) sizeOf(p string) (int64, error) {
	f, err := r.fs.Open(p)
	if err != nil {
		return 0, err
	}
	defer f.Close()
	return f.Seek(0, io.SeekEnd)
}

func (r *Resolver) list(p string) ([]string, error) {
	infos, err := r.fs.ReadDir(p)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(infos))
	for _, fi := range infos {
		name := strings.TrimLeft(fi.Name(), "/")
		if name == "." || name == ".." || name == "" {
			continue
		}
		names = append(names, name)
	}
	return names, nil
}
