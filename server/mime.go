package server

import "strings"

// DefaultMimeType is returned for extensions the table does not list.
const DefaultMimeType = "application/octet-stream"

type MimeEntry struct {
	Ext  string `json:"ext"`
	Type string `json:"type"`
}

// MimeTable is an ordered, read-only extension table. Lookups scan it
// front to back and the first matching entry wins, so duplicate
// extensions are legal and later rows are shadowed.
type MimeTable struct {
	entries []MimeEntry
}

var builtinMimeEntries = []MimeEntry{
	{"aiff", "audio/x-aiff"},
	{"avi", "video/avi"},
	{"bin", "application/octet-stream"},
	{"bmp", "image/bmp"},
	{"css", "text/css"},
	{"c", "text/x-c"},
	{"doc", "application/msword"},
	{"gif", "image/gif"},
	{"gz", "image/gz"},
	{"htmls", "text/html"},
	{"html", "text/html"},
	{"html", "text/html"},
	{"ico", "image/ico"},
	{"jpeg", "image/jpeg"},
	{"jpg", "image/jpg"},
	{"js", "application/x-javascript"},
	{"mp3", "audio/mpeg3"},
	{"mpeg", "video/mpeg"},
	{"mpg", "video/mpeg"},
	{"md", "text/markdown"},
	{"pdf", "application/pdf"},
	{"php", "text/html"},
	{"png", "image/png"},
	{"png", "image/png"},
	{"rar", "application/octet-stream"},
	{"tar", "image/tar"},
	{"tiff", "image/tiff"},
	{"txt", "text/plain"},
	{"xml", "application/xml"},
	{"zip", "application/zip"},
}

// NewMimeTable copies entries into a new table. Leading dots on
// extensions are dropped.
func NewMimeTable(entries []MimeEntry) *MimeTable {
	t := &MimeTable{entries: make([]MimeEntry, 0, len(entries))}
	for _, e := range entries {
		t.entries = append(t.entries, MimeEntry{Ext: strings.TrimPrefix(e.Ext, "."), Type: e.Type})
	}
	return t
}

// DefaultMimeTable returns the built-in table.
func DefaultMimeTable() *MimeTable {
	return NewMimeTable(builtinMimeEntries)
}

// WithOverrides returns a new table with overrides placed ahead of the
// receiver's entries. The receiver is not modified.
func (t *MimeTable) WithOverrides(overrides []MimeEntry) *MimeTable {
	all := make([]MimeEntry, 0, len(overrides)+t.Len())
	all = append(all, overrides...)
	if t != nil {
		all = append(all, t.entries...)
	}
	return NewMimeTable(all)
}

func (t *MimeTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// Lookup returns the MIME type for ext (no leading dot).
func (t *MimeTable) Lookup(ext string) string {
	if t == nil {
		return DefaultMimeType
	}
	for _, e := range t.entries {
		if e.Ext == ext {
			return e.Type
		}
	}
	return DefaultMimeType
}

// fileExtension returns the text after the last '.' of the final path
// element, or "" when there is no dot or the name starts with it.
func fileExtension(p string) string {
	name := p
	if i := strings.LastIndexByte(name, '/'); i >= 0 {
		name = name[i+1:]
	}
	dot := strings.LastIndexByte(name, '.')
	if dot <= 0 {
		return ""
	}
	return name[dot+1:]
}
