// SPDX-License-Identifier: MPL-2.0

package moddef

import (
	"io/fs"
	"maps"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strings"
)

type (
	// Content gives a module's loader access to the module's own entries.
	Content interface {
		// Entry looks up a class-style or resource name.
		Entry(name string) (Entry, bool)
		// Names lists every entry name, sorted.
		Names() []string
		// Source identifies where the content comes from. Packages defined from
		// this content are sealed to it.
		Source() string
	}

	// Entry is one class or resource.
	Entry struct {
		Name string
		Data []byte
		// Source overrides the content's source for this entry when set.
		Source string
	}

	// MapContent is in-memory content.
	MapContent struct {
		source  string
		entries map[string]Entry
	}

	// DirContent reads entries from a directory tree. Dotted names map to
	// paths ("util.Strings" is util/Strings); names containing "/" are used as-is.
	DirContent struct {
		root   string
		source string
	}
)

// NewMapContent returns content holding one entry per file, all from source.
func NewMapContent(source string, files map[string][]byte) *MapContent {
	c := &MapContent{source: source, entries: make(map[string]Entry, len(files))}
	for name, data := range files {
		c.entries[name] = Entry{Name: name, Data: data, Source: source}
	}
	return c
}

// EmptyContent returns content with no entries.
func EmptyContent(source string) *MapContent {
	return NewMapContent(source, nil)
}

// With returns a copy of c with e added. An empty e.Source inherits c's source.
func (c *MapContent) With(e Entry) *MapContent {
	if e.Source == "" {
		e.Source = c.source
	}
	out := &MapContent{source: c.source, entries: maps.Clone(c.entries)}
	if out.entries == nil {
		out.entries = make(map[string]Entry, 1)
	}
	out.entries[e.Name] = e
	return out
}

func (c *MapContent) Entry(name string) (Entry, bool) {
	e, ok := c.entries[name]
	return e, ok
}

func (c *MapContent) Names() []string {
	return slices.Sorted(maps.Keys(c.entries))
}

func (c *MapContent) Source() string { return c.source }

// NewDirContent returns content rooted at dir.
func NewDirContent(dir string) (*DirContent, error) {
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return &DirContent{root: abs, source: "file://" + filepath.ToSlash(abs)}, nil
}

func (c *DirContent) Entry(name string) (Entry, bool) {
	rel := name
	if !strings.Contains(name, "/") {
		rel = strings.ReplaceAll(name, ".", "/")
	}
	rel = path.Clean(rel)
	if !fs.ValidPath(rel) {
		return Entry{}, false
	}
	data, err := os.ReadFile(filepath.Join(c.root, filepath.FromSlash(rel)))
	if err != nil {
		return Entry{}, false
	}
	return Entry{Name: name, Data: data, Source: c.source}, true
}

// Names lists files as class-style names when their base name has no
// extension and as resource paths otherwise.
func (c *DirContent) Names() []string {
	var names []string
	_ = fs.WalkDir(os.DirFS(c.root), ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return nil
		}
		if strings.Contains(path.Base(p), ".") {
			names = append(names, p)
		} else {
			names = append(names, strings.ReplaceAll(p, "/", "."))
		}
		return nil
	})
	slices.Sort(names)
	return names
}

func (c *DirContent) Source() string { return c.source }
