package board

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/bigbag/boardflash/embedded"
)

// Catalog is a set of board descriptors keyed by name.
type Catalog struct {
	boards map[string]Descriptor
}

type catalogFile struct {
	Boards []Descriptor `yaml:"boards"`
}

// Parse reads a YAML catalog. Later entries with the same name replace earlier ones.
func Parse(r io.Reader) (*Catalog, error) {
	var f catalogFile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && err != io.EOF {
		return nil, fmt.Errorf("parse board catalog: %w", err)
	}

	c := &Catalog{boards: make(map[string]Descriptor, len(f.Boards))}
	for i, d := range f.Boards {
		if d.Name == "" {
			return nil, fmt.Errorf("parse board catalog: entry %d has no name", i)
		}
		c.boards[d.Name] = d
	}
	return c, nil
}

// LoadFile reads a YAML catalog from path.
func LoadFile(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read board catalog: %w", err)
	}
	return Parse(bytes.NewReader(data))
}

// Default returns the built-in catalog.
func Default() (*Catalog, error) {
	return Parse(bytes.NewReader(embedded.Boards()))
}

// Merge overlays other onto c; boards in other win.
func (c *Catalog) Merge(other *Catalog) {
	if other == nil {
		return
	}
	for name, d := range other.boards {
		c.boards[name] = d
	}
}

// Lookup returns the named board with defaults applied.
func (c *Catalog) Lookup(name string) (Descriptor, error) {
	d, ok := c.boards[name]
	if !ok {
		return Descriptor{}, fmt.Errorf("unknown board %q", name)
	}
	d = d.WithDefaults()
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// Names returns the board names in sorted order.
func (c *Catalog) Names() []string {
	names := make([]string, 0, len(c.boards))
	for name := range c.boards {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
