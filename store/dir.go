package store

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/ezachrisen/ruleswp"
)

// Extensions tried, in order, when looking for a definition file.
var Extensions = []string{".yaml", ".yml", ".json"}

// DirSource reads definitions from files named <name>.yaml, <name>.yml or
// <name>.json in a directory.
type DirSource struct {
	dir string
}

var _ ruleswp.Source = (*DirSource)(nil)

// NewDirSource creates a source reading from the directory.
func NewDirSource(dir string) (*DirSource, error) {
	fi, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("rule set directory: %w", err)
	}
	if !fi.IsDir() {
		return nil, fmt.Errorf("rule set directory: %s is not a directory", dir)
	}
	return &DirSource{dir: dir}, nil
}

func (s *DirSource) Definition(ctx context.Context, name string) (*ruleswp.Definition, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	for _, ext := range Extensions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		data, err := os.ReadFile(filepath.Join(s.dir, name+ext))
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("reading rule set %s: %w", name, err)
		}
		return decode(name, data)
	}
	return nil, notFound(name)
}

// Names lists the rule sets in the directory, sorted.
func (s *DirSource) Names() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !slices.Contains(Extensions, ext) {
			continue
		}
		name := strings.TrimSuffix(e.Name(), ext)
		if ValidName(name) && !slices.Contains(names, name) {
			names = append(names, name)
		}
	}
	slices.Sort(names)
	return names, nil
}
