// Package store provides the backing stores rule set definitions are loaded
// from: a directory of files, memory, a SQL table, PostgreSQL and Redis.
//
// Every store implements ruleswp.Source. Definitions are stored as YAML (JSON
// is accepted too) and are parsed and validated when they are read. A name
// with no definition results in an error wrapping ruleswp.ErrRuleSetNotFound.
package store

import (
	"fmt"
	"regexp"

	"github.com/ezachrisen/ruleswp"
	"gopkg.in/yaml.v3"
)

var nameRx = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]*$`)

// ValidName reports whether name can be used as a rule set name in a store.
// Names are used as file names and keys, so they cannot contain path
// separators.
func ValidName(name string) bool {
	return len(name) <= 200 && nameRx.MatchString(name)
}

func checkName(name string) error {
	if !ValidName(name) {
		return fmt.Errorf("%w: invalid rule set name '%s'", ruleswp.ErrRuleSetNotFound, name)
	}
	return nil
}

func notFound(name string) error {
	return fmt.Errorf("%w: %s", ruleswp.ErrRuleSetNotFound, name)
}

// encode produces the stored form of a definition.
func encode(def *ruleswp.Definition) ([]byte, error) {
	if def == nil {
		return nil, fmt.Errorf("nil definition")
	}
	if err := def.Validate(); err != nil {
		return nil, err
	}
	if !ValidName(def.Name) {
		return nil, fmt.Errorf("%w: invalid rule set name '%s'", ruleswp.ErrInvalidRuleSet, def.Name)
	}
	return yaml.Marshal(def)
}

// decode parses a stored definition.
func decode(name string, data []byte) (*ruleswp.Definition, error) {
	def, err := ruleswp.ParseDefinition(data)
	if err != nil {
		return nil, fmt.Errorf("rule set %s: %w", name, err)
	}
	return def, nil
}
