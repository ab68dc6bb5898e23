package rules

import (
	"fmt"
	"os"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Registry holds the rules of every configured source.
type Registry map[string]*Rules

// Get returns the rules for a source id, nil if unknown.
func (reg Registry) Get(id string) *Rules {
	return reg[id]
}

// IDs lists the configured source ids.
func (reg Registry) IDs() []string {
	out := make([]string, 0, len(reg))
	for id := range reg {
		out = append(out, id)
	}
	return out
}

// Load reads a registry from a YAML file mapping source id to rules. A missing
// path is not an error: the built-in SINAPI defaults are returned so the
// service runs without a rules file.
func Load(path string) (Registry, error) {
	if path == "" {
		return Registry{"sinapi": DefaultSINAPI()}, nil
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Registry{"sinapi": DefaultSINAPI()}, nil
	}

	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("load rules file %s: %w", path, err)
	}

	reg := Registry{}
	if err := k.Unmarshal("", &reg); err != nil {
		return nil, fmt.Errorf("unmarshal rules file %s: %w", path, err)
	}

	for id, r := range reg {
		if r == nil {
			r = &Rules{}
			reg[id] = r
		}
		r.SourceID = id
		r.ApplyDefaults()
		if err := r.Validate(); err != nil {
			return nil, fmt.Errorf("rules for source %q: %w", id, err)
		}
	}
	if _, ok := reg["sinapi"]; !ok {
		reg["sinapi"] = DefaultSINAPI()
	}
	return reg, nil
}
