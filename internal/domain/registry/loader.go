package registry

import (
	"fmt"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// LoadFile reads a YAML catalog from path and builds a Static registry.
func LoadFile(path string) (*Static, error) {
	k := koanf.New(".")
	if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrLoadCatalog, path, err)
	}
	return fromKoanf(k)
}

// LoadBytes parses an in-memory YAML catalog.
func LoadBytes(b []byte) (*Static, error) {
	k := koanf.New(".")
	if err := k.Load(rawBytes(b), yaml.Parser()); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadCatalog, err)
	}
	return fromKoanf(k)
}

func fromKoanf(k *koanf.Koanf) (*Static, error) {
	var cat Catalog
	if err := k.UnmarshalWithConf("", &cat, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrLoadCatalog, err)
	}
	return NewStatic(cat)
}

// rawBytes is a minimal koanf.Provider over a byte slice.
type rawBytes []byte

func (r rawBytes) ReadBytes() ([]byte, error) { return r, nil }

func (r rawBytes) Read() (map[string]any, error) {
	return nil, fmt.Errorf("%w: raw bytes provider requires a parser", ErrLoadCatalog)
}
