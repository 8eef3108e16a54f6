package registry

import (
	_ "embed"
	"sync"
)

//go:embed default.yaml
var defaultCatalog []byte

var (
	defaultOnce sync.Once
	defaultReg  *Static
)

// Default returns the built-in catalog. It panics if the embedded YAML is invalid,
// which the package tests guard against.
func Default() *Static {
	defaultOnce.Do(func() {
		reg, err := LoadBytes(defaultCatalog)
		if err != nil {
			panic(err)
		}
		defaultReg = reg
	})
	return defaultReg
}
