package registry

import "errors"

// Sentinel errors for catalog loading.
var (
	ErrInvalidCatalog = errors.New("invalid registry catalog")
	ErrLoadCatalog    = errors.New("load registry catalog failed")
)
