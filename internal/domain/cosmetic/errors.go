package cosmetic

import "errors"

// ErrAstroAlreadySet is returned when an astro anchor would be overwritten.
var ErrAstroAlreadySet = errors.New("astro anchor already set")
