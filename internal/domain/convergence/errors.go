package convergence

import "errors"

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid convergence config")
