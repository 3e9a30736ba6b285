package ops

import "errors"

// ErrConfigValidation rejects a configuration before it reaches the core.
var ErrConfigValidation = errors.New("ops: invalid configuration")
