package registry

import "errors"

// Sentinel errors returned by Registry operations. Handler errors are never
// among these — they surface as Failed executions, not as operation errors.
var (
	ErrDisabled   = errors.New("registry: disabled")
	ErrNotFound   = errors.New("registry: not found")
	ErrOverloaded = errors.New("registry: overloaded")
)
