package webhook

import "errors"

// Sentinel errors returned by Dispatcher operations. Handler errors are
// never among these: Dispatch returns the handler's own error together with
// OutcomeHandlerError, and ServeHTTP reports it in a 200 response body.
var (
	ErrDisabled     = errors.New("webhook: disabled")
	ErrNotFound     = errors.New("webhook: not found")
	ErrPathConflict = errors.New("webhook: path already registered")
	ErrUnauthorized = errors.New("webhook: signature missing or invalid")
)
