package classifier

import "errors"

var (
	ErrModelNotFound  = errors.New("model artifact not found")
	ErrMalformedModel = errors.New("malformed model artifact")
)
