package pipeline

import "errors"

var (
	errUnparseable = errors.New("unparseable payload")
)
