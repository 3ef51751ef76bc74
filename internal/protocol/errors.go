package protocol

import "errors"

var (
	ErrTruncated        = errors.New("protocol: truncated data")
	ErrInvalidLength    = errors.New("protocol: invalid length")
	ErrNotRequest       = errors.New("protocol: payload is not a request")
	ErrTooManyItems     = errors.New("protocol: too many items for count field")
	ErrUnknownPreset    = errors.New("protocol: unknown mesh preset")
	ErrInvalidFilter    = errors.New("protocol: invalid filter descriptor")
	ErrInvalidAxisCode  = errors.New("protocol: invalid mesh axis code")
	ErrUnknownGesture   = errors.New("protocol: unknown gesture")
)
