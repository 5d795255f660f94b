package markerapi

import "errors"

var (
	ErrQuery            = errors.New("marker query failed")
	ErrUnknownKind      = errors.New("unknown marker kind")
	ErrMalformedFeature = errors.New("malformed marker feature")
)
