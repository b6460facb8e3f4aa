package quote

import "errors"

var (
	// ErrMalformedResponse is returned when a segment carries no v_<market><code>="..." assignment.
	ErrMalformedResponse = errors.New("malformed quote response")
	// ErrInsufficientFields is returned when the payload is shorter than every known layout.
	ErrInsufficientFields = errors.New("insufficient quote fields")
	// ErrInvalidLayout is returned by NewParser for an unusable offset table.
	ErrInvalidLayout = errors.New("invalid quote layout")
)
