package eastmoney

import "errors"

var (
	// ErrInvalidCode is returned for codes that are not six digits.
	ErrInvalidCode = errors.New("invalid stock code")
	// ErrInvalidParam is returned for out of range days or limit values.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrNoData is returned when the upstream answers without a data payload.
	ErrNoData = errors.New("no data returned")
)
