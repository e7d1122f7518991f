package decoder

import "fmt"

// DecodeError reports a blob whose base64 or JSON structure could not be
// parsed. Out-of-range values never produce a DecodeError.
type DecodeError struct {
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Field, e.Err)
}

func (e *DecodeError) Unwrap() error { return e.Err }
