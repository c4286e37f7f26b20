package ingestion

import "fmt"

// ParseError reports malformed JSON in a seed source. Offset is the byte
// position in the input at which decoding stopped.
type ParseError struct {
	Source string
	Offset int64
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parsing seed source %s at offset %d: %v", e.Source, e.Offset, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }
