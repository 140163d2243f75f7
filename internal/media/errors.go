package media

import (
	"errors"
	"fmt"
)

// Failure kinds, matched with errors.Is.
var (
	ErrTranscode     = errors.New("transcode failed")
	ErrConcatenation = errors.New("concatenation failed")
	ErrExtraction    = errors.New("audio extraction failed")
	ErrProbe         = errors.New("probe failed")
)

// Error describes one failed media operation together with the tool's stderr.
type Error struct {
	Op      string
	Kind    error
	Message string
	Output  string
	Err     error
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	msg := fmt.Sprintf("%s: %s", e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Output != "" {
		msg += " (output: " + tail(e.Output, 512) + ")"
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e == nil {
		return nil
	}
	ret := []error{e.Kind}
	if e.Err != nil {
		ret = append(ret, e.Err)
	}
	return ret
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
