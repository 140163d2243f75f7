package service

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/MimeLyc/news-video-assembler/internal/assembler"
	"github.com/MimeLyc/news-video-assembler/internal/media"
	"github.com/MimeLyc/news-video-assembler/pkg/log"
)

type ErrorType int

const (
	ErrValidation ErrorType = iota
	ErrMedia
	ErrEmptyBatch
	ErrAssembly
	ErrPersistence
	ErrCanceled
	ErrConflict
	ErrUnknown
)

// PipelineError is the single failure a pipeline run reports to its caller.
type PipelineError struct {
	Type    ErrorType
	Message string
	Context map[string]any
	Cause   error
}

func NewError(errorType ErrorType, message string) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
	}
}

func NewErrorWithCause(errorType ErrorType, message string, cause error) *PipelineError {
	return &PipelineError{
		Type:    errorType,
		Message: message,
		Context: make(map[string]any),
		Cause:   cause,
	}
}

func (e *PipelineError) Error() string {
	var parts []string
	parts = append(parts, fmt.Sprintf("[%s] %s", e.Type.String(), e.Message))

	if len(e.Context) > 0 {
		keys := make([]string, 0, len(e.Context))
		for k := range e.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		ctxParts := make([]string, 0, len(keys))
		for _, k := range keys {
			ctxParts = append(ctxParts, fmt.Sprintf("%s=%v", k, e.Context[k]))
		}
		parts = append(parts, fmt.Sprintf("context: %s", strings.Join(ctxParts, ", ")))
	}

	if e.Cause != nil {
		parts = append(parts, fmt.Sprintf("cause: %v", e.Cause))
	}

	return strings.Join(parts, " | ")
}

func (e *PipelineError) Unwrap() error {
	return e.Cause
}

func (e *PipelineError) WithContext(key string, value any) *PipelineError {
	e.Context[key] = value
	return e
}

// Details is the human readable failure reason without the type prefix.
func (e *PipelineError) Details() string {
	if e.Cause != nil {
		return e.Cause.Error()
	}
	return e.Message
}

func (t ErrorType) String() string {
	switch t {
	case ErrValidation:
		return "Validation"
	case ErrMedia:
		return "Media"
	case ErrEmptyBatch:
		return "EmptyBatch"
	case ErrAssembly:
		return "Assembly"
	case ErrPersistence:
		return "Persistence"
	case ErrCanceled:
		return "Canceled"
	case ErrConflict:
		return "Conflict"
	default:
		return "Unknown"
	}
}

// classifyAssembly maps an assembly failure onto the error taxonomy.
func classifyAssembly(err error) ErrorType {
	var mediaErr *media.Error
	switch {
	case errors.Is(err, assembler.ErrEmptyBatch):
		return ErrEmptyBatch
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return ErrCanceled
	case errors.As(err, &mediaErr):
		return ErrMedia
	default:
		return ErrAssembly
	}
}

func IsErrorType(err error, errorType ErrorType) bool {
	var pErr *PipelineError
	if errors.As(err, &pErr) {
		return pErr.Type == errorType
	}
	return false
}

func WrapError(err error, errorType ErrorType, message string) *PipelineError {
	return NewErrorWithCause(errorType, message, err)
}

// SafeExecute turns a panic inside fn into an ErrUnknown.
func SafeExecute(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error("Recovered from panic: %v", r)
			err = NewError(ErrUnknown, fmt.Sprintf("runtime error: %v", r))
		}
	}()

	return fn()
}
