// Package errors provides structured error types for the event pipeline.
// Every error carries a category, code, message, and retryable flag so the
// binaries can report failures consistently.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCategory classifies errors by pipeline stage.
type ErrorCategory string

const (
	ErrCategoryValidation ErrorCategory = "VALIDATION"
	ErrCategoryIO         ErrorCategory = "IO"
	ErrCategoryDecode     ErrorCategory = "DECODE"
	ErrCategoryWorker     ErrorCategory = "WORKER"
	ErrCategoryStorage    ErrorCategory = "STORAGE"
	ErrCategoryLedger     ErrorCategory = "LEDGER"
	ErrCategoryInternal   ErrorCategory = "INTERNAL"
)

// Error codes for each category.
const (
	// Validation codes
	CodeInvalidConfig    = "INVALID_CONFIG"
	CodeInvalidBatchSize = "INVALID_BATCH_SIZE"

	// IO codes
	CodeOpenFailed  = "OPEN_FAILED"
	CodeReadFailed  = "READ_FAILED"
	CodeWriteFailed = "WRITE_FAILED"

	// Decode codes
	CodeMalformedRecord = "MALFORMED_RECORD"

	// Worker codes
	CodeBatchFailed = "BATCH_FAILED"

	// Storage codes
	CodeUploadFailed   = "UPLOAD_FAILED"
	CodeDownloadFailed = "DOWNLOAD_FAILED"
	CodeObjectNotFound = "OBJECT_NOT_FOUND"

	// Ledger codes
	CodeLedgerWriteFailed = "LEDGER_WRITE_FAILED"
	CodeLedgerReadFailed  = "LEDGER_READ_FAILED"
	CodeRecordNotFound    = "RECORD_NOT_FOUND"

	// Internal codes
	CodeUnexpected = "UNEXPECTED"
)

// PipelineError is the structured error type used throughout the pipeline.
type PipelineError struct {
	Category  ErrorCategory
	Code      string
	Message   string
	Details   map[string]interface{}
	Cause     error
	Retryable bool
}

// Error returns a formatted error string.
func (e *PipelineError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s: %v", e.Category, e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s", e.Category, e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As compatibility.
func (e *PipelineError) Unwrap() error {
	return e.Cause
}

// Is reports whether the target matches this error's category and code.
func (e *PipelineError) Is(target error) bool {
	var t *PipelineError
	if errors.As(target, &t) {
		return e.Category == t.Category && e.Code == t.Code
	}
	return false
}

// New creates a PipelineError without a cause.
func New(category ErrorCategory, code, message string) *PipelineError {
	return Wrap(category, code, message, nil)
}

// Wrap creates a PipelineError around cause. Retryable is derived from the
// category and code.
func Wrap(category ErrorCategory, code, message string, cause error) *PipelineError {
	_, retry := retryable[key{category, code}]
	return &PipelineError{
		Category:  category,
		Code:      code,
		Message:   message,
		Cause:     cause,
		Retryable: retry,
	}
}

// WithDetails returns a copy of the error with additional details.
func (e *PipelineError) WithDetails(details map[string]interface{}) *PipelineError {
	cp := *e
	cp.Details = details
	return &cp
}

func pipelineError(err error) (*PipelineError, bool) {
	var pe *PipelineError
	ok := errors.As(err, &pe)
	return pe, ok
}

// IsRetryable checks whether an error (or its chain) is retryable.
func IsRetryable(err error) bool {
	pe, ok := pipelineError(err)
	return ok && pe.Retryable
}

// GetCategory returns the category of the first PipelineError in the chain,
// or "" if there is none.
func GetCategory(err error) ErrorCategory {
	if pe, ok := pipelineError(err); ok {
		return pe.Category
	}
	return ""
}

// GetCode returns the code of the first PipelineError in the chain, or "".
func GetCode(err error) string {
	if pe, ok := pipelineError(err); ok {
		return pe.Code
	}
	return ""
}

type key struct {
	category ErrorCategory
	code     string
}

// Only transfers to object storage may be retried; every other failure is
// fatal to the run.
var retryable = map[key]struct{}{
	{ErrCategoryStorage, CodeUploadFailed}:   {},
	{ErrCategoryStorage, CodeDownloadFailed}: {},
}

// Convenience constructors for common errors.

func NewValidationError(code, message string) *PipelineError {
	return New(ErrCategoryValidation, code, message)
}

func NewIOError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryIO, code, message, cause)
}

func NewDecodeError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryDecode, CodeMalformedRecord, message, cause)
}

func NewWorkerError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryWorker, CodeBatchFailed, message, cause)
}

func NewStorageError(code, message string, cause error) *PipelineError {
	return Wrap(ErrCategoryStorage, code, message, cause)
}

func NewLedgerError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryLedger, CodeLedgerWriteFailed, message, cause)
}

func NewInternalError(message string, cause error) *PipelineError {
	return Wrap(ErrCategoryInternal, CodeUnexpected, message, cause)
}

// Sentinels for errors.Is matching by category and code.
var (
	ErrMalformedRecord  = New(ErrCategoryDecode, CodeMalformedRecord, "malformed record")
	ErrInvalidBatchSize = New(ErrCategoryValidation, CodeInvalidBatchSize, "invalid batch size")
	ErrInvalidConfig    = New(ErrCategoryValidation, CodeInvalidConfig, "invalid configuration")
	ErrBatchFailed      = New(ErrCategoryWorker, CodeBatchFailed, "batch failed")
)
