package parser

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a whole-file parse failure.
type ErrorCode string

const (
	ErrBadCredential  ErrorCode = "BAD_CREDENTIAL"
	ErrMissingParam   ErrorCode = "MISSING_PARAM"
	ErrCorrupt        ErrorCode = "CORRUPT"
	ErrNoTransactions ErrorCode = "NO_TRANSACTIONS"
)

// Error is returned by Parse when the file as a whole cannot be imported.
// Row-level problems never produce an Error; they are collected in Result.Errors.
type Error struct {
	Code    ErrorCode
	Parser  string
	Message string
	Cause   error
}

func (e *Error) Error() string {
	prefix := fmt.Sprintf("[%s]", e.Code)
	if e.Parser != "" {
		prefix = fmt.Sprintf("[%s] %s", e.Code, e.Parser)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError builds a whole-file parse error.
func NewError(code ErrorCode, parser, message string, cause error) *Error {
	return &Error{Code: code, Parser: parser, Message: message, Cause: cause}
}

// CodeOf returns the code of the first *Error in err's chain, or "" if none.
func CodeOf(err error) ErrorCode {
	var perr *Error
	if errors.As(err, &perr) {
		return perr.Code
	}
	return ""
}

// RowError describes one malformed input row. Line is 1-based; 0 means the
// source has no line concept (JSON, XML).
type RowError struct {
	Line    int    `json:"line"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (e RowError) Error() string {
	switch {
	case e.Line > 0 && e.Field != "":
		return fmt.Sprintf("line %d: %s: %s", e.Line, e.Field, e.Message)
	case e.Line > 0:
		return fmt.Sprintf("line %d: %s", e.Line, e.Message)
	case e.Field != "":
		return fmt.Sprintf("%s: %s", e.Field, e.Message)
	}
	return e.Message
}
