package errors

import (
	stdErrors "errors"
	"fmt"
	"net/http"
)

type Code string

const (
	CodeValidation   Code = "VALIDATION_ERROR"
	CodeUnauthorized Code = "UNAUTHORIZED"
	CodeForbidden    Code = "FORBIDDEN"
	CodeNotFound     Code = "NOT_FOUND"
	CodeConflict     Code = "CONFLICT"
	CodeNetwork      Code = "NETWORK_ERROR"
	CodeTimeout      Code = "TIMEOUT"
	CodeBackend      Code = "BACKEND_ERROR"
	CodeDecode       Code = "DECODE_ERROR"
	CodeInternal     Code = "INTERNAL_ERROR"
)

// Metadata describes how callers should treat a code: whether a retry can
// help, whether the user must sign in first, and what to show when the
// underlying message is not fit for display.
type Metadata struct {
	Retryable      bool
	AuthRequired   bool
	PublicMessage  string
	DetailsAllowed bool
}

var metadataByCode = map[Code]Metadata{
	CodeValidation: {
		Retryable:      false,
		PublicMessage:  "validation failed",
		DetailsAllowed: true,
	},
	CodeUnauthorized: {
		Retryable:     false,
		AuthRequired:  true,
		PublicMessage: "please sign in to continue",
	},
	CodeForbidden: {
		Retryable:     false,
		PublicMessage: "access denied",
	},
	CodeNotFound: {
		Retryable:     false,
		PublicMessage: "resource not found",
	},
	CodeConflict: {
		Retryable:     false,
		PublicMessage: "conflict detected",
	},
	CodeNetwork: {
		Retryable:     true,
		PublicMessage: "cannot reach the server, check your connection",
	},
	CodeTimeout: {
		Retryable:     true,
		PublicMessage: "the request timed out, please try again",
	},
	CodeBackend: {
		Retryable:      false,
		PublicMessage:  "the server rejected the request",
		DetailsAllowed: true,
	},
	CodeDecode: {
		Retryable:     false,
		PublicMessage: "unexpected server response",
	},
	CodeInternal: {
		Retryable:     true,
		PublicMessage: "something went wrong",
	},
}

func MetadataFor(code Code) Metadata {
	if meta, ok := metadataByCode[code]; ok {
		return meta
	}
	return metadataByCode[CodeInternal]
}

// FromHTTPStatus maps a backend response status to the client-side code used
// when the response body carries no usable envelope.
func FromHTTPStatus(status int) Code {
	switch {
	case status == http.StatusUnauthorized:
		return CodeUnauthorized
	case status == http.StatusForbidden:
		return CodeForbidden
	case status == http.StatusNotFound:
		return CodeNotFound
	case status == http.StatusConflict:
		return CodeConflict
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return CodeValidation
	case status == http.StatusRequestTimeout || status == http.StatusGatewayTimeout:
		return CodeTimeout
	default:
		return CodeBackend
	}
}

type Error struct {
	code    Code
	message string
	details any
	cause   error
}

func New(code Code, message string) *Error {
	return &Error{code: code, message: message}
}

func Wrap(code Code, err error, message string) *Error {
	if err == nil {
		return New(code, message)
	}
	return &Error{code: code, message: message, cause: err}
}

func (e *Error) Code() Code {
	if e == nil {
		return CodeInternal
	}
	return e.code
}

func (e *Error) Message() string {
	if e == nil {
		return ""
	}
	return e.message
}

func (e *Error) Details() any {
	if e == nil {
		return nil
	}
	return e.details
}

func (e *Error) WithDetails(details any) *Error {
	if e == nil {
		return nil
	}
	e.details = details
	return e
}

func (e *Error) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("%s: %s", e.code, e.message)
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

func As(err error) *Error {
	if err == nil {
		return nil
	}
	var typed *Error
	if stdErrors.As(err, &typed) {
		return typed
	}
	return nil
}

// UserMessage resolves the string shown to the shopper for any error: the
// typed message when the code allows it, the code's public message otherwise.
func UserMessage(err error) string {
	typed := As(err)
	if typed == nil {
		return MetadataFor(CodeInternal).PublicMessage
	}
	meta := MetadataFor(typed.Code())
	switch typed.Code() {
	case CodeValidation, CodeUnauthorized, CodeForbidden, CodeNotFound, CodeConflict, CodeBackend:
		if m := typed.Message(); m != "" {
			return m
		}
	}
	return meta.PublicMessage
}
