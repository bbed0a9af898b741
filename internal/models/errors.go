package models

import (
	"errors"
	"fmt"
	"net/http"
)

// Settings related errors
var (
	ErrMissingCredential = errors.New("API key is not configured")
	ErrInvalidSchema     = errors.New("invalid JSON structure")
)

// Image related errors
var (
	ErrEmptyImage       = errors.New("image is empty")
	ErrUnsupportedImage = errors.New("image is not a PNG, JPEG or GIF")
	ErrNoImage          = errors.New("no image has been captured yet")
)

// Session related errors
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrSessionExpired  = errors.New("session expired")
	ErrNoResult        = errors.New("no analysis result available")
)

// ErrorKind classifies why a single analysis action failed.
type ErrorKind string

const (
	KindConfiguration ErrorKind = "configuration"
	KindImage         ErrorKind = "image"
	KindTransport     ErrorKind = "transport"
	KindParse         ErrorKind = "parse"
)

// AnalysisError is the failure half of an analysis outcome.
type AnalysisError struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *AnalysisError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *AnalysisError) Unwrap() error {
	return e.Cause
}

// UserMessage is the text shown to the person holding the camera.
// The cause is included verbatim for transport failures so that auth and
// rate-limit messages from the endpoint reach the user unchanged.
func (e *AnalysisError) UserMessage() string {
	switch e.Kind {
	case KindConfiguration:
		return "Please enter your API key on the Settings page."
	case KindImage:
		if e.Cause != nil {
			return fmt.Sprintf("The captured image cannot be used: %v", e.Cause)
		}
		return "The captured image cannot be used."
	case KindParse:
		return fmt.Sprintf("The model replied, but not with valid JSON: %v", e.Cause)
	default:
		if e.Cause != nil {
			return fmt.Sprintf("Error processing the image: %v", e.Cause)
		}
		return "Error processing the image: " + e.Message
	}
}

// StatusCode maps the failure kind onto an HTTP status.
func (e *AnalysisError) StatusCode() int {
	switch e.Kind {
	case KindConfiguration, KindImage:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func NewConfigurationError(message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindConfiguration, Message: message, Cause: cause}
}

func NewImageError(message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindImage, Message: message, Cause: cause}
}

func NewTransportError(message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindTransport, Message: message, Cause: cause}
}

func NewParseError(message string, cause error) *AnalysisError {
	return &AnalysisError{Kind: KindParse, Message: message, Cause: cause}
}

// KindOf returns the kind of a classified error, or "" for anything else.
func KindOf(err error) ErrorKind {
	var ae *AnalysisError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}
