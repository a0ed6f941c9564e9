package nuvla

import "errors"

var (
	// ErrNotFound is returned when the addressed resource does not exist
	ErrNotFound = errors.New("resource not found")
	// ErrUnauthorized is returned when the API key is rejected
	ErrUnauthorized = errors.New("unauthorized")

	errUnexpectedStatusCode = errors.New("unexpected status code")
	errMissingResourceID    = errors.New("response has no resource-id")
)
