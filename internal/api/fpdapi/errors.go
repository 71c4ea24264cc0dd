package fpdapi

import (
	"fmt"
)

// ErrorKind classifies why a fetch failed.
type ErrorKind string

const (
	// KindNetwork covers request construction, transport and body read failures.
	KindNetwork ErrorKind = "network"
	// KindStatus is a non-2xx HTTP response.
	KindStatus ErrorKind = "status"
	// KindDecode is a body that is not the expected JSON shape.
	KindDecode ErrorKind = "decode"
)

// FetchError is returned for any failed resource fetch.
type FetchError struct {
	Resource   Resource
	Kind       ErrorKind
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.Kind == KindStatus {
		return fmt.Sprintf("fetching %s: unexpected status code %d: %v", e.Resource, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("fetching %s (%s): %v", e.Resource, e.Kind, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
