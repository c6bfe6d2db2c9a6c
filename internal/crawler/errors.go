package crawler

import (
	"errors"
	"fmt"
)

var (
	// ErrRootUnreachable reports that a root listing could not be fetched.
	ErrRootUnreachable = errors.New("root catalog unreachable")
	// ErrInvalidContent reports a response that is not a JSON object.
	ErrInvalidContent = errors.New("invalid content")
	// ErrRemote reports a JSON error envelope returned by the catalog server.
	ErrRemote = errors.New("remote error")
)

// Failure reasons carried by FetchError.
const (
	ReasonRetriesExhausted = "retries-exhausted"
	ReasonInvalidContent   = "invalid-content"
	ReasonRemoteError      = "remote-error"
	ReasonTransport        = "transport"
	ReasonStatus           = "status"
)

// FetchError describes a failed catalog fetch.
type FetchError struct {
	URL        string
	LastStatus int
	Reason     string
	Attempts   int
	Err        error
}

func (e *FetchError) Error() string {
	msg := fmt.Sprintf("fetch %s: %s", e.URL, e.Reason)
	if e.LastStatus != 0 {
		msg += fmt.Sprintf(" (status %d)", e.LastStatus)
	}
	if e.Attempts > 0 {
		msg += fmt.Sprintf(" after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *FetchError) Unwrap() error {
	return e.Err
}

// Transient reports whether another attempt could succeed.
func (e *FetchError) Transient() bool {
	return e.Reason == ReasonTransport || e.Reason == ReasonStatus
}
