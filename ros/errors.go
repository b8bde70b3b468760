package ros

import (
	"github.com/pkg/errors"
)

// Sentinel errors returned by the node runtime. Transport/protocol failures
// are wrapped around these with errors.Wrap so callers can still recover
// the cause with errors.Cause.
var (
	// ErrShutdown is returned by ServiceClient.Call once the client has
	// been shut down; other operations after shutdown are no-ops.
	ErrShutdown = errors.New("already shut down")

	// ErrCallInProgress is returned by ServiceClient.Call when a call is
	// already in flight on the same client object.
	ErrCallInProgress = errors.New("service client call already in progress")

	// ErrIncompatibleType is returned when a peer's md5sum/type does not
	// match and is not the wildcard "*".
	ErrIncompatibleType = errors.New("incompatible message type")

	// ErrNoSuchTopic/ErrNoSuchService mirror the Slave API failure replies.
	ErrNoSuchTopic   = errors.New("no such topic")
	ErrNoSuchService = errors.New("no such service")

	// ErrMasterAPI wraps a non-success status code/message pair returned
	// by the Master.
	ErrMasterAPI = errors.New("master API call failed")
)

// masterAPIError is the concrete error value attached to ErrMasterAPI,
// carrying the 3-tuple fields the ROS Master API documents.
type masterAPIError struct {
	StatusCode    int32
	StatusMessage string
	Value         interface{}
}

func (e *masterAPIError) Error() string {
	return e.StatusMessage
}

// Unwrap lets errors.Is(err, ErrMasterAPI) match a *masterAPIError while
// errors.As(err, &masterAPIError{}) still recovers the status/value detail.
func (e *masterAPIError) Unwrap() error {
	return ErrMasterAPI
}

func newMasterAPIError(code int32, msg string, value interface{}) error {
	return errors.Wrapf(&masterAPIError{StatusCode: code, StatusMessage: msg, Value: value}, "master API call failed with status %d", code)
}
