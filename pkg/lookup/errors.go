package lookup

import (
	"context"
	"errors"
	"fmt"
	"net"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

var (
	// ErrUnknownParticipant is returned when the participant is not registered in the network
	ErrUnknownParticipant = errors.New("participant not registered")
	// ErrUnsupportedService is returned when the participant does not accept the document type and process
	ErrUnsupportedService = errors.New("document type and process not supported by participant")
	// ErrCertificateInvalid is returned when the endpoint certificate is malformed, expired or untrusted
	ErrCertificateInvalid = errors.New("endpoint certificate invalid")
	// ErrResolutionTimeout is returned when the lookup timed out or failed on the network.
	// It is the only retryable kind.
	ErrResolutionTimeout = errors.New("endpoint resolution timed out")
)

// IsRetryable reports whether a lookup failing with err may succeed when repeated
func IsRetryable(err error) bool {
	return errors.Is(err, ErrResolutionTimeout)
}

// ResolutionError carries the lookup key of a failed resolution
type ResolutionError struct {
	Participant  identifier.ParticipantIdentifier
	DocumentType identifier.DocumentTypeIdentifier
	Process      identifier.ProcessIdentifier
	Err          error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s for %s/%s: %v", e.Participant, e.DocumentType, e.Process, e.Err)
}

func (e *ResolutionError) Unwrap() error {
	return e.Err
}

// classify maps raw directory failures onto the error kinds of this package.
// Deadline and network errors become ErrResolutionTimeout; anything already
// classified is returned unchanged.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUnknownParticipant),
		errors.Is(err, ErrUnsupportedService),
		errors.Is(err, ErrCertificateInvalid),
		errors.Is(err, ErrResolutionTimeout):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrResolutionTimeout, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return fmt.Errorf("%w: %v", ErrResolutionTimeout, err)
	}
	return err
}
