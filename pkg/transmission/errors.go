package transmission

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Header field names used in error reports
const (
	FieldDocumentType = "documentTypeId"
	FieldProcess      = "processTypeId"
	FieldReceiver     = "recipientId"
	FieldSender       = "senderId"
)

var (
	// ErrNoPayload is returned by Build when no payload was attached
	ErrNoPayload = errors.New("transmission: no payload")
	// ErrNoResolver is returned by Build when the endpoint must be resolved but no resolver is configured
	ErrNoResolver = errors.New("transmission: no endpoint resolver configured")
)

// MissingMetadataError lists every required header field that neither an
// override nor the payload supplied.
type MissingMetadataError struct {
	Fields []string
}

func newMissingMetadataError(fields []string) *MissingMetadataError {
	sorted := append([]string(nil), fields...)
	sort.Strings(sorted)
	return &MissingMetadataError{Fields: sorted}
}

func (e *MissingMetadataError) Error() string {
	return fmt.Sprintf("transmission request can not be built, missing [%s] metadata", strings.Join(e.Fields, ", "))
}

// OverrideNotPermittedError is returned when a field determined by the
// payload header is overridden on a builder that does not allow overrides.
type OverrideNotPermittedError struct {
	Field string
}

func (e *OverrideNotPermittedError) Error() string {
	return fmt.Sprintf("override of %s not permitted: the value is determined by the payload header", e.Field)
}
