// Package identifier provides the immutable identifier value types used to
// address documents in a four-corner e-delivery network: participants,
// document types, processes and messages.
//
// All identifiers are comparable value types. Two identifiers are equal when
// their scheme and value are equal, so they can be used directly as map keys
// and compared with ==. Validation happens in the constructors; there are no
// setters.
package identifier

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// Identifier schemes used on the PEPPOL network
const (
	// SchemeParticipant is the ISO 6523 actor identifier scheme
	SchemeParticipant = "iso6523-actorid-upis"
	// SchemeDocumentType is the BusDox document identifier scheme
	SchemeDocumentType = "busdox-docid-qns"
	// SchemeDocumentTypeWildcard is the PEPPOL wildcard document identifier scheme
	SchemeDocumentTypeWildcard = "peppol-doctype-wildcard"
	// SchemeProcess is the CEN BII process identifier scheme
	SchemeProcess = "cenbii-procid-ubl"
)

// schemeSeparator separates scheme and value in the URI form of an identifier
const schemeSeparator = "::"

var iso6523Value = regexp.MustCompile(`^[0-9]{4}:[^\s]{1,50}$`)

// MalformedIdentifierError is returned when an identifier fails syntax validation.
type MalformedIdentifierError struct {
	Field  string
	Value  string
	Reason string
}

func (e *MalformedIdentifierError) Error() string {
	return fmt.Sprintf("malformed %s %q: %s", e.Field, e.Value, e.Reason)
}

// ParticipantIdentifier identifies an addressable party on the network.
type ParticipantIdentifier struct {
	scheme string
	value  string
}

// NewParticipantIdentifier creates a participant identifier in the ISO 6523 scheme.
// The value is expected as "<icd>:<id>", for example "9908:810017902".
func NewParticipantIdentifier(value string) (ParticipantIdentifier, error) {
	return NewParticipantIdentifierWithScheme(SchemeParticipant, value)
}

// NewParticipantIdentifierWithScheme creates a participant identifier in the given scheme.
// Values are case insensitive and stored lower case.
func NewParticipantIdentifierWithScheme(scheme, value string) (ParticipantIdentifier, error) {
	scheme = strings.TrimSpace(scheme)
	value = strings.ToLower(strings.TrimSpace(value))

	if scheme == "" {
		return ParticipantIdentifier{}, &MalformedIdentifierError{Field: "participant scheme", Value: scheme, Reason: "must not be empty"}
	}
	if value == "" {
		return ParticipantIdentifier{}, &MalformedIdentifierError{Field: "participant", Value: value, Reason: "must not be empty"}
	}
	if scheme == SchemeParticipant && !iso6523Value.MatchString(value) {
		return ParticipantIdentifier{}, &MalformedIdentifierError{Field: "participant", Value: value, Reason: "expected <icd>:<identifier> with a four digit ICD"}
	}

	return ParticipantIdentifier{scheme: scheme, value: value}, nil
}

// ParseParticipantIdentifier parses either the URI form "scheme::value" or a
// bare ISO 6523 value.
func ParseParticipantIdentifier(s string) (ParticipantIdentifier, error) {
	if scheme, value, ok := strings.Cut(s, schemeSeparator); ok {
		return NewParticipantIdentifierWithScheme(scheme, value)
	}
	return NewParticipantIdentifier(s)
}

// MustParticipant is like NewParticipantIdentifier but panics on error.
// It is intended for package level constants.
func MustParticipant(value string) ParticipantIdentifier {
	p, err := NewParticipantIdentifier(value)
	if err != nil {
		panic(err)
	}
	return p
}

// Scheme returns the identifier scheme
func (p ParticipantIdentifier) Scheme() string { return p.scheme }

// Value returns the identifier value
func (p ParticipantIdentifier) Value() string { return p.value }

// IsZero reports whether p is the unset identifier
func (p ParticipantIdentifier) IsZero() bool { return p.value == "" }

// Equal reports whether p and o identify the same participant
func (p ParticipantIdentifier) Equal(o ParticipantIdentifier) bool { return p == o }

// URI returns the "scheme::value" form used in SMP URLs
func (p ParticipantIdentifier) URI() string { return p.scheme + schemeSeparator + p.value }

// ICD returns the ISO 6523 international code designator, or "" for other schemes.
func (p ParticipantIdentifier) ICD() string {
	if p.scheme != SchemeParticipant {
		return ""
	}
	icd, _, _ := strings.Cut(p.value, ":")
	return icd
}

func (p ParticipantIdentifier) String() string { return p.value }

// DocumentTypeIdentifier identifies a kind of business document.
type DocumentTypeIdentifier struct {
	scheme  string
	value   string
	acronym string
}

// NewDocumentTypeIdentifier creates a raw document type identifier in the BusDox scheme.
func NewDocumentTypeIdentifier(value string) (DocumentTypeIdentifier, error) {
	return NewDocumentTypeIdentifierWithScheme(SchemeDocumentType, value)
}

// NewDocumentTypeIdentifierWithScheme creates a raw document type identifier.
func NewDocumentTypeIdentifierWithScheme(scheme, value string) (DocumentTypeIdentifier, error) {
	scheme = strings.TrimSpace(scheme)
	value = strings.TrimSpace(value)
	if err := validateRaw("document type", scheme, value); err != nil {
		return DocumentTypeIdentifier{}, err
	}
	d := DocumentTypeIdentifier{scheme: scheme, value: value}
	if a, ok := documentTypeAcronymFor(d); ok {
		d.acronym = a
	}
	return d, nil
}

// ParseDocumentTypeIdentifier accepts a well-known acronym ("INVOICE",
// "Invoice", "credit-note"), the URI form "scheme::value", or a raw value.
func ParseDocumentTypeIdentifier(s string) (DocumentTypeIdentifier, error) {
	if d, ok := DocumentTypeByAcronym(s); ok {
		return d, nil
	}
	// Document identifiers contain "::" themselves, so only a known scheme prefix counts.
	for _, scheme := range []string{SchemeDocumentType, SchemeDocumentTypeWildcard} {
		if rest, ok := strings.CutPrefix(strings.TrimSpace(s), scheme+schemeSeparator); ok {
			return NewDocumentTypeIdentifierWithScheme(scheme, rest)
		}
	}
	return NewDocumentTypeIdentifier(s)
}

// Scheme returns the identifier scheme
func (d DocumentTypeIdentifier) Scheme() string { return d.scheme }

// Value returns the identifier value
func (d DocumentTypeIdentifier) Value() string { return d.value }

// Acronym returns the well-known acronym, or "" for raw identifiers
func (d DocumentTypeIdentifier) Acronym() string { return d.acronym }

// IsZero reports whether d is the unset identifier
func (d DocumentTypeIdentifier) IsZero() bool { return d.value == "" }

// Equal compares scheme and value. The acronym is derived data and ignored.
func (d DocumentTypeIdentifier) Equal(o DocumentTypeIdentifier) bool {
	return d.scheme == o.scheme && d.value == o.value
}

// URI returns the "scheme::value" form used in SMP URLs
func (d DocumentTypeIdentifier) URI() string { return d.scheme + schemeSeparator + d.value }

func (d DocumentTypeIdentifier) String() string { return d.value }

// ProcessIdentifier identifies the business process governing an exchange.
type ProcessIdentifier struct {
	scheme  string
	value   string
	acronym string
}

// NewProcessIdentifier creates a raw process identifier in the CEN BII scheme.
func NewProcessIdentifier(value string) (ProcessIdentifier, error) {
	return NewProcessIdentifierWithScheme(SchemeProcess, value)
}

// NewProcessIdentifierWithScheme creates a raw process identifier.
func NewProcessIdentifierWithScheme(scheme, value string) (ProcessIdentifier, error) {
	scheme = strings.TrimSpace(scheme)
	value = strings.TrimSpace(value)
	if err := validateRaw("process", scheme, value); err != nil {
		return ProcessIdentifier{}, err
	}
	p := ProcessIdentifier{scheme: scheme, value: value}
	if a, ok := processAcronymFor(p); ok {
		p.acronym = a
	}
	return p, nil
}

// ParseProcessIdentifier accepts a well-known acronym ("ORDER_ONLY",
// "Order-only"), the URI form "scheme::value", or a raw value.
func ParseProcessIdentifier(s string) (ProcessIdentifier, error) {
	if p, ok := ProcessByAcronym(s); ok {
		return p, nil
	}
	if scheme, value, ok := strings.Cut(strings.TrimSpace(s), schemeSeparator); ok && scheme == SchemeProcess {
		return NewProcessIdentifierWithScheme(scheme, value)
	}
	return NewProcessIdentifier(s)
}

// Scheme returns the identifier scheme
func (p ProcessIdentifier) Scheme() string { return p.scheme }

// Value returns the identifier value
func (p ProcessIdentifier) Value() string { return p.value }

// Acronym returns the well-known acronym, or "" for raw identifiers
func (p ProcessIdentifier) Acronym() string { return p.acronym }

// IsZero reports whether p is the unset identifier
func (p ProcessIdentifier) IsZero() bool { return p.value == "" }

// Equal compares scheme and value.
func (p ProcessIdentifier) Equal(o ProcessIdentifier) bool {
	return p.scheme == o.scheme && p.value == o.value
}

// URI returns the "scheme::value" form used in SMP URLs
func (p ProcessIdentifier) URI() string { return p.scheme + schemeSeparator + p.value }

func (p ProcessIdentifier) String() string { return p.value }

// MessageIdentifier uniquely identifies one transmission.
type MessageIdentifier struct {
	value string
}

// NewMessageIdentifier wraps a caller supplied message id.
func NewMessageIdentifier(value string) (MessageIdentifier, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return MessageIdentifier{}, &MalformedIdentifierError{Field: "message identifier", Value: value, Reason: "must not be empty"}
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return MessageIdentifier{}, &MalformedIdentifierError{Field: "message identifier", Value: value, Reason: "must not contain whitespace"}
	}
	return MessageIdentifier{value: value}, nil
}

// GenerateMessageIdentifier returns a fresh random message id.
func GenerateMessageIdentifier() MessageIdentifier {
	return MessageIdentifier{value: uuid.New().String()}
}

// GenerateMessageIdentifierExcluding returns a fresh message id that differs
// from every value in taken.
func GenerateMessageIdentifierExcluding(taken ...string) MessageIdentifier {
	for {
		id := GenerateMessageIdentifier()
		clash := false
		for _, t := range taken {
			if strings.EqualFold(strings.TrimSpace(t), id.value) {
				clash = true
				break
			}
		}
		if !clash {
			return id
		}
	}
}

// Value returns the message id
func (m MessageIdentifier) Value() string { return m.value }

// IsZero reports whether m is the unset identifier
func (m MessageIdentifier) IsZero() bool { return m.value == "" }

func (m MessageIdentifier) String() string { return m.value }

func validateRaw(field, scheme, value string) error {
	if scheme == "" {
		return &MalformedIdentifierError{Field: field + " scheme", Value: scheme, Reason: "must not be empty"}
	}
	if value == "" {
		return &MalformedIdentifierError{Field: field, Value: value, Reason: "must not be empty"}
	}
	if strings.ContainsAny(value, " \t\r\n") {
		return &MalformedIdentifierError{Field: field, Value: value, Reason: "must not contain whitespace"}
	}
	return nil
}
