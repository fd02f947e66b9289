package lookup

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

// Directory is the network lookup protocol: it finds the endpoint serving a
// participant for a document type and process. Implementations report
// failures with the error kinds of this package.
type Directory interface {
	Lookup(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error)
}

// DirectoryFunc adapts a function to the Directory interface
type DirectoryFunc func(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error)

// Lookup implements Directory
func (f DirectoryFunc) Lookup(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error) {
	return f(ctx, participant, documentType, process)
}

// StaticDirectory serves fixed endpoints, for point-to-point setups and tests.
// A registration with a zero document type or process matches any value.
type StaticDirectory struct {
	mu           sync.RWMutex
	participants map[identifier.ParticipantIdentifier][]staticEntry
}

type staticEntry struct {
	documentType identifier.DocumentTypeIdentifier
	process      identifier.ProcessIdentifier
	endpoint     *EndpointData
}

func (e staticEntry) matches(documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) bool {
	return (e.documentType.IsZero() || e.documentType.Equal(documentType)) &&
		(e.process.IsZero() || e.process.Equal(process))
}

func (e staticEntry) exact() bool {
	return !e.documentType.IsZero() && !e.process.IsZero()
}

// NewStaticDirectory creates an empty static directory
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		participants: make(map[identifier.ParticipantIdentifier][]staticEntry),
	}
}

// Register maps (participant, documentType, process) to endpoint, replacing
// an earlier registration for the same key.
func (d *StaticDirectory) Register(participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier, endpoint *EndpointData) error {
	if participant.IsZero() {
		return errors.New("static directory: participant is required")
	}
	if endpoint == nil {
		return fmt.Errorf("%w: endpoint is required", ErrInvalidEndpoint)
	}
	if err := endpoint.Validate(); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	entries := d.participants[participant]
	for i, e := range entries {
		if e.documentType.Equal(documentType) && e.process.Equal(process) {
			entries[i].endpoint = endpoint.Clone()
			return nil
		}
	}
	d.participants[participant] = append(entries, staticEntry{
		documentType: documentType,
		process:      process,
		endpoint:     endpoint.Clone(),
	})
	return nil
}

// RegisterParticipant maps every document type and process of participant to endpoint
func (d *StaticDirectory) RegisterParticipant(participant identifier.ParticipantIdentifier, endpoint *EndpointData) error {
	return d.Register(participant, identifier.DocumentTypeIdentifier{}, identifier.ProcessIdentifier{}, endpoint)
}

// Remove drops every registration of participant
func (d *StaticDirectory) Remove(participant identifier.ParticipantIdentifier) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.participants, participant)
}

// Lookup implements Directory. Exact registrations win over wildcards.
func (d *StaticDirectory) Lookup(_ context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	entries, ok := d.participants[participant]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownParticipant, participant)
	}

	var fallback *EndpointData
	for _, e := range entries {
		if !e.matches(documentType, process) {
			continue
		}
		if e.exact() {
			return e.endpoint.Clone(), nil
		}
		if fallback == nil {
			fallback = e.endpoint
		}
	}
	if fallback != nil {
		return fallback.Clone(), nil
	}
	return nil, fmt.Errorf("%w: %s does not accept %s in %s", ErrUnsupportedService, participant, documentType, process)
}

// ChainDirectory asks each directory in turn and moves on only when the
// participant is unknown to the current one.
type ChainDirectory []Directory

// Lookup implements Directory
func (c ChainDirectory) Lookup(ctx context.Context, participant identifier.ParticipantIdentifier, documentType identifier.DocumentTypeIdentifier, process identifier.ProcessIdentifier) (*EndpointData, error) {
	lastErr := fmt.Errorf("%w: %s", ErrUnknownParticipant, participant)
	for _, d := range c {
		ep, err := d.Lookup(ctx, participant, documentType, process)
		if err == nil {
			return ep, nil
		}
		if !errors.Is(err, ErrUnknownParticipant) {
			return nil, err
		}
		lastErr = err
	}
	return nil, lastErr
}
