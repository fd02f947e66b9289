// Package storage provides the transmission journal of the access point.
//
// Every request prepared by the outbound service is recorded as a
// [TransmissionRecord] so operators can see what was sent, to whom, and
// through which endpoint. The journal never stores the payload itself;
// only its size and SHA-256 checksum.
//
// # Implementations
//
//   - memory: process-local journal, used by default and in tests
//   - mongodb: production journal backed by a MongoDB collection
//
// # Concurrency
//
// All store implementations must be safe for concurrent use from multiple
// goroutines.
package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when no record exists for a message id
var ErrNotFound = errors.New("transmission not found")

// TransmissionStore journals transmission requests
type TransmissionStore interface {
	// Save inserts the record, or replaces the record with the same
	// message id
	Save(ctx context.Context, rec *TransmissionRecord) error

	// Get retrieves a record by message id
	Get(ctx context.Context, messageID string) (*TransmissionRecord, error)

	// UpdateStatus records the outcome of a transmission attempt
	UpdateStatus(ctx context.Context, messageID string, status TransmissionStatus, lastError string) error

	// List returns records, newest first
	List(ctx context.Context, filter *TransmissionFilter) ([]*TransmissionRecord, error)

	// Ping checks that the store is reachable
	Ping(ctx context.Context) error

	// Close releases storage resources
	Close(ctx context.Context) error
}

// TransmissionRecord is the journal entry of one transmission request
type TransmissionRecord struct {
	MessageID    string `bson:"_id" json:"messageId"`
	Sender       string `bson:"sender" json:"sender"`
	Receiver     string `bson:"receiver" json:"receiver"`
	DocumentType string `bson:"document_type" json:"documentType"`
	Process      string `bson:"process" json:"process"`

	// DocumentInstanceID is the SBDH instance id of the business document
	DocumentInstanceID string `bson:"document_instance_id,omitempty" json:"documentInstanceId,omitempty"`

	// Endpoint
	TransportProfile   string `bson:"transport_profile" json:"transportProfile"`
	EndpointURL        string `bson:"endpoint_url" json:"endpointUrl"`
	EndpointOverridden bool   `bson:"endpoint_overridden" json:"endpointOverridden"`
	CertificateSubject string `bson:"certificate_subject,omitempty" json:"certificateSubject,omitempty"`

	// Payload
	PayloadSize     int64  `bson:"payload_size" json:"payloadSize"`
	PayloadChecksum string `bson:"payload_checksum" json:"payloadChecksum"`

	Status    TransmissionStatus `bson:"status" json:"status"`
	LastError string             `bson:"last_error,omitempty" json:"lastError,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"createdAt"`
	UpdatedAt time.Time          `bson:"updated_at" json:"updatedAt"`
}

type TransmissionStatus string

const (
	StatusPrepared    TransmissionStatus = "prepared"    // Built and resolved, not yet sent
	StatusTransmitted TransmissionStatus = "transmitted" // Accepted by the transmitter
	StatusFailed      TransmissionStatus = "failed"      // Transmitter returned an error
)

// TransmissionFilter narrows List results. Zero fields match everything.
type TransmissionFilter struct {
	Sender   string
	Receiver string
	Status   TransmissionStatus
	Since    *time.Time
	Limit    int
	Offset   int
}

// Matches reports whether rec passes the filter
func (f *TransmissionFilter) Matches(rec *TransmissionRecord) bool {
	if f == nil {
		return true
	}
	if f.Sender != "" && f.Sender != rec.Sender {
		return false
	}
	if f.Receiver != "" && f.Receiver != rec.Receiver {
		return false
	}
	if f.Status != "" && f.Status != rec.Status {
		return false
	}
	if f.Since != nil && rec.CreatedAt.Before(*f.Since) {
		return false
	}
	return true
}
