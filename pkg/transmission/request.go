package transmission

import (
	"context"
	"fmt"
	"io"

	"github.com/rdehuyss/oxalis/pkg/identifier"
	"github.com/rdehuyss/oxalis/pkg/lookup"
	"github.com/rdehuyss/oxalis/pkg/sbdh"
)

// Request is a complete, immutable transmission request. It is created by
// Builder.Build and handed to a Transmitter.
type Request struct {
	header           *sbdh.StandardBusinessHeader
	endpoint         *lookup.EndpointData
	payload          io.ReadSeeker
	systemIdentifier string
	overridden       bool
}

// Header returns a copy of the merged business header
func (r *Request) Header() *sbdh.StandardBusinessHeader {
	return r.header.Clone()
}

// Endpoint returns a copy of the delivery endpoint
func (r *Request) Endpoint() *lookup.EndpointData {
	return r.endpoint.Clone()
}

// MessageID returns the identifier of this transmission
func (r *Request) MessageID() identifier.MessageIdentifier {
	return r.header.MessageID
}

// Payload rewinds the payload stream and returns it. The stream belongs to
// the caller that attached it; the request never closes it.
func (r *Request) Payload() (io.ReadSeeker, error) {
	if _, err := r.payload.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", sbdh.ErrRewind, err)
	}
	return r.payload, nil
}

// SystemIdentifier returns the AS2 system identifier of an overridden AS2
// endpoint, or "".
func (r *Request) SystemIdentifier() string {
	return r.systemIdentifier
}

// EndpointOverridden reports whether the endpoint was supplied by the caller
// instead of resolved.
func (r *Request) EndpointOverridden() bool {
	return r.overridden
}

func (r *Request) String() string {
	return fmt.Sprintf("%s %s -> %s via %s", r.header.MessageID, r.header.Sender, r.header.Receiver, r.endpoint)
}

// Transmitter delivers a request over the transport named by its endpoint.
type Transmitter interface {
	Transmit(ctx context.Context, req *Request) error
}

// TransmitterFunc adapts a function to Transmitter
type TransmitterFunc func(ctx context.Context, req *Request) error

// Transmit implements Transmitter
func (f TransmitterFunc) Transmit(ctx context.Context, req *Request) error {
	return f(ctx, req)
}
