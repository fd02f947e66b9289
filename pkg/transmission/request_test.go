package transmission

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

func TestRequestIsImmutable(t *testing.T) {
	b, _ := newTestBuilder(false)
	req, err := b.Payload(payload(withSBDH)).Build(context.Background())
	require.NoError(t, err)

	h := req.Header()
	h.Receiver = identifier.U4Test
	h.DocumentIdentifiers[0] = "changed"
	assert.Equal(t, identifier.DifiTest, req.Header().Receiver)
	assert.Equal(t, "messageid", req.Header().DocumentIdentifiers[0])

	ep := req.Endpoint()
	ep.Address.Host = "evil.example.com"
	assert.Equal(t, "ap.example.com", req.Endpoint().Address.Host)

	// later use of the builder does not leak into a built request
	b.Reset()
	_, err = b.Payload(payload(noSBDH)).Build(context.Background())
	require.NoError(t, err)
	assert.Equal(t, identifier.DifiTest, req.Header().Receiver)
}

func TestRequestPayloadRewinds(t *testing.T) {
	b, _ := newTestBuilder(false)
	req, err := b.Payload(payload(withSBDH)).Build(context.Background())
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		r, err := req.Payload()
		require.NoError(t, err)
		data, err := io.ReadAll(r)
		require.NoError(t, err)
		assert.Equal(t, withSBDH, string(data))
	}
}

func TestTransmitterFunc(t *testing.T) {
	b, _ := newTestBuilder(false)
	req, err := b.Payload(payload(withSBDH)).Build(context.Background())
	require.NoError(t, err)

	var got *Request
	tx := TransmitterFunc(func(_ context.Context, r *Request) error {
		got = r
		return errors.New("link down")
	})
	assert.EqualError(t, tx.Transmit(context.Background(), req), "link down")
	assert.Same(t, req, got)
}

func TestPhaseString(t *testing.T) {
	assert.Equal(t, "idle", PhaseIdle.String())
	assert.Equal(t, "payload-set", PhasePayloadSet.String())
	assert.Equal(t, "resolved", PhaseResolved.String())
	assert.Equal(t, "built", PhaseBuilt.String())
	assert.Equal(t, "Phase(9)", Phase(9).String())
}
