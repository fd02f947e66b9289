package lookup

import (
	"context"
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

func mustEndpoint(t *testing.T, profile TransportProfile, address string) *EndpointData {
	t.Helper()
	u, err := url.Parse(address)
	require.NoError(t, err)
	ep, err := NewEndpointData(profile, u, nil)
	require.NoError(t, err)
	return ep
}

func TestStaticDirectory(t *testing.T) {
	ctx := context.Background()
	invoice := identifier.MustDocumentType(identifier.AcronymInvoice)
	order := identifier.MustDocumentType(identifier.AcronymOrder)
	invoiceOnly := identifier.MustProcess(identifier.AcronymInvoiceOnly)
	orderOnly := identifier.MustProcess(identifier.AcronymOrderOnly)

	d := NewStaticDirectory()
	require.NoError(t, d.RegisterParticipant(identifier.DifiTest, mustEndpoint(t, ProfileAS2V1, "https://fallback.example.com/as2")))
	require.NoError(t, d.Register(identifier.DifiTest, invoice, invoiceOnly, mustEndpoint(t, ProfilePeppolAS4V2, "https://as4.example.com/as4")))
	require.NoError(t, d.Register(identifier.U4Test, invoice, invoiceOnly, mustEndpoint(t, ProfileAS2V1, "https://u4.example.com/as2")))

	t.Run("exact match wins", func(t *testing.T) {
		ep, err := d.Lookup(ctx, identifier.DifiTest, invoice, invoiceOnly)
		require.NoError(t, err)
		assert.Equal(t, ProfilePeppolAS4V2, ep.TransportProfile)
	})

	t.Run("wildcard", func(t *testing.T) {
		ep, err := d.Lookup(ctx, identifier.DifiTest, order, orderOnly)
		require.NoError(t, err)
		assert.Equal(t, "fallback.example.com", ep.Address.Host)
	})

	t.Run("unsupported service", func(t *testing.T) {
		_, err := d.Lookup(ctx, identifier.U4Test, order, orderOnly)
		assert.True(t, errors.Is(err, ErrUnsupportedService))
	})

	t.Run("unknown participant", func(t *testing.T) {
		_, err := d.Lookup(ctx, identifier.MustParticipant("0088:123"), invoice, invoiceOnly)
		assert.True(t, errors.Is(err, ErrUnknownParticipant))
	})

	t.Run("returned values are copies", func(t *testing.T) {
		ep, err := d.Lookup(ctx, identifier.DifiTest, invoice, invoiceOnly)
		require.NoError(t, err)
		ep.Address.Host = "mutated"
		again, err := d.Lookup(ctx, identifier.DifiTest, invoice, invoiceOnly)
		require.NoError(t, err)
		assert.Equal(t, "as4.example.com", again.Address.Host)
	})

	t.Run("re-register replaces", func(t *testing.T) {
		require.NoError(t, d.Register(identifier.U4Test, invoice, invoiceOnly, mustEndpoint(t, ProfileAS2V2, "https://u4-new.example.com/as2")))
		ep, err := d.Lookup(ctx, identifier.U4Test, invoice, invoiceOnly)
		require.NoError(t, err)
		assert.Equal(t, ProfileAS2V2, ep.TransportProfile)
	})

	t.Run("remove", func(t *testing.T) {
		d.Remove(identifier.U4Test)
		_, err := d.Lookup(ctx, identifier.U4Test, invoice, invoiceOnly)
		assert.True(t, errors.Is(err, ErrUnknownParticipant))
	})

	t.Run("invalid registrations", func(t *testing.T) {
		assert.Error(t, d.RegisterParticipant(identifier.ParticipantIdentifier{}, mustEndpoint(t, ProfileAS2V1, "https://x.example.com")))
		assert.Error(t, d.RegisterParticipant(identifier.DifiTest, nil))
		assert.Error(t, d.RegisterParticipant(identifier.DifiTest, &EndpointData{TransportProfile: ProfileAS2V1}))
	})
}

func TestChainDirectory(t *testing.T) {
	ctx := context.Background()
	invoice := identifier.MustDocumentType(identifier.AcronymInvoice)
	invoiceOnly := identifier.MustProcess(identifier.AcronymInvoiceOnly)

	first := NewStaticDirectory()
	require.NoError(t, first.RegisterParticipant(identifier.DifiTest, mustEndpoint(t, ProfileAS2V1, "https://first.example.com")))
	require.NoError(t, first.Register(identifier.U4Test, identifier.MustDocumentType(identifier.AcronymOrder), invoiceOnly, mustEndpoint(t, ProfileAS2V1, "https://first.example.com")))

	secondCalls := 0
	second := DirectoryFunc(func(_ context.Context, p identifier.ParticipantIdentifier, _ identifier.DocumentTypeIdentifier, _ identifier.ProcessIdentifier) (*EndpointData, error) {
		secondCalls++
		if p == identifier.U4Test {
			return mustEndpoint(t, ProfileAS2V1, "https://second.example.com"), nil
		}
		return nil, ErrUnknownParticipant
	})

	chain := ChainDirectory{first, second}

	ep, err := chain.Lookup(ctx, identifier.DifiTest, invoice, invoiceOnly)
	require.NoError(t, err)
	assert.Equal(t, "first.example.com", ep.Address.Host)
	assert.Zero(t, secondCalls)

	// U4Test is known to the first directory, so its unsupported service is final
	_, err = chain.Lookup(ctx, identifier.U4Test, invoice, invoiceOnly)
	assert.True(t, errors.Is(err, ErrUnsupportedService))
	assert.Zero(t, secondCalls)

	_, err = chain.Lookup(ctx, identifier.MustParticipant("0088:1"), invoice, invoiceOnly)
	assert.True(t, errors.Is(err, ErrUnknownParticipant))
	assert.Equal(t, 1, secondCalls)

	_, err = ChainDirectory{}.Lookup(ctx, identifier.DifiTest, invoice, invoiceOnly)
	assert.True(t, errors.Is(err, ErrUnknownParticipant))
}
