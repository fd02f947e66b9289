package sbdh

import (
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

const sbdhInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<StandardBusinessDocument xmlns="http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader">
  <StandardBusinessDocumentHeader>
    <HeaderVersion>1.0</HeaderVersion>
    <Sender><Identifier Authority="iso6523-actorid-upis">9908:810017902</Identifier></Sender>
    <Receiver><Identifier Authority="iso6523-actorid-upis">9908:810017902</Identifier></Receiver>
    <DocumentIdentification>
      <Standard>urn:oasis:names:specification:ubl:schema:xsd:Invoice-2</Standard>
      <TypeVersion>2.0</TypeVersion>
      <InstanceIdentifier>messageid</InstanceIdentifier>
      <Type>Invoice</Type>
      <CreationDateAndTime>2013-02-19T05:10:10</CreationDateAndTime>
    </DocumentIdentification>
    <BusinessScope>
      <Scope>
        <Type>DOCUMENTID</Type>
        <InstanceIdentifier>urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:www.cenbii.eu:transaction:biitrns010:ver2.0:extended:urn:www.peppol.eu:bis:peppol4a:ver2.0::2.1</InstanceIdentifier>
      </Scope>
      <Scope>
        <Type>PROCESSID</Type>
        <InstanceIdentifier>urn:www.cenbii.eu:profile:bii04:ver2.0</InstanceIdentifier>
      </Scope>
    </BusinessScope>
  </StandardBusinessDocumentHeader>
  <Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
           xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2"
           xmlns:cac="urn:oasis:names:specification:ubl:schema:xsd:CommonAggregateComponents-2">
    <cbc:ID>TOSL108</cbc:ID>
    <cbc:UUID>f1d5f58a-4f0c-4b3f-9ad1-7c2f1f5f0a11</cbc:UUID>
    <cac:InvoiceLine><cbc:ID>1</cbc:ID></cac:InvoiceLine>
  </Invoice>
</StandardBusinessDocument>`

const xheInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<XHE xmlns="http://docs.oasis-open.org/bdxr/ns/XHE/1/ExchangeHeaderEnvelope"
     xmlns:ext="http://docs.oasis-open.org/bdxr/ns/XHE/1/AggregateComponents">
  <XHEVersionID>1.0</XHEVersionID>
  <Header>
    <ID>xhe-42</ID>
    <UUID>0b7a7d5e-2a56-4b0e-9a8f-31a3e7a3e0c2</UUID>
    <CreationDateTime>2024-05-01T10:00:00Z</CreationDateTime>
    <FromParty><PartyIdentification><ID schemeID="0007">5567321707</ID></PartyIdentification></FromParty>
    <ToParty><PartyIdentification><ID schemeID="iso6523-actorid-upis">0007:2021005026</ID></PartyIdentification></ToParty>
    <BusinessScope>
      <Scope><Type>PROCESSID</Type><InstanceIdentifier>urn:fdc:peppol.eu:2017:poacc:billing:01:1.0</InstanceIdentifier></Scope>
    </BusinessScope>
  </Header>
  <Payloads>
    <Payload><PayloadContent><Invoice><ID>INV-9</ID></Invoice></PayloadContent></Payload>
  </Payloads>
</XHE>`

const bareInvoice = `<?xml version="1.0" encoding="UTF-8"?>
<Invoice xmlns="urn:oasis:names:specification:ubl:schema:xsd:Invoice-2"
         xmlns:cbc="urn:oasis:names:specification:ubl:schema:xsd:CommonBasicComponents-2">
  <cbc:ID>1</cbc:ID>
</Invoice>`

func TestExtractSBDH(t *testing.T) {
	r := strings.NewReader(sbdhInvoice)

	h, err := NewExtractor().Extract(r)
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, SourceSBDH, h.Source)
	assert.Equal(t, identifier.DifiTest, h.Sender)
	assert.Equal(t, identifier.DifiTest, h.Receiver)
	assert.Equal(t, identifier.AcronymInvoice, h.DocumentType.Acronym())
	assert.Equal(t, identifier.AcronymInvoiceOnly, h.Process.Acronym())
	assert.Equal(t, "messageid", h.InstanceIdentifier)
	assert.True(t, h.MessageID.IsZero(), "the document instance id is not a message id")
	assert.Equal(t, time.Date(2013, 2, 19, 5, 10, 10, 0, time.UTC), h.CreationTime)
	assert.Equal(t, []string{"messageid", "TOSL108", "f1d5f58a-4f0c-4b3f-9ad1-7c2f1f5f0a11"}, h.DocumentIdentifiers)

	pos, err := r.Seek(0, io.SeekCurrent)
	require.NoError(t, err)
	assert.Zero(t, pos)
}

func TestExtractXHE(t *testing.T) {
	h, err := NewExtractor().Extract(strings.NewReader(xheInvoice))
	require.NoError(t, err)
	require.NotNil(t, h)

	assert.Equal(t, SourceXHE, h.Source)
	assert.Equal(t, "0007:5567321707", h.Sender.Value())
	assert.Equal(t, "0007:2021005026", h.Receiver.Value())
	assert.True(t, h.DocumentType.IsZero())
	assert.Equal(t, identifier.AcronymBilling, h.Process.Acronym())
	assert.Equal(t, "xhe-42", h.MessageID.Value())
	assert.NotContains(t, h.DocumentIdentifiers, "xhe-42")
	assert.Contains(t, h.DocumentIdentifiers, "0b7a7d5e-2a56-4b0e-9a8f-31a3e7a3e0c2")
}

func TestExtractAbsentEnvelope(t *testing.T) {
	r := strings.NewReader(bareInvoice)

	h, err := NewExtractor().Extract(r)
	require.NoError(t, err)
	assert.Nil(t, h)

	pos, _ := r.Seek(0, io.SeekCurrent)
	assert.Zero(t, pos)
}

func TestExtractWithoutRootElement(t *testing.T) {
	for _, p := range []string{"", "{\"invoice\": 1}", "<<<", "<?xml version=\"1.0\"?>"} {
		r := strings.NewReader(p)
		h, err := NewExtractor().Extract(r)
		assert.NoError(t, err, "payload %q", p)
		assert.Nil(t, h, "payload %q", p)

		pos, _ := r.Seek(0, io.SeekCurrent)
		assert.Zero(t, pos)
	}
}

func TestExtractMalformed(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{
			name:    "truncated envelope",
			payload: `<StandardBusinessDocument xmlns="http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader"><StandardBusinessDocumentHeader>`,
		},
		{
			name:    "missing header",
			payload: `<StandardBusinessDocument xmlns="http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader"><Invoice/></StandardBusinessDocument>`,
		},
		{
			name: "malformed participant",
			payload: `<StandardBusinessDocument xmlns="http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader">
<StandardBusinessDocumentHeader><Sender><Identifier Authority="iso6523-actorid-upis">not a participant</Identifier></Sender></StandardBusinessDocumentHeader>
</StandardBusinessDocument>`,
		},
		{
			name: "bad creation time",
			payload: `<StandardBusinessDocument xmlns="http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader">
<StandardBusinessDocumentHeader><DocumentIdentification><CreationDateAndTime>yesterday</CreationDateAndTime></DocumentIdentification></StandardBusinessDocumentHeader>
</StandardBusinessDocument>`,
		},
		{
			name:    "xhe without header",
			payload: `<XHE xmlns="http://docs.oasis-open.org/bdxr/ns/XHE/1/ExchangeHeaderEnvelope"><XHEVersionID>1.0</XHEVersionID></XHE>`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := strings.NewReader(tt.payload)
			h, err := NewExtractor().Extract(r)
			assert.Nil(t, h)

			var malformed *MalformedPayloadError
			require.True(t, errors.As(err, &malformed), "got %v", err)

			pos, _ := r.Seek(0, io.SeekCurrent)
			assert.Zero(t, pos)
		})
	}
}

func TestExtractMissingFieldsStayUnset(t *testing.T) {
	payload := `<StandardBusinessDocument xmlns="http://www.unece.org/cefact/namespaces/StandardBusinessDocumentHeader">
<StandardBusinessDocumentHeader><HeaderVersion>1.0</HeaderVersion></StandardBusinessDocumentHeader>
<Invoice/>
</StandardBusinessDocument>`

	h, err := NewExtractor().Extract(strings.NewReader(payload))
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.True(t, h.Sender.IsZero())
	assert.True(t, h.Receiver.IsZero())
	assert.True(t, h.DocumentType.IsZero())
	assert.True(t, h.Process.IsZero())
	assert.True(t, h.MessageID.IsZero())
	assert.True(t, h.CreationTime.IsZero())
}

func TestExtractFromMidStream(t *testing.T) {
	r := strings.NewReader(sbdhInvoice)
	_, err := r.Seek(50, io.SeekStart)
	require.NoError(t, err)

	h, err := NewExtractor().Extract(r)
	require.NoError(t, err)
	require.NotNil(t, h)
	assert.Equal(t, identifier.DifiTest, h.Sender)
}

func TestStandardBusinessHeaderClone(t *testing.T) {
	h := &StandardBusinessHeader{DocumentIdentifiers: []string{"a"}}
	c := h.Clone()
	c.DocumentIdentifiers[0] = "b"
	assert.Equal(t, "a", h.DocumentIdentifiers[0])

	var nilHeader *StandardBusinessHeader
	assert.Nil(t, nilHeader.Clone())
}
