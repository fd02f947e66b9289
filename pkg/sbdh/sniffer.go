package sbdh

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/beevik/etree"
	"golang.org/x/net/html/charset"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

var qualifiedValue = regexp.MustCompile(`^[0-9]{4}:`)

// defaultUBLVersion is appended to sniffed document type identifiers when the
// document has no UBLVersionID.
const defaultUBLVersion = "2.1"

// schemeICD maps legacy PEPPOL EndpointID scheme mnemonics to ISO 6523 ICDs.
var schemeICD = map[string]string{
	"GLN":      "0088",
	"DUNS":     "0060",
	"SE:ORGNR": "0007",
	"FI:OVT":   "0037",
	"DK:CPR":   "9901",
	"DK:CVR":   "9902",
	"NO:ORGNR": "9908",
	"NO:VAT":   "9909",
	"IBAN":     "9918",
	"IT:FTI":   "9921",
}

// partyPaths lists the sender and receiver party elements per UBL document root.
var partyPaths = map[string][2]string{
	"Invoice":       {"AccountingSupplierParty", "AccountingCustomerParty"},
	"CreditNote":    {"AccountingSupplierParty", "AccountingCustomerParty"},
	"Order":         {"BuyerCustomerParty", "SellerSupplierParty"},
	"OrderResponse": {"SellerSupplierParty", "BuyerCustomerParty"},
}

// Sniffer derives routing metadata from a bare UBL business document.
// Sniffing is best effort: values that cannot be turned into valid identifiers
// are left unset. The whole document is loaded, so it is only used when no
// envelope is present.
type Sniffer struct{}

// NewSniffer returns a Sniffer
func NewSniffer() *Sniffer {
	return &Sniffer{}
}

// Sniff reads r and returns whatever metadata the document reveals, or a
// *MalformedPayloadError when r is not well-formed XML. The stream is
// positioned at offset 0 when Sniff returns.
func (s *Sniffer) Sniff(r io.ReadSeeker) (h *StandardBusinessHeader, err error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRewind, err)
	}
	defer func() {
		if _, serr := r.Seek(0, io.SeekStart); serr != nil && err == nil {
			h, err = nil, fmt.Errorf("%w: %v", ErrRewind, serr)
		}
	}()

	doc := etree.NewDocument()
	doc.ReadSettings.CharsetReader = charset.NewReaderLabel
	if _, err := doc.ReadFrom(r); err != nil {
		return nil, &MalformedPayloadError{Source: SourceUBL, Err: err}
	}
	root := doc.Root()
	if root == nil {
		return nil, &MalformedPayloadError{Source: SourceUBL, Err: fmt.Errorf("document has no root element")}
	}

	h = &StandardBusinessHeader{Source: SourceUBL}
	h.DocumentType = sniffDocumentType(root)

	if profile := childText(root, "ProfileID"); profile != "" {
		if p, err := identifier.NewProcessIdentifier(profile); err == nil {
			h.Process = p
		}
	}

	paths, ok := partyPaths[root.Tag]
	if !ok {
		paths = partyPaths["Invoice"]
	}
	h.Sender = sniffParty(root.SelectElement(paths[0]))
	h.Receiver = sniffParty(root.SelectElement(paths[1]))

	for _, tag := range []string{"ID", "UUID"} {
		if v := childText(root, tag); v != "" {
			h.DocumentIdentifiers = append(h.DocumentIdentifiers, v)
		}
	}
	return h, nil
}

// sniffDocumentType builds "<namespace>::<root>##<customization>::<version>".
func sniffDocumentType(root *etree.Element) identifier.DocumentTypeIdentifier {
	ns := root.NamespaceURI()
	customization := childText(root, "CustomizationID")
	if ns == "" || customization == "" {
		return identifier.DocumentTypeIdentifier{}
	}
	version := childText(root, "UBLVersionID")
	if version == "" {
		version = defaultUBLVersion
	}
	d, err := identifier.NewDocumentTypeIdentifier(ns + "::" + root.Tag + "##" + customization + "::" + version)
	if err != nil {
		return identifier.DocumentTypeIdentifier{}
	}
	return d
}

// sniffParty reads Party/EndpointID, falling back to Party/PartyIdentification/ID.
func sniffParty(role *etree.Element) identifier.ParticipantIdentifier {
	if role == nil {
		return identifier.ParticipantIdentifier{}
	}
	for _, path := range []string{"./Party/EndpointID", "./Party/PartyIdentification/ID"} {
		el := role.FindElement(path)
		if el == nil {
			continue
		}
		if p, ok := participantFromSchemeID(el.SelectAttrValue("schemeID", ""), el.Text()); ok {
			return p
		}
	}
	return identifier.ParticipantIdentifier{}
}

func participantFromSchemeID(schemeID, value string) (identifier.ParticipantIdentifier, bool) {
	schemeID = strings.ToUpper(strings.TrimSpace(schemeID))
	value = strings.TrimSpace(value)
	if value == "" {
		return identifier.ParticipantIdentifier{}, false
	}

	candidate := value
	switch icd, known := schemeICD[schemeID]; {
	case qualifiedValue.MatchString(value):
		// already "<icd>:<id>"
	case icdCode.MatchString(schemeID):
		candidate = schemeID + ":" + value
	case known:
		candidate = icd + ":" + value
	}
	p, err := identifier.NewParticipantIdentifier(candidate)
	if err != nil {
		return identifier.ParticipantIdentifier{}, false
	}
	return p, true
}

func childText(el *etree.Element, tag string) string {
	child := el.SelectElement(tag)
	if child == nil {
		return ""
	}
	return strings.TrimSpace(child.Text())
}
