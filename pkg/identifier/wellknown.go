package identifier

import "strings"

// Well-known participants on the PEPPOL test network
var (
	// DifiTest is the canonical Difi test participant
	DifiTest = MustParticipant("9908:810017902")
	// U4Test is the Unit4 test participant
	U4Test = MustParticipant("9908:810017903")
)

// Document type acronyms
const (
	AcronymOrder             = "ORDER"
	AcronymOrderResponse     = "ORDER_RESPONSE"
	AcronymInvoice           = "INVOICE"
	AcronymCreditNote        = "CREDIT_NOTE"
	AcronymBillingInvoice    = "BIS3_INVOICE"
	AcronymBillingCreditNote = "BIS3_CREDIT_NOTE"
)

// Process acronyms
const (
	AcronymOrderOnly   = "ORDER_ONLY"
	AcronymInvoiceOnly = "INVOICE_ONLY"
	AcronymProcurement = "PROCUREMENT"
	AcronymBilling     = "BILLING"
	AcronymOrdering    = "ORDERING"
)

var documentTypeTable = map[string]string{
	AcronymOrder:             "urn:oasis:names:specification:ubl:schema:xsd:Order-2::Order##urn:www.cenbii.eu:transaction:biitrns001:ver2.0:extended:urn:www.peppol.eu:bis:peppol3a:ver2.0::2.1",
	AcronymOrderResponse:     "urn:oasis:names:specification:ubl:schema:xsd:OrderResponse-2::OrderResponse##urn:fdc:peppol.eu:poacc:trns:order_response:3::2.1",
	AcronymInvoice:           "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:www.cenbii.eu:transaction:biitrns010:ver2.0:extended:urn:www.peppol.eu:bis:peppol4a:ver2.0::2.1",
	AcronymCreditNote:        "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2::CreditNote##urn:www.cenbii.eu:transaction:biitrns014:ver2.0:extended:urn:www.peppol.eu:bis:peppol5a:ver2.0::2.1",
	AcronymBillingInvoice:    "urn:oasis:names:specification:ubl:schema:xsd:Invoice-2::Invoice##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::2.1",
	AcronymBillingCreditNote: "urn:oasis:names:specification:ubl:schema:xsd:CreditNote-2::CreditNote##urn:cen.eu:en16931:2017#compliant#urn:fdc:peppol.eu:2017:poacc:billing:3.0::2.1",
}

var processTable = map[string]string{
	AcronymOrderOnly:   "urn:www.cenbii.eu:profile:bii03:ver2.0",
	AcronymInvoiceOnly: "urn:www.cenbii.eu:profile:bii04:ver2.0",
	AcronymProcurement: "urn:www.cenbii.eu:profile:bii28:ver2.0",
	AcronymBilling:     "urn:fdc:peppol.eu:2017:poacc:billing:01:1.0",
	AcronymOrdering:    "urn:fdc:peppol.eu:poacc:bis:ordering:3",
}

// normalizeAcronym maps "Order-only", "order only" and "ORDER_ONLY" to the same key.
func normalizeAcronym(s string) string {
	s = strings.ToUpper(strings.TrimSpace(s))
	return strings.NewReplacer("-", "_", " ", "_").Replace(s)
}

// DocumentTypeByAcronym looks up a well-known document type.
func DocumentTypeByAcronym(acronym string) (DocumentTypeIdentifier, bool) {
	key := normalizeAcronym(acronym)
	value, ok := documentTypeTable[key]
	if !ok {
		return DocumentTypeIdentifier{}, false
	}
	return DocumentTypeIdentifier{scheme: SchemeDocumentType, value: value, acronym: key}, true
}

// ProcessByAcronym looks up a well-known process.
func ProcessByAcronym(acronym string) (ProcessIdentifier, bool) {
	key := normalizeAcronym(acronym)
	value, ok := processTable[key]
	if !ok {
		return ProcessIdentifier{}, false
	}
	return ProcessIdentifier{scheme: SchemeProcess, value: value, acronym: key}, true
}

// MustDocumentType returns the well-known document type for acronym and
// panics when the acronym is unknown.
func MustDocumentType(acronym string) DocumentTypeIdentifier {
	d, ok := DocumentTypeByAcronym(acronym)
	if !ok {
		panic("identifier: unknown document type acronym " + acronym)
	}
	return d
}

// MustProcess returns the well-known process for acronym and panics when the
// acronym is unknown.
func MustProcess(acronym string) ProcessIdentifier {
	p, ok := ProcessByAcronym(acronym)
	if !ok {
		panic("identifier: unknown process acronym " + acronym)
	}
	return p
}

func documentTypeAcronymFor(d DocumentTypeIdentifier) (string, bool) {
	if d.scheme != SchemeDocumentType {
		return "", false
	}
	for acronym, value := range documentTypeTable {
		if value == d.value {
			return acronym, true
		}
	}
	return "", false
}

func processAcronymFor(p ProcessIdentifier) (string, bool) {
	if p.scheme != SchemeProcess {
		return "", false
	}
	for acronym, value := range processTable {
		if value == p.value {
			return acronym, true
		}
	}
	return "", false
}
