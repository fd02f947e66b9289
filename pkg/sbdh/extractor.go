package sbdh

import (
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html/charset"
)

// Extractor reads the envelope header at the root of a payload.
// An Extractor has no state and is safe for concurrent use.
type Extractor struct{}

// NewExtractor returns an Extractor
func NewExtractor() *Extractor {
	return &Extractor{}
}

// Extract returns the header carried by the payload envelope, or (nil, nil)
// when the payload has no recognised envelope. Only a recognised envelope
// that cannot be read yields a *MalformedPayloadError. The stream is
// positioned at offset 0 when Extract returns, whatever the outcome.
func (e *Extractor) Extract(r io.ReadSeeker) (h *StandardBusinessHeader, err error) {
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRewind, err)
	}
	defer func() {
		if _, serr := r.Seek(0, io.SeekStart); serr != nil && err == nil {
			h, err = nil, fmt.Errorf("%w: %v", ErrRewind, serr)
		}
	}()

	// a payload without a readable root element carries no envelope either
	dec := newDecoder(r)
	root, err := rootElement(dec)
	if err != nil {
		return nil, nil
	}

	switch {
	case root.Name.Local == "StandardBusinessDocument" && matchSpace(root.Name.Space, NamespaceSBDH):
		return extractSBDH(dec)
	case root.Name.Local == "XHE" && isXHENamespace(root.Name.Space):
		return extractXHE(dec)
	default:
		return nil, nil
	}
}

func newDecoder(r io.Reader) *xml.Decoder {
	dec := xml.NewDecoder(r)
	dec.CharsetReader = charset.NewReaderLabel
	return dec
}

func matchSpace(got, want string) bool {
	return got == "" || got == want
}

func rootElement(dec *xml.Decoder) (xml.StartElement, error) {
	for {
		tok, err := dec.Token()
		if errors.Is(err, io.EOF) {
			return xml.StartElement{}, errors.New("payload contains no XML element")
		}
		if err != nil {
			return xml.StartElement{}, err
		}
		if start, ok := tok.(xml.StartElement); ok {
			return start, nil
		}
	}
}

// sbdHeader mirrors the parts of StandardBusinessDocumentHeader used for routing.
type sbdHeader struct {
	HeaderVersion string        `xml:"HeaderVersion"`
	Sender        []sbdhPartner `xml:"Sender"`
	Receiver      []sbdhPartner `xml:"Receiver"`

	DocumentIdentification struct {
		Standard            string `xml:"Standard"`
		TypeVersion         string `xml:"TypeVersion"`
		InstanceIdentifier  string `xml:"InstanceIdentifier"`
		Type                string `xml:"Type"`
		CreationDateAndTime string `xml:"CreationDateAndTime"`
	} `xml:"DocumentIdentification"`

	Scopes []scope `xml:"BusinessScope>Scope"`
}

type sbdhPartner struct {
	Identifier struct {
		Authority string `xml:"Authority,attr"`
		Value     string `xml:",chardata"`
	} `xml:"Identifier"`
}

func extractSBDH(dec *xml.Decoder) (*StandardBusinessHeader, error) {
	var (
		hdr   *sbdHeader
		ids   []string
		depth = 1
	)

	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, malformed(SourceSBDH, err)
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "StandardBusinessDocumentHeader" && hdr == nil {
				hdr = new(sbdHeader)
				if err := dec.DecodeElement(hdr, &t); err != nil {
					return nil, malformed(SourceSBDH, err)
				}
				continue
			}
			docIDs, err := collectDocumentIdentifiers(dec)
			if err != nil {
				return nil, malformed(SourceSBDH, err)
			}
			ids = append(ids, docIDs...)
		case xml.EndElement:
			depth--
		}
	}

	if hdr == nil {
		return nil, malformed(SourceSBDH, errors.New("missing StandardBusinessDocumentHeader"))
	}
	h, err := hdr.toHeader()
	if err != nil {
		return nil, malformed(SourceSBDH, err)
	}
	h.DocumentIdentifiers = append(h.DocumentIdentifiers, ids...)
	return h, nil
}

func (s *sbdHeader) toHeader() (*StandardBusinessHeader, error) {
	h := &StandardBusinessHeader{Source: SourceSBDH}

	var err error
	if len(s.Sender) > 0 {
		id := s.Sender[0].Identifier
		if h.Sender, err = participantOrZero(id.Authority, id.Value); err != nil {
			return nil, err
		}
	}
	if len(s.Receiver) > 0 {
		id := s.Receiver[0].Identifier
		if h.Receiver, err = participantOrZero(id.Authority, id.Value); err != nil {
			return nil, err
		}
	}
	if err := applyScopes(h, s.Scopes); err != nil {
		return nil, err
	}

	if instance := strings.TrimSpace(s.DocumentIdentification.InstanceIdentifier); instance != "" {
		h.InstanceIdentifier = instance
		h.DocumentIdentifiers = append(h.DocumentIdentifiers, instance)
	}
	if h.CreationTime, err = parseCreationTime(strings.TrimSpace(s.DocumentIdentification.CreationDateAndTime)); err != nil {
		return nil, err
	}
	return h, nil
}

// collectDocumentIdentifiers consumes the element whose start tag was just
// read and returns the ID and UUID values of its direct children.
func collectDocumentIdentifiers(dec *xml.Decoder) ([]string, error) {
	var (
		ids     []string
		buf     strings.Builder
		capture bool
		depth   = 1
	)
	for depth > 0 {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			depth++
			if depth == 2 && (t.Name.Local == "ID" || t.Name.Local == "UUID") {
				capture = true
				buf.Reset()
			}
		case xml.CharData:
			if capture {
				buf.Write(t)
			}
		case xml.EndElement:
			if capture && depth == 2 {
				if v := strings.TrimSpace(buf.String()); v != "" {
					ids = append(ids, v)
				}
				capture = false
			}
			depth--
		}
	}
	return ids, nil
}

func malformed(src Source, err error) error {
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return &MalformedPayloadError{Source: src, Err: err}
}
