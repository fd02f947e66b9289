package discovery

import (
	"context"
	"crypto/md5"
	"crypto/sha256"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/miekg/dns"

	"github.com/rdehuyss/oxalis/pkg/identifier"
)

var (
	// ErrNoRecordsFound is returned when the SML has no record for the participant
	ErrNoRecordsFound = errors.New("no SML records found for participant")
	// ErrServiceNotFound is returned when no NAPTR record names an SMP service
	ErrServiceNotFound = errors.New("no SMP service in NAPTR records")
	// ErrInvalidNAPTRRecord is returned when a NAPTR record cannot be turned into a URL
	ErrInvalidNAPTRRecord = errors.New("invalid NAPTR record")
	// ErrDNSUnavailable is returned when the DNS server fails to answer; it is transient
	ErrDNSUnavailable = errors.New("DNS lookup failed")
)

// Locator finds the SMP publishing the metadata of a participant.
type Locator interface {
	Locate(ctx context.Context, participant identifier.ParticipantIdentifier) (*url.URL, error)
}

// ServiceType is the NAPTR service of an SMP record
type ServiceType string

const (
	// ServiceTypeSMP1 is OASIS SMP 1.0 (and PEPPOL SMP)
	ServiceTypeSMP1 ServiceType = "Meta:SMP"
	// ServiceTypeSMP2 is OASIS SMP 2.0
	ServiceTypeSMP2 ServiceType = "oasis-bdxr-smp-2"
)

// Well known SML zones
const (
	SMLProduction = "edelivery.tech.ec.europa.eu"
	SMLTest       = "acc.edelivery.tech.ec.europa.eu"
)

// BDXLConfig configures a BDXLLocator
type BDXLConfig struct {
	// Domain is the SML zone, for example SMLProduction
	Domain string
	// DNSServer is "host:port"; the first resolv.conf server when empty
	DNSServer string
	// PreferredService defaults to ServiceTypeSMP1
	PreferredService ServiceType
	// Timeout bounds one DNS exchange when the context has no deadline
	Timeout time.Duration
}

// BDXLLocator finds SMPs through U-NAPTR records as the PEPPOL SML
// publishes them: <base32(sha256(lower(value)))>.<scheme>.<domain>.
type BDXLLocator struct {
	cfg    BDXLConfig
	client *dns.Client
}

// NewBDXLLocator creates a BDXL locator
func NewBDXLLocator(cfg BDXLConfig) (*BDXLLocator, error) {
	if cfg.Domain == "" {
		return nil, errors.New("bdxl: domain is required")
	}
	if cfg.PreferredService == "" {
		cfg.PreferredService = ServiceTypeSMP1
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &BDXLLocator{
		cfg:    cfg,
		client: &dns.Client{Timeout: cfg.Timeout},
	}, nil
}

// Locate implements Locator
func (l *BDXLLocator) Locate(ctx context.Context, participant identifier.ParticipantIdentifier) (*url.URL, error) {
	if participant.IsZero() {
		return nil, errors.New("bdxl: participant is required")
	}
	name := l.queryDomain(participant)

	server, err := l.server()
	if err != nil {
		return nil, err
	}

	msg := new(dns.Msg)
	msg.SetQuestion(dns.Fqdn(name), dns.TypeNAPTR)
	msg.RecursionDesired = true

	resp, _, err := l.client.ExchangeContext(ctx, msg, server)
	if err != nil {
		return nil, fmt.Errorf("%w for %s: %w", ErrDNSUnavailable, name, err)
	}
	switch resp.Rcode {
	case dns.RcodeSuccess:
	case dns.RcodeNameError:
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, participant)
	default:
		return nil, fmt.Errorf("%w for %s: %s", ErrDNSUnavailable, name, dns.RcodeToString[resp.Rcode])
	}

	var records []*dns.NAPTR
	for _, rr := range resp.Answer {
		if naptr, ok := rr.(*dns.NAPTR); ok {
			records = append(records, naptr)
		}
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoRecordsFound, participant)
	}
	return l.selectBestRecord(records)
}

func (l *BDXLLocator) server() (string, error) {
	if l.cfg.DNSServer != "" {
		return l.cfg.DNSServer, nil
	}
	conf, err := dns.ClientConfigFromFile("/etc/resolv.conf")
	if err != nil {
		return "", fmt.Errorf("read DNS config: %w", err)
	}
	if len(conf.Servers) == 0 {
		return "", errors.New("no DNS servers configured")
	}
	return conf.Servers[0] + ":" + conf.Port, nil
}

// queryDomain builds the NAPTR owner name of participant
func (l *BDXLLocator) queryDomain(participant identifier.ParticipantIdentifier) string {
	return fmt.Sprintf("%s.%s.%s", hashParticipant(participant.Value()), participant.Scheme(), l.cfg.Domain)
}

// hashParticipant returns the unpadded base32 SHA-256 of the lower-cased value.
func hashParticipant(value string) string {
	sum := sha256.Sum256([]byte(strings.ToLower(value)))
	return strings.TrimRight(base32.StdEncoding.EncodeToString(sum[:]), "=")
}

// selectBestRecord picks the U-NAPTR record with the lowest order and
// preference, favouring the preferred service over other SMP services.
func (l *BDXLLocator) selectBestRecord(records []*dns.NAPTR) (*url.URL, error) {
	preferred := strings.ToLower(string(l.cfg.PreferredService))

	var (
		best          *dns.NAPTR
		bestRank      int
		bestPreferred bool
	)
	for _, r := range records {
		if !strings.EqualFold(r.Flags, "U") {
			continue
		}
		service := strings.ToLower(r.Service)
		isPreferred := service == preferred
		if !isPreferred && service != strings.ToLower(string(ServiceTypeSMP1)) && service != strings.ToLower(string(ServiceTypeSMP2)) {
			continue
		}

		rank := int(r.Order)*1000 + int(r.Preference)
		switch {
		case best == nil,
			isPreferred && !bestPreferred,
			isPreferred == bestPreferred && rank < bestRank:
			best, bestRank, bestPreferred = r, rank, isPreferred
		}
	}
	if best == nil {
		return nil, ErrServiceNotFound
	}
	return extractURLFromRegexp(best.Regexp)
}

// extractURLFromRegexp reads the replacement of a "!pattern!replacement!" field.
func extractURLFromRegexp(field string) (*url.URL, error) {
	if field == "" {
		return nil, ErrInvalidNAPTRRecord
	}
	parts := strings.Split(field, "!")
	if len(parts) < 3 || parts[2] == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidNAPTRRecord, field)
	}

	u, err := url.Parse(parts[2])
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidNAPTRRecord, err)
	}
	if u.Scheme != "https" && u.Scheme != "http" {
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidNAPTRRecord, u.Scheme)
	}
	return u, nil
}

// BusdoxLocator derives the SMP host from the participant as the legacy
// BusDox SML did: http://B-<md5(lower(value))>.<scheme>.<domain>. It does not
// query DNS itself; an unregistered participant surfaces as a host lookup
// failure of the SMP request.
type BusdoxLocator struct {
	Domain string
}

// Locate implements Locator
func (l BusdoxLocator) Locate(_ context.Context, participant identifier.ParticipantIdentifier) (*url.URL, error) {
	if participant.IsZero() {
		return nil, errors.New("busdox: participant is required")
	}
	sum := md5.Sum([]byte(strings.ToLower(participant.Value())))
	return &url.URL{
		Scheme: "http",
		Host:   "B-" + hex.EncodeToString(sum[:]) + "." + participant.Scheme() + "." + l.Domain,
	}, nil
}

// FixedLocator sends every lookup to one SMP
type FixedLocator struct {
	URL *url.URL
}

// Locate implements Locator
func (l FixedLocator) Locate(context.Context, identifier.ParticipantIdentifier) (*url.URL, error) {
	u := *l.URL
	return &u, nil
}
