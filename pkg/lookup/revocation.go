package lookup

import (
	"bytes"
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"golang.org/x/crypto/ocsp"
)

// ErrCertificateRevoked is returned by a RevocationChecker for a revoked certificate
var ErrCertificateRevoked = errors.New("certificate revoked")

// RevocationChecker reports whether cert, issued by issuer, has been revoked.
// It returns nil for a good certificate and ErrCertificateRevoked for a
// revoked one.
type RevocationChecker interface {
	CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error
}

// OCSPConfig configures an OCSPChecker
type OCSPConfig struct {
	HTTPClient *http.Client
	Timeout    time.Duration
	// CRLFallback consults the CRL distribution points when OCSP gives no answer
	CRLFallback bool
	// CacheTTL bounds how long an answer is reused
	CacheTTL time.Duration
	// Strict fails the check when the status cannot be determined
	Strict bool
}

// OCSPChecker checks revocation over OCSP with an optional CRL fallback.
// Answers are cached per issuer and serial number.
type OCSPChecker struct {
	cfg    OCSPConfig
	client *http.Client

	mu      sync.RWMutex
	answers map[string]revocationAnswer
	crls    map[string]revocationList
}

type revocationAnswer struct {
	err       error
	checkedAt time.Time
}

type revocationList struct {
	list      *x509.RevocationList
	fetchedAt time.Time
}

// NewOCSPChecker returns an OCSPChecker. Zero values in cfg get defaults.
func NewOCSPChecker(cfg OCSPConfig) *OCSPChecker {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.CacheTTL == 0 {
		cfg.CacheTTL = time.Hour
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &OCSPChecker{
		cfg:     cfg,
		client:  client,
		answers: make(map[string]revocationAnswer),
		crls:    make(map[string]revocationList),
	}
}

// CheckRevocation implements RevocationChecker
func (c *OCSPChecker) CheckRevocation(ctx context.Context, cert, issuer *x509.Certificate) error {
	if cert == nil || issuer == nil {
		return errors.New("revocation check needs the certificate and its issuer")
	}

	key := string(issuer.SubjectKeyId) + "/" + cert.SerialNumber.String()
	c.mu.RLock()
	cached, ok := c.answers[key]
	c.mu.RUnlock()
	if ok && time.Since(cached.checkedAt) < c.cfg.CacheTTL {
		return cached.err
	}

	ocspErr := c.checkOCSP(ctx, cert, issuer)
	if ocspErr == nil || errors.Is(ocspErr, ErrCertificateRevoked) {
		c.remember(key, ocspErr)
		return ocspErr
	}

	if c.cfg.CRLFallback {
		crlErr := c.checkCRL(ctx, cert)
		if crlErr == nil || errors.Is(crlErr, ErrCertificateRevoked) {
			c.remember(key, crlErr)
			return crlErr
		}
		if c.cfg.Strict {
			return fmt.Errorf("revocation status unknown: ocsp: %v, crl: %v", ocspErr, crlErr)
		}
	}
	if c.cfg.Strict {
		return fmt.Errorf("revocation status unknown: %w", ocspErr)
	}
	return nil
}

func (c *OCSPChecker) remember(key string, err error) {
	c.mu.Lock()
	c.answers[key] = revocationAnswer{err: err, checkedAt: time.Now()}
	c.mu.Unlock()
}

func (c *OCSPChecker) checkOCSP(ctx context.Context, cert, issuer *x509.Certificate) error {
	if len(cert.OCSPServer) == 0 {
		return errors.New("certificate names no OCSP responder")
	}
	req, err := ocsp.CreateRequest(cert, issuer, &ocsp.RequestOptions{Hash: crypto.SHA256})
	if err != nil {
		return fmt.Errorf("create OCSP request: %w", err)
	}

	raw, err := c.postOCSP(ctx, cert.OCSPServer[0], req)
	if err != nil {
		raw, err = c.getOCSP(ctx, cert.OCSPServer[0], req)
		if err != nil {
			return fmt.Errorf("OCSP request: %w", err)
		}
	}

	resp, err := ocsp.ParseResponse(raw, issuer)
	if err != nil {
		return fmt.Errorf("parse OCSP response: %w", err)
	}
	switch resp.Status {
	case ocsp.Good:
		return nil
	case ocsp.Revoked:
		return fmt.Errorf("%w: serial %s at %s", ErrCertificateRevoked, cert.SerialNumber, resp.RevokedAt.Format(time.RFC3339))
	default:
		return fmt.Errorf("OCSP status %d", resp.Status)
	}
}

func (c *OCSPChecker) postOCSP(ctx context.Context, responder string, body []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, responder, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/ocsp-request")
	req.Header.Set("Accept", "application/ocsp-response")
	return c.fetch(req)
}

func (c *OCSPChecker) getOCSP(ctx context.Context, responder string, body []byte) ([]byte, error) {
	target := responder + "/" + url.PathEscape(base64.StdEncoding.EncodeToString(body))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/ocsp-response")
	return c.fetch(req)
}

func (c *OCSPChecker) fetch(req *http.Request) ([]byte, error) {
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%s returned status %d", req.URL.Host, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}

func (c *OCSPChecker) checkCRL(ctx context.Context, cert *x509.Certificate) error {
	if len(cert.CRLDistributionPoints) == 0 {
		return errors.New("certificate names no CRL distribution point")
	}
	var lastErr error
	for _, dp := range cert.CRLDistributionPoints {
		list, err := c.revocationList(ctx, dp)
		if err != nil {
			lastErr = err
			continue
		}
		for _, entry := range list.RevokedCertificateEntries {
			if entry.SerialNumber.Cmp(cert.SerialNumber) == 0 {
				return fmt.Errorf("%w: serial %s listed in %s", ErrCertificateRevoked, cert.SerialNumber, dp)
			}
		}
		return nil
	}
	return fmt.Errorf("fetch CRL: %w", lastErr)
}

func (c *OCSPChecker) revocationList(ctx context.Context, location string) (*x509.RevocationList, error) {
	c.mu.RLock()
	cached, ok := c.crls[location]
	c.mu.RUnlock()
	if ok && time.Since(cached.fetchedAt) < c.cfg.CacheTTL {
		return cached.list, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, location, nil)
	if err != nil {
		return nil, err
	}
	raw, err := c.fetch(req)
	if err != nil {
		return nil, err
	}
	list, err := x509.ParseRevocationList(raw)
	if err != nil {
		return nil, fmt.Errorf("parse CRL: %w", err)
	}

	c.mu.Lock()
	c.crls[location] = revocationList{list: list, fetchedAt: time.Now()}
	c.mu.Unlock()
	return list, nil
}
