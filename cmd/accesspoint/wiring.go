package main

import (
	"context"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"os"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rdehuyss/oxalis/internal/config"
	"github.com/rdehuyss/oxalis/internal/storage"
	"github.com/rdehuyss/oxalis/internal/storage/memory"
	"github.com/rdehuyss/oxalis/internal/storage/mongodb"
	"github.com/rdehuyss/oxalis/pkg/discovery"
	"github.com/rdehuyss/oxalis/pkg/identifier"
	"github.com/rdehuyss/oxalis/pkg/lookup"
)

func newLogger(cfg config.LogConfig, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.SlogLevel()}
	if cfg.Format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}

// buildDirectory assembles the directory named by lookup.locator. Static
// endpoints always take precedence; the network directory is returned
// separately for document type listings and is nil for the static locator.
func buildDirectory(cfg config.LookupConfig, logger *slog.Logger) (lookup.Directory, *discovery.Directory, error) {
	static, err := buildStaticDirectory(cfg.Static)
	if err != nil {
		return nil, nil, err
	}
	if cfg.Locator == config.LocatorStatic {
		return static, nil, nil
	}

	dcfg := discovery.Config{
		TransportProfiles: transportProfiles(cfg.TransportProfiles),
		Logger:            logger,
	}
	switch cfg.Locator {
	case config.LocatorBDXL:
		loc, err := discovery.NewBDXLLocator(discovery.BDXLConfig{
			Domain:    cfg.SMLDomain,
			DNSServer: cfg.DNSServer,
			Timeout:   cfg.Timeout,
		})
		if err != nil {
			return nil, nil, err
		}
		dcfg.Locator = loc
	case config.LocatorBusdox:
		dcfg.Locator = discovery.BusdoxLocator{Domain: cfg.SMLDomain}
	case config.LocatorSMP:
		u, err := url.Parse(cfg.SMPURL)
		if err != nil {
			return nil, nil, fmt.Errorf("lookup.smpURL: %w", err)
		}
		dcfg.SMPURL = u
	default:
		return nil, nil, fmt.Errorf("unknown locator %q", cfg.Locator)
	}

	network, err := discovery.NewDirectory(dcfg)
	if err != nil {
		return nil, nil, err
	}
	if len(cfg.Static) == 0 {
		return network, network, nil
	}
	return lookup.ChainDirectory{static, network}, network, nil
}

func buildStaticDirectory(entries []config.StaticEndpoint) (*lookup.StaticDirectory, error) {
	dir := lookup.NewStaticDirectory()
	for i, e := range entries {
		if err := registerStatic(dir, e); err != nil {
			return nil, fmt.Errorf("lookup.static[%d]: %w", i, err)
		}
	}
	return dir, nil
}

func registerStatic(dir *lookup.StaticDirectory, e config.StaticEndpoint) error {
	participant, err := identifier.ParseParticipantIdentifier(e.Participant)
	if err != nil {
		return err
	}

	var der []byte
	if e.CertificateFile != "" {
		cert, err := loadCertificate(e.CertificateFile)
		if err != nil {
			return err
		}
		der = cert.Raw
	}
	ep, err := lookup.ParseEndpointData(lookup.TransportProfile(e.TransportProfile), e.Address, der)
	if err != nil {
		return err
	}

	if e.DocumentType == "" {
		return dir.RegisterParticipant(participant, ep)
	}
	documentType, err := identifier.ParseDocumentTypeIdentifier(e.DocumentType)
	if err != nil {
		return err
	}
	process, err := identifier.ParseProcessIdentifier(e.Process)
	if err != nil {
		return err
	}
	return dir.Register(participant, documentType, process, ep)
}

func transportProfiles(names []string) []lookup.TransportProfile {
	if len(names) == 0 {
		return nil
	}
	out := make([]lookup.TransportProfile, len(names))
	for i, n := range names {
		out[i] = lookup.TransportProfile(n)
	}
	return out
}

// buildValidator returns nil, selecting the resolver's expiry check, when
// no trust roots are configured.
func buildValidator(cfg config.TrustConfig) (lookup.CertificateValidator, error) {
	if cfg.RootsFile == "" {
		return nil, nil
	}
	roots, err := loadCertPool(cfg.RootsFile)
	if err != nil {
		return nil, fmt.Errorf("trust.rootsFile: %w", err)
	}
	v := &lookup.ChainValidator{Roots: roots}
	if cfg.IntermediatesFile != "" {
		if v.Intermediates, err = loadCertPool(cfg.IntermediatesFile); err != nil {
			return nil, fmt.Errorf("trust.intermediatesFile: %w", err)
		}
	}
	if cfg.OCSP.Enabled {
		v.Revocation = lookup.NewOCSPChecker(lookup.OCSPConfig{
			Timeout:     cfg.OCSP.Timeout,
			CRLFallback: cfg.OCSP.CRLFallback,
			CacheTTL:    cfg.OCSP.CacheTTL,
			Strict:      cfg.OCSP.Strict,
		})
	}
	return v, nil
}

func buildResolver(cfg *config.Config, dir lookup.Directory, logger *slog.Logger, reg prometheus.Registerer) (*lookup.Resolver, error) {
	validator, err := buildValidator(cfg.Trust)
	if err != nil {
		return nil, err
	}
	return lookup.NewResolver(dir, &lookup.Config{
		CacheTTL:      cfg.Lookup.CacheTTL,
		MaxEntries:    cfg.Lookup.MaxEntries,
		LookupTimeout: cfg.Lookup.Timeout,
		Retry: lookup.RetryConfig{
			MaxAttempts:  cfg.Lookup.Retry.MaxAttempts,
			InitialDelay: cfg.Lookup.Retry.InitialDelay,
			MaxDelay:     cfg.Lookup.Retry.MaxDelay,
			Multiplier:   cfg.Lookup.Retry.Multiplier,
			Jitter:       cfg.Lookup.Retry.Jitter,
		},
		Validator:  validator,
		Logger:     logger,
		Registerer: reg,
	})
}

func buildStore(ctx context.Context, cfg config.StorageConfig) (storage.TransmissionStore, error) {
	if cfg.Type != config.StorageMongoDB {
		return memory.NewStore(), nil
	}
	ctx, cancel := context.WithTimeout(ctx, cfg.MongoDB.Timeout)
	defer cancel()
	return mongodb.NewStore(ctx, &mongodb.Config{
		URI:        cfg.MongoDB.URI,
		Database:   cfg.MongoDB.Database,
		Collection: cfg.MongoDB.Collection,
	})
}

// loadCertificate reads the first certificate of a PEM or DER file
func loadCertificate(path string) (*x509.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if block, _ := pem.Decode(data); block != nil {
		data = block.Bytes
	}
	cert, err := x509.ParseCertificate(data)
	if err != nil {
		return nil, fmt.Errorf("parsing certificate %s: %w", path, err)
	}
	return cert, nil
}

func loadCertPool(path string) (*x509.CertPool, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(data) {
		return nil, errors.New("no PEM certificates found in " + path)
	}
	return pool, nil
}
