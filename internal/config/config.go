// Package config handles configuration loading for the access point.
//
// Configuration is loaded from a YAML file with support for environment
// variable expansion (${VAR} or $VAR syntax), so credentials such as the
// MongoDB URI can be injected at runtime.
//
// # Configuration Sections
//
//   - mode: "production" or "test"; test mode permits header overrides
//   - server: HTTP server settings (port, TLS, timeouts, payload limit)
//   - lookup: endpoint discovery (locator, SMP, cache, retries, static endpoints)
//   - trust: certificate validation of resolved endpoints (roots, OCSP)
//   - certificate: the access point's own certificate, reported on /status
//   - storage: transmission journal (memory or MongoDB)
//   - observability: Prometheus metrics
//   - log: level and format of the structured log
//
// # Example Configuration
//
//	mode: production
//	server:
//	  port: 8080
//	lookup:
//	  locator: bdxl
//	  smlDomain: edelivery.tech.ec.europa.eu
//	  cacheTTL: 10m
//	  timeout: 10s
//	trust:
//	  rootsFile: /etc/oxalis/peppol-ap-ca.pem
//	  ocsp:
//	    enabled: true
//	storage:
//	  type: mongodb
//	  mongodb:
//	    uri: ${MONGODB_URI}
//
// See [Load] for loading configuration from a file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Operation modes
const (
	ModeProduction = "production"
	ModeTest       = "test"
)

// Locator types
const (
	LocatorBDXL   = "bdxl"
	LocatorBusdox = "busdox"
	LocatorSMP    = "smp"
	LocatorStatic = "static"
)

// Storage types
const (
	StorageMemory  = "memory"
	StorageMongoDB = "mongodb"
)

// Config is the root configuration structure
type Config struct {
	Mode          string              `yaml:"mode" validate:"oneof=production test"`
	Server        ServerConfig        `yaml:"server"`
	Lookup        LookupConfig        `yaml:"lookup"`
	Trust         TrustConfig         `yaml:"trust"`
	Certificate   CertificateConfig   `yaml:"certificate"`
	Storage       StorageConfig       `yaml:"storage"`
	Observability ObservabilityConfig `yaml:"observability"`
	Log           LogConfig           `yaml:"log"`
}

// ServerConfig holds HTTP server settings
type ServerConfig struct {
	Port            int           `yaml:"port" validate:"min=1,max=65535"`
	ReadTimeout     time.Duration `yaml:"readTimeout" validate:"gt=0"`
	WriteTimeout    time.Duration `yaml:"writeTimeout" validate:"gt=0"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" validate:"gt=0"`
	// MaxPayloadBytes bounds the size of submitted documents
	MaxPayloadBytes int64 `yaml:"maxPayloadBytes" validate:"gt=0"`
	TLS             struct {
		Enabled  bool   `yaml:"enabled"`
		CertFile string `yaml:"certFile" validate:"required_if=Enabled true"`
		KeyFile  string `yaml:"keyFile" validate:"required_if=Enabled true"`
	} `yaml:"tls"`
}

// LookupConfig holds endpoint discovery settings
type LookupConfig struct {
	// Locator selects how the SMP of a participant is found:
	// "bdxl" and "busdox" query the SML, "smp" uses SMPURL for everyone,
	// "static" only serves the Static table.
	Locator string `yaml:"locator" validate:"oneof=bdxl busdox smp static"`
	// SMLDomain is the SML zone, e.g. edelivery.tech.ec.europa.eu
	SMLDomain string `yaml:"smlDomain" validate:"required_if=Locator bdxl,required_if=Locator busdox"`
	// DNSServer overrides the resolv.conf name server ("host:port")
	DNSServer         string        `yaml:"dnsServer" validate:"omitempty,hostname_port"`
	SMPURL            string        `yaml:"smpURL" validate:"omitempty,url"`
	TransportProfiles []string      `yaml:"transportProfiles" validate:"dive,required"`
	CacheTTL          time.Duration `yaml:"cacheTTL" validate:"gt=0"`
	MaxEntries        int           `yaml:"maxEntries" validate:"gt=0"`
	Timeout           time.Duration `yaml:"timeout" validate:"gt=0"`
	Retry             RetryConfig   `yaml:"retry"`
	// Static endpoints are consulted before the network locator
	Static []StaticEndpoint `yaml:"static" validate:"dive"`
}

// RetryConfig holds lookup retry settings
type RetryConfig struct {
	MaxAttempts  int           `yaml:"maxAttempts" validate:"min=1,max=10"`
	InitialDelay time.Duration `yaml:"initialDelay" validate:"gt=0"`
	MaxDelay     time.Duration `yaml:"maxDelay" validate:"gtefield=InitialDelay"`
	Multiplier   float64       `yaml:"multiplier" validate:"gte=1"`
	Jitter       float64       `yaml:"jitter" validate:"gte=0,lte=1"`
}

// StaticEndpoint is a fixed endpoint for a participant. Without document
// type and process it serves every document type of the participant.
type StaticEndpoint struct {
	Participant      string `yaml:"participant" validate:"required"`
	DocumentType     string `yaml:"documentType" validate:"required_with=Process"`
	Process          string `yaml:"process" validate:"required_with=DocumentType"`
	TransportProfile string `yaml:"transportProfile" validate:"required"`
	Address          string `yaml:"address" validate:"omitempty,url"`
	CertificateFile  string `yaml:"certificateFile"`
}

// TrustConfig holds endpoint certificate validation settings. Without a
// roots file only the validity period is checked.
type TrustConfig struct {
	RootsFile         string     `yaml:"rootsFile"`
	IntermediatesFile string     `yaml:"intermediatesFile"`
	OCSP              OCSPConfig `yaml:"ocsp"`
}

// OCSPConfig holds revocation checking settings
type OCSPConfig struct {
	Enabled     bool          `yaml:"enabled"`
	Strict      bool          `yaml:"strict"`
	CRLFallback bool          `yaml:"crlFallback"`
	Timeout     time.Duration `yaml:"timeout" validate:"gt=0"`
	CacheTTL    time.Duration `yaml:"cacheTTL" validate:"gt=0"`
}

// CertificateConfig names the access point certificate
type CertificateConfig struct {
	File string `yaml:"file"`
}

// StorageConfig holds transmission journal settings
type StorageConfig struct {
	Type    string        `yaml:"type" validate:"oneof=memory mongodb"`
	MongoDB MongoDBConfig `yaml:"mongodb"`
}

// MongoDBConfig holds MongoDB connection settings
type MongoDBConfig struct {
	URI        string        `yaml:"uri"`
	Database   string        `yaml:"database" validate:"required"`
	Collection string        `yaml:"collection" validate:"required"`
	Timeout    time.Duration `yaml:"timeout" validate:"gt=0"`
}

// ObservabilityConfig holds metrics settings
type ObservabilityConfig struct {
	Metrics struct {
		Enabled bool   `yaml:"enabled"`
		Path    string `yaml:"path" validate:"startswith=/"`
	} `yaml:"metrics"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level" validate:"oneof=debug info warn error"`
	Format string `yaml:"format" validate:"oneof=json text"`
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	return Parse(data)
}

// Parse reads configuration from YAML, expanding environment variables
func Parse(data []byte) (*Config, error) {
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return &cfg, nil
}

// Default returns the configuration used when no file is given: test SML,
// in-memory journal, production mode.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

func (c *Config) applyDefaults() {
	if c.Mode == "" {
		c.Mode = ModeProduction
	}

	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Server.ReadTimeout == 0 {
		c.Server.ReadTimeout = 30 * time.Second
	}
	if c.Server.WriteTimeout == 0 {
		c.Server.WriteTimeout = 60 * time.Second
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 15 * time.Second
	}
	if c.Server.MaxPayloadBytes == 0 {
		c.Server.MaxPayloadBytes = 100 << 20
	}

	if c.Lookup.Locator == "" {
		c.Lookup.Locator = LocatorBDXL
	}
	if c.Lookup.SMLDomain == "" && (c.Lookup.Locator == LocatorBDXL || c.Lookup.Locator == LocatorBusdox) {
		c.Lookup.SMLDomain = "acc.edelivery.tech.ec.europa.eu"
	}
	if c.Lookup.CacheTTL == 0 {
		c.Lookup.CacheTTL = 10 * time.Minute
	}
	if c.Lookup.MaxEntries == 0 {
		c.Lookup.MaxEntries = 10000
	}
	if c.Lookup.Timeout == 0 {
		c.Lookup.Timeout = 10 * time.Second
	}
	if c.Lookup.Retry.MaxAttempts == 0 {
		c.Lookup.Retry.MaxAttempts = 3
	}
	if c.Lookup.Retry.InitialDelay == 0 {
		c.Lookup.Retry.InitialDelay = 200 * time.Millisecond
	}
	if c.Lookup.Retry.MaxDelay == 0 {
		c.Lookup.Retry.MaxDelay = 2 * time.Second
	}
	if c.Lookup.Retry.Multiplier == 0 {
		c.Lookup.Retry.Multiplier = 2
	}

	if c.Trust.OCSP.Timeout == 0 {
		c.Trust.OCSP.Timeout = 10 * time.Second
	}
	if c.Trust.OCSP.CacheTTL == 0 {
		c.Trust.OCSP.CacheTTL = time.Hour
	}

	if c.Storage.Type == "" {
		c.Storage.Type = StorageMemory
	}
	if c.Storage.MongoDB.Database == "" {
		c.Storage.MongoDB.Database = "oxalis"
	}
	if c.Storage.MongoDB.Collection == "" {
		c.Storage.MongoDB.Collection = "transmissions"
	}
	if c.Storage.MongoDB.Timeout == 0 {
		c.Storage.MongoDB.Timeout = 10 * time.Second
	}

	if c.Observability.Metrics.Path == "" {
		c.Observability.Metrics.Path = "/metrics"
	}

	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report fields by their YAML names
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name, _, _ := strings.Cut(fld.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Validate checks field constraints and the rules spanning sections.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return err
		}
		msgs := make([]string, 0, len(verrs))
		for _, fe := range verrs {
			msgs = append(msgs, describe(fe))
		}
		return errors.New(strings.Join(msgs, "; "))
	}

	if c.Storage.Type == StorageMongoDB && c.Storage.MongoDB.URI == "" {
		return fmt.Errorf("storage.mongodb.uri is required when storage.type is 'mongodb'")
	}
	if c.Lookup.Locator == LocatorSMP && c.Lookup.SMPURL == "" {
		return fmt.Errorf("lookup.smpURL is required when lookup.locator is 'smp'")
	}
	if c.Lookup.Locator == LocatorStatic && len(c.Lookup.Static) == 0 {
		return fmt.Errorf("lookup.static must list at least one endpoint when lookup.locator is 'static'")
	}
	if c.Trust.OCSP.Enabled && c.Trust.RootsFile == "" {
		return fmt.Errorf("trust.rootsFile is required when trust.ocsp.enabled is set")
	}
	return nil
}

func describe(fe validator.FieldError) string {
	field := fe.Namespace()
	if _, rest, ok := strings.Cut(field, "."); ok {
		field = rest
	}
	switch fe.Tag() {
	case "required", "required_if", "required_with":
		return field + " is required"
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s], got '%v'", field, fe.Param(), fe.Value())
	case "url", "hostname_port":
		return fmt.Sprintf("%s is not a valid %s: '%v'", field, fe.Tag(), fe.Value())
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s failed %s=%s", field, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s failed %s", field, fe.Tag())
}

// OverrideAllowed reports whether transmission header overrides are
// permitted. Only test mode allows them.
func (c *Config) OverrideAllowed() bool {
	return c.Mode == ModeTest
}

// SlogLevel maps log.level onto a slog level
func (c LogConfig) SlogLevel() slog.Level {
	switch c.Level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}
