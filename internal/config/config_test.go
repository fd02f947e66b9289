package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse([]byte("{}"))
	require.NoError(t, err)

	assert.Equal(t, ModeProduction, cfg.Mode)
	assert.False(t, cfg.OverrideAllowed())
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, LocatorBDXL, cfg.Lookup.Locator)
	assert.Equal(t, "acc.edelivery.tech.ec.europa.eu", cfg.Lookup.SMLDomain)
	assert.Equal(t, 10*time.Minute, cfg.Lookup.CacheTTL)
	assert.Equal(t, 3, cfg.Lookup.Retry.MaxAttempts)
	assert.Equal(t, StorageMemory, cfg.Storage.Type)
	assert.Equal(t, "/metrics", cfg.Observability.Metrics.Path)
	assert.Equal(t, slog.LevelInfo, cfg.Log.SlogLevel())

	assert.Equal(t, cfg, Default())
}

func TestLoadExpandsEnvironment(t *testing.T) {
	t.Setenv("TEST_MONGODB_URI", "mongodb://db.example.com:27017")

	path := filepath.Join(t.TempDir(), "oxalis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
mode: test
server:
  port: 9090
  readTimeout: 5s
lookup:
  locator: smp
  smpURL: https://smp.example.com
  transportProfiles:
    - peppol-transport-as4-v2_0
  retry:
    maxAttempts: 5
storage:
  type: mongodb
  mongodb:
    uri: ${TEST_MONGODB_URI}
log:
  level: debug
  format: text
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.True(t, cfg.OverrideAllowed())
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 5*time.Second, cfg.Server.ReadTimeout)
	assert.Equal(t, "https://smp.example.com", cfg.Lookup.SMPURL)
	assert.Empty(t, cfg.Lookup.SMLDomain)
	assert.Equal(t, []string{"peppol-transport-as4-v2_0"}, cfg.Lookup.TransportProfiles)
	assert.Equal(t, 5, cfg.Lookup.Retry.MaxAttempts)
	assert.Equal(t, "mongodb://db.example.com:27017", cfg.Storage.MongoDB.URI)
	assert.Equal(t, "transmissions", cfg.Storage.MongoDB.Collection)
	assert.Equal(t, slog.LevelDebug, cfg.Log.SlogLevel())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.ErrorContains(t, err, "reading config file")
}

func TestParseMalformedYAML(t *testing.T) {
	_, err := Parse([]byte("server: [port"))
	assert.ErrorContains(t, err, "parsing config file")
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "unknown mode",
			yaml: "mode: staging",
			want: "mode must be one of [production test], got 'staging'",
		},
		{
			name: "unknown locator",
			yaml: "lookup:\n  locator: ldap",
			want: "lookup.locator must be one of",
		},
		{
			name: "smp locator without url",
			yaml: "lookup:\n  locator: smp",
			want: "lookup.smpURL is required",
		},
		{
			name: "smp url not a url",
			yaml: "lookup:\n  locator: smp\n  smpURL: not a url",
			want: "lookup.smpURL is not a valid url",
		},
		{
			name: "bad dns server",
			yaml: "lookup:\n  dnsServer: 10.0.0.1",
			want: "lookup.dnsServer is not a valid hostname_port",
		},
		{
			name: "static locator without entries",
			yaml: "lookup:\n  locator: static",
			want: "lookup.static must list at least one endpoint",
		},
		{
			name: "static entry without profile",
			yaml: "lookup:\n  locator: static\n  static:\n    - participant: 0088:1",
			want: "lookup.static[0].transportProfile is required",
		},
		{
			name: "static entry with document type only",
			yaml: "lookup:\n  locator: static\n  static:\n    - participant: 0088:1\n      transportProfile: p\n      documentType: d",
			want: "lookup.static[0].process is required",
		},
		{
			name: "retry delays inverted",
			yaml: "lookup:\n  retry:\n    initialDelay: 5s\n    maxDelay: 1s",
			want: "lookup.retry.maxDelay failed gtefield=InitialDelay",
		},
		{
			name: "tls without files",
			yaml: "server:\n  tls:\n    enabled: true",
			want: "server.tls.certFile is required",
		},
		{
			name: "port out of range",
			yaml: "server:\n  port: 70000",
			want: "server.port failed max=65535",
		},
		{
			name: "mongodb without uri",
			yaml: "storage:\n  type: mongodb",
			want: "storage.mongodb.uri is required",
		},
		{
			name: "ocsp without roots",
			yaml: "trust:\n  ocsp:\n    enabled: true",
			want: "trust.rootsFile is required",
		},
		{
			name: "bad log level",
			yaml: "log:\n  level: verbose",
			want: "log.level must be one of [debug info warn error]",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStaticEndpointAcceptsParticipantWide(t *testing.T) {
	cfg, err := Parse([]byte(`
lookup:
  locator: static
  static:
    - participant: 9908:810017902
      transportProfile: peppol-transport-as4-v2_0
      address: https://ap.example.com/as4
`))
	require.NoError(t, err)
	require.Len(t, cfg.Lookup.Static, 1)
	assert.Empty(t, cfg.Lookup.Static[0].DocumentType)
}
