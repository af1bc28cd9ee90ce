package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "v53.0", cfg.Salesforce.APIVersion)
	assert.Equal(t, 5000, cfg.Bulk.BatchSize)
	assert.Equal(t, 2*time.Second, cfg.Bulk.Poll.BaseDelay)
}

func TestLoadYAMLOverlaysDefaults(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
salesforce:
  instanceUrl: https://acme.my.salesforce.com
bulk:
  enableBatching: true
  batchSize: 2000
  poll:
    baseDelay: 5s
    maxWait: 20m
objects:
  Invoice__c: [Amount__c]
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout, "unset keys keep defaults")
	assert.Equal(t, "https://acme.my.salesforce.com", cfg.Salesforce.InstanceURL)
	assert.True(t, cfg.Bulk.EnableBatching)
	assert.Equal(t, 2000, cfg.Bulk.BatchSize)
	assert.Equal(t, 5*time.Second, cfg.Bulk.Poll.BaseDelay)
	assert.Equal(t, 20*time.Minute, cfg.Bulk.Poll.MaxWait)
	assert.Equal(t, 3, cfg.Bulk.Poll.MaxPollErrors)
	assert.Equal(t, []string{"Amount__c"}, cfg.Objects["Invoice__c"])

	opts := cfg.SyncOptions()
	assert.True(t, opts.EnableBatching)
	assert.Equal(t, 2000, opts.BatchSize)
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	path := writeConfig(t, "bulk:\n  batchSzie: 10\n")
	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "batchSzie")
}

func TestLoadEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, "server:\n  port: 9090\n")
	t.Setenv("PORT", "7070")
	t.Setenv("SALESFORCE_ACCESS_TOKEN", "00Dx!secret")
	t.Setenv("BULK_ENABLE_BATCHING", "true")
	t.Setenv("SERVER_SHUTDOWN_TIMEOUT", "5s")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
	assert.Equal(t, "00Dx!secret", cfg.Salesforce.AccessToken)
	assert.True(t, cfg.Bulk.EnableBatching)
	assert.Equal(t, 5*time.Second, cfg.Server.ShutdownTimeout)

	assert.NotContains(t, cfg.String(), "secret")
}

func TestLoadEnvInvalidValue(t *testing.T) {
	t.Setenv("JOBS_WORKERS", "many")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "JOBS_WORKERS")
}

func TestValidateReportsEveryProblem(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Bulk.BatchSize = 20000
	cfg.Logging.Level = "loud"
	cfg.Bulk.Poll.Multiplier = 0.5

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	for _, want := range []string{"server.port", "bulk.batchSize", "logging.level", "bulk.poll"} {
		assert.True(t, strings.Contains(msg, want), "missing %q in %s", want, msg)
	}
}

func TestSetField(t *testing.T) {
	var s struct {
		List []string
		D    time.Duration
	}
	v := reflect.ValueOf(&s).Elem()

	require.NoError(t, setField(v.Field(0), " a, b ,,c"))
	assert.Equal(t, []string{"a", "b", "c"}, s.List)

	require.NoError(t, setField(v.Field(1), "90s"))
	assert.Equal(t, 90*time.Second, s.D)

	assert.Error(t, setField(v.Field(1), "soon"))
}
