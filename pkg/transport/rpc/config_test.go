package rpc

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr string
	}{
		{
			name:   "plain_tcp",
			config: Config{},
		},
		{
			name:    "server_key_without_cert",
			config:  Config{ServerKey: "tally.key"},
			wantErr: "incomplete server certificate configuration",
		},
		{
			name:    "server_cert_without_key",
			config:  Config{ServerCert: "tally.pem"},
			wantErr: "incomplete server certificate configuration",
		},
		{
			name:    "server_verifies_voters_without_cas",
			config:  Config{ServerKey: "tally.key", ServerCert: "tally.pem"},
			wantErr: "no server CAs configured",
		},
		{
			name:   "server_verifies_voters",
			config: Config{ServerKey: "tally.key", ServerCert: "tally.pem", ServerCAs: []string{"voters-ca.pem"}},
		},
		{
			name:   "server_accepts_any_client",
			config: Config{ServerKey: "tally.key", ServerCert: "tally.pem", ServerSkipVerify: true},
		},
		{
			name:    "client_cert_without_key",
			config:  Config{ClientCert: "chair.pem"},
			wantErr: "incomplete client certificate configuration",
		},
		{
			name:    "client_without_cas",
			config:  Config{ClientKey: "chair.key", ClientCert: "chair.pem"},
			wantErr: "no client CAs configured",
		},
		{
			name:   "client_trusts_tally_ca",
			config: Config{ClientKey: "chair.key", ClientCert: "chair.pem", ClientCAs: []string{"tally-ca.pem"}, ConnectTimeout: 30},
		},
		{
			name:    "timeout_too_long",
			config:  Config{ConnectTimeout: MaxConnectTimeout + 1},
			wantErr: "connect timeout 301s exceeds 300s",
		},
		{
			name:   "timeout_at_limit",
			config: Config{ConnectTimeout: MaxConnectTimeout},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.EqualError(t, err, tt.wantErr)
		})
	}
}

func TestConfig_Timeout(t *testing.T) {
	assert.Equal(t, 5*time.Second, (&Config{}).Timeout())
	assert.Equal(t, 12*time.Second, (&Config{ConnectTimeout: 12}).Timeout())
}

func TestConfig_TLS(t *testing.T) {
	cfg := &Config{ServerKey: "tally.key", ServerCert: "tally.pem"}
	assert.True(t, cfg.ServerTLS())
	assert.False(t, cfg.ClientTLS())

	cfg = &Config{ClientKey: "chair.key"}
	assert.False(t, cfg.ClientTLS())
}
