package rpc

import (
	"errors"
	"fmt"
	"time"
)

const (
	// DefaultConnectTimeout applies when Config.ConnectTimeout is zero, in seconds
	DefaultConnectTimeout = 5
	// MaxConnectTimeout bounds Config.ConnectTimeout, in seconds
	MaxConnectTimeout = 300
)

// Config is the TLS and dial configuration of the tally transport. The
// server side authenticates voters' and administrators' connections; the
// client side is used by pkg/client. Leaving both key pairs empty serves
// and dials plain TCP.
type Config struct {
	// ServerCAs verify client certificates when ServerSkipVerify is false.
	ServerCAs        []string `json:"server_cas"`
	ServerKey        string   `json:"server_key"`
	ServerCert       string   `json:"server_cert"`
	ServerSkipVerify bool     `json:"server_skip_verify"`

	// ClientCAs verify the tally server certificate; required unless
	// ClientSkipVerify is set.
	ClientCAs        []string `json:"client_cas"`
	ClientCert       string   `json:"client_cert"`
	ClientKey        string   `json:"client_key"`
	ClientSkipVerify bool     `json:"client_skip_verify"`

	// ConnectTimeout is the dial timeout in seconds, DefaultConnectTimeout when zero.
	ConnectTimeout uint `json:"connect_timeout"`
}

// Timeout returns the dial timeout.
func (c *Config) Timeout() time.Duration {
	if c.ConnectTimeout == 0 {
		return DefaultConnectTimeout * time.Second
	}
	return time.Duration(c.ConnectTimeout) * time.Second
}

// ServerTLS reports whether the server side serves TLS.
func (c *Config) ServerTLS() bool {
	return c.ServerKey != "" && c.ServerCert != ""
}

// ClientTLS reports whether the client side dials TLS.
func (c *Config) ClientTLS() bool {
	return c.ClientKey != "" && c.ClientCert != ""
}

func (c *Config) Validate() error {
	if c.ConnectTimeout > MaxConnectTimeout {
		return fmt.Errorf("connect timeout %ds exceeds %ds", c.ConnectTimeout, MaxConnectTimeout)
	}
	if err := checkKeyPair("server", c.ServerKey, c.ServerCert, c.ServerSkipVerify, c.ServerCAs); err != nil {
		return err
	}
	return checkKeyPair("client", c.ClientKey, c.ClientCert, c.ClientSkipVerify, c.ClientCAs)
}

// checkKeyPair requires both halves of a key pair, and CAs to verify the
// peer unless verification is skipped.
func checkKeyPair(side, key, cert string, skipVerify bool, cas []string) error {
	if (key == "") != (cert == "") {
		return fmt.Errorf("incomplete %s certificate configuration", side)
	}
	if key != "" && !skipVerify && len(cas) == 0 {
		return fmt.Errorf("no %s CAs configured", side)
	}
	return nil
}

// errNotConfig is returned when a transport is started with a foreign config type.
var errNotConfig = errors.New("not a valid rpc transport config")
