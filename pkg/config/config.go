package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"
)

// TieBreak selects which candidate is eliminated when several share the
// lowest point total.
type TieBreak string

const (
	// TieBreakLowestIndex eliminates the tied candidate listed first
	TieBreakLowestIndex TieBreak = "lowest_index"
	// TieBreakHighestIndex eliminates the tied candidate listed last
	TieBreakHighestIndex TieBreak = "highest_index"
)

func (t TieBreak) String() string {
	return string(t)
}

// Config represents the election config
type Config struct {
	// Candidates are the candidate names in index order
	Candidates []string `json:"candidates"`
	// Deadline is the instant voting ends
	Deadline time.Time `json:"deadline"`
	// TieBreak is the elimination tie-break policy, lowest_index when empty
	TieBreak TieBreak `json:"tie_break,omitempty"`
	// DataDir is the ballot journal directory, in-memory only when empty
	DataDir string `json:"data_dir,omitempty"`
	// Admins are the callers allowed to run lifecycle operations, anyone when empty
	Admins []string `json:"admins,omitempty"`
	// CallBackTimeout is the timeout for state callbacks
	CallBackTimeout time.Duration `json:"callback_timeout,omitempty"`
}

func (c *Config) Validate() error {
	if len(c.Candidates) == 0 {
		return errors.New("no candidates configured")
	}
	if c.Deadline.IsZero() {
		return errors.New("no deadline configured")
	}
	switch c.TieBreak {
	case "", TieBreakLowestIndex, TieBreakHighestIndex:
	default:
		return fmt.Errorf("unknown tie break policy %q", c.TieBreak)
	}
	if c.CallBackTimeout < 0 {
		return errors.New("negative callback timeout")
	}
	return nil
}

// Load reads a JSON config file and validates it.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("load config, %w", err)
	}
	cfg, err := Parse(raw)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes a JSON config without validating it, so that callers can
// complete it before calling Validate.
func Parse(raw []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("load config, bad json: %w", err)
	}
	return cfg, nil
}
