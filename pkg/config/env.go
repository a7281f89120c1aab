package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
)

// Environment variables recognised on top of the configuration file.
// They match the variables used by the container deployment.
const (
	EnvRPCURL            = "RPC_URL"
	EnvDatabaseURL       = "DATABASE_URL"
	EnvContractAddress   = "CONTRACT_ADDRESS"
	EnvPollInterval      = "POLL_INTERVAL"
	EnvConfirmationDepth = "CONFIRMATION_DEPTH"
	EnvStartBlock        = "START_BLOCK"
	EnvMetricsPort       = "METRICS_PORT"
)

// LookupFunc has the signature of os.LookupEnv.
type LookupFunc func(key string) (string, bool)

// ApplyEnv overrides configuration values with the environment variables that are set.
// It must run before ApplyDefaults so unset values still receive defaults.
func (c *Config) ApplyEnv(lookup LookupFunc) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvRPCURL); ok {
		c.RPC.URL = v
	}
	if v, ok := get(EnvDatabaseURL); ok {
		c.Storage.DSN = v
	}
	if v, ok := get(EnvContractAddress); ok {
		c.Indexer.ContractAddress = v
	}
	if v, ok := get(EnvPollInterval); ok {
		d, err := parseInterval(v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvPollInterval, err)
		}
		c.Indexer.PollInterval = common.NewDuration(d)
	}
	if v, ok := get(EnvConfirmationDepth); ok {
		n, err := common.ParseUint64orHex(&v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvConfirmationDepth, err)
		}
		c.Indexer.ConfirmationDepth = n
	}
	if v, ok := get(EnvStartBlock); ok {
		n, err := common.ParseUint64orHex(&v)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvStartBlock, err)
		}
		c.Indexer.StartBlock = n
	}
	if v, ok := get(EnvMetricsPort); ok {
		port, err := strconv.ParseUint(v, 10, 16)
		if err != nil || port == 0 {
			return fmt.Errorf("%s: invalid port %q", EnvMetricsPort, v)
		}
		if c.Metrics == nil {
			c.Metrics = &MetricsConfig{Enabled: true}
		}
		c.Metrics.ListenAddress = fmt.Sprintf(":%d", port)
	}

	return nil
}

// parseInterval accepts a bare number of seconds ("2") or a Go duration ("1500ms").
func parseInterval(v string) (time.Duration, error) {
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		if secs <= 0 {
			return 0, fmt.Errorf("must be positive, got %q", v)
		}
		return time.Duration(secs * float64(time.Second)), nil
	}
	var d common.Duration
	if err := d.UnmarshalText([]byte(v)); err != nil {
		return 0, err
	}
	return d.Duration, nil
}
