// Package config loads signer and coordinator settings from flags,
// FROST_* environment variables and an optional YAML file, in that order
// of precedence.
package config

import (
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	frost "github.com/canopy-network/frost-taproot"
)

// EnvPrefix is prepended to every environment variable, FROST_PARTY_ID etc.
const EnvPrefix = "FROST"

const (
	keyConfig       = "config"
	keyPartyID      = "party-id"
	keyTotal        = "total"
	keyThreshold    = "threshold"
	keyListen       = "listen"
	keyStorePath    = "store-path"
	keyLogLevel     = "log-level"
	keyNonceTTL     = "nonce-ttl"
	keyRetention    = "session-retention"
	keySignerURLs   = "signer-urls"
	keyRoundTimeout = "round-timeout"
	keyNetwork      = "network"
	keyMessage      = "message"
)

// SignerConfig configures one participant.
type SignerConfig struct {
	PartyID   frost.ParticipantIndex
	Params    frost.ThresholdParams
	Listen    string
	StorePath string
	LogLevel  string
	NonceTTL  time.Duration
	// Retention is how long finished session ids stay in memory.
	Retention time.Duration
	// Warnings from the threshold assessment, for logging at start up.
	Warnings []string
}

// CoordinatorConfig configures the coordinator.
type CoordinatorConfig struct {
	Params       frost.ThresholdParams
	SignerURLs   []string
	RoundTimeout time.Duration
	Network      string
	LogLevel     string
	// Message is an optional hex message to sign once the key is ready.
	Message  string
	Warnings []string
}

func newViper(fs *pflag.FlagSet, args []string) (*viper.Viper, error) {
	fs.String(keyConfig, "", "optional YAML config file")
	fs.String(keyLogLevel, "info", "log level: debug, info, warn, error")
	if err := fs.Parse(args); err != nil {
		return nil, errors.Wrap(err, "parse flags")
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()
	if err := v.BindPFlags(fs); err != nil {
		return nil, errors.Wrap(err, "bind flags")
	}

	if file := v.GetString(keyConfig); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "read config %s", file)
		}
	}
	return v, nil
}

func thresholdFlags(fs *pflag.FlagSet) {
	fs.Int(keyTotal, 3, "number of participants N")
	fs.Int(keyThreshold, 2, "signing threshold T")
}

func readParams(v *viper.Viper) (frost.ThresholdParams, []string, error) {
	params := frost.ThresholdParams{Threshold: v.GetInt(keyThreshold), Total: v.GetInt(keyTotal)}
	if err := params.Validate(); err != nil {
		return params, nil, err
	}
	return params, frost.NewDefaultThresholdValidator().Assess(params).Warnings, nil
}

// LoadSigner reads the signer configuration.
func LoadSigner(args []string) (*SignerConfig, error) {
	fs := pflag.NewFlagSet("frost-signer", pflag.ContinueOnError)
	fs.Uint32(keyPartyID, 0, "this participant's id, 1..N")
	thresholdFlags(fs)
	fs.String(keyListen, ":8080", "HTTP listen address")
	fs.String(keyStorePath, "frost-keys.db", "bbolt key share store")
	fs.Duration(keyNonceTTL, 10*time.Minute, "unused signing nonces are dropped after this long")
	fs.Duration(keyRetention, frost.DefaultClosedRetention, "finished sessions are dropped from memory after this long")

	v, err := newViper(fs, args)
	if err != nil {
		return nil, err
	}
	params, warnings, err := readParams(v)
	if err != nil {
		return nil, err
	}

	cfg := &SignerConfig{
		PartyID:   frost.ParticipantIndex(v.GetUint32(keyPartyID)),
		Params:    params,
		Listen:    v.GetString(keyListen),
		StorePath: v.GetString(keyStorePath),
		LogLevel:  v.GetString(keyLogLevel),
		NonceTTL:  v.GetDuration(keyNonceTTL),
		Retention: v.GetDuration(keyRetention),
		Warnings:  warnings,
	}
	if !params.Contains(cfg.PartyID) {
		return nil, frost.ErrInvalidParticipantID.WithDetails("party id %d outside 1..%d", cfg.PartyID, params.Total)
	}
	if cfg.StorePath == "" {
		return nil, errors.New("store path is required")
	}
	if cfg.NonceTTL <= 0 {
		return nil, errors.Errorf("nonce ttl must be positive, got %s", cfg.NonceTTL)
	}
	if cfg.Retention < cfg.NonceTTL {
		return nil, errors.Errorf("session retention %s is shorter than the nonce ttl %s", cfg.Retention, cfg.NonceTTL)
	}
	return cfg, nil
}

// LoadCoordinator reads the coordinator configuration.
func LoadCoordinator(args []string) (*CoordinatorConfig, error) {
	fs := pflag.NewFlagSet("frost-coordinator", pflag.ContinueOnError)
	thresholdFlags(fs)
	fs.StringSlice(keySignerURLs, nil, "signer base URLs, participant 1 first")
	fs.Duration(keyRoundTimeout, 30*time.Second, "deadline for each protocol round")
	fs.String(keyNetwork, "testnet3", "bitcoin network for the taproot address")
	fs.String(keyMessage, "", "hex message to sign after key generation")

	v, err := newViper(fs, args)
	if err != nil {
		return nil, err
	}
	params, warnings, err := readParams(v)
	if err != nil {
		return nil, err
	}

	cfg := &CoordinatorConfig{
		Params:       params,
		SignerURLs:   splitList(v.GetStringSlice(keySignerURLs)),
		RoundTimeout: v.GetDuration(keyRoundTimeout),
		Network:      v.GetString(keyNetwork),
		LogLevel:     v.GetString(keyLogLevel),
		Message:      v.GetString(keyMessage),
		Warnings:     warnings,
	}
	if len(cfg.SignerURLs) != params.Total {
		return nil, frost.ErrInvalidParams.WithDetails("%d signer urls for %d participants", len(cfg.SignerURLs), params.Total)
	}
	if cfg.RoundTimeout <= 0 {
		return nil, errors.Errorf("round timeout must be positive, got %s", cfg.RoundTimeout)
	}
	return cfg, nil
}

// splitList accepts both repeated values and one comma separated string,
// the form environment variables arrive in.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
