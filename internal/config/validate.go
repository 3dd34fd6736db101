package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"time"
)

// Validation range constants.
const (
	minTransfers      = 1
	maxTransfers      = 32
	minPoolWorkers    = 4
	maxPoolWorkers    = 64
	minConnectTimeout = 1 * time.Second
	minRequestTimeout = 5 * time.Second
)

// Validate checks all configuration values and returns all errors found.
// It accumulates every error rather than stopping at the first.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateAPI(&cfg.API)...)
	errs = append(errs, validateTransfers(&cfg.Transfers)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateStatus(&cfg.Status)...)

	if cfg.Account.Email != "" && !strings.Contains(cfg.Account.Email, "@") {
		errs = append(errs, fmt.Errorf("account.email: %q is not an email address", cfg.Account.Email))
	}

	return errors.Join(errs...)
}

func validateAPI(a *APIConfig) []error {
	var errs []error

	u, err := url.Parse(a.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, fmt.Errorf("api.url: must be an http(s) URL, got %q", a.URL))
	}

	errs = append(errs, validateDuration("api.connect_timeout", a.ConnectTimeout, minConnectTimeout)...)
	errs = append(errs, validateDuration("api.request_timeout", a.RequestTimeout, minRequestTimeout)...)

	return errs
}

func validateDuration(field, value string, lowest time.Duration) []error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return []error{fmt.Errorf("%s: invalid duration %q: %w", field, value, err)}
	}

	if d < lowest {
		return []error{fmt.Errorf("%s: must be at least %s, got %s", field, lowest, d)}
	}

	return nil
}

func validateTransfers(t *TransfersConfig) []error {
	var errs []error

	if t.MaxDownloads < minTransfers || t.MaxDownloads > maxTransfers {
		errs = append(errs, fmt.Errorf("transfers.max_downloads: must be between %d and %d, got %d",
			minTransfers, maxTransfers, t.MaxDownloads))
	}

	if t.MaxUploads < minTransfers || t.MaxUploads > maxTransfers {
		errs = append(errs, fmt.Errorf("transfers.max_uploads: must be between %d and %d, got %d",
			minTransfers, maxTransfers, t.MaxUploads))
	}

	if t.PoolWorkers < minPoolWorkers || t.PoolWorkers > maxPoolWorkers {
		errs = append(errs, fmt.Errorf("transfers.pool_workers: must be between %d and %d, got %d",
			minPoolWorkers, maxPoolWorkers, t.PoolWorkers))
	}

	if _, err := ParseSize(t.MaxFileSize); err != nil {
		errs = append(errs, fmt.Errorf("transfers.max_file_size: %w", err))
	}

	return errs
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	if _, err := ParseLogLevel(l.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("logging.log_level: %w", err))
	}

	switch l.LogFormat {
	case "auto", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	return errs
}

func validateStatus(s *StatusConfig) []error {
	if s.ListenAddr == "" {
		return nil
	}

	if _, _, err := net.SplitHostPort(s.ListenAddr); err != nil {
		return []error{fmt.Errorf("status.listen_addr: %w", err)}
	}

	return nil
}

// ParseLogLevel maps a config log level name to its slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown level %q (want debug, info, warn, error)", s)
	}
}
