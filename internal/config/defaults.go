package config

// Default values for configuration options. These are the first layer of
// the override chain.
const (
	defaultAPIURL         = "https://g.api.mega.co.nz"
	defaultUserAgent      = "mega-go"
	defaultConnectTimeout = "10s"
	defaultRequestTimeout = "120s"
	defaultMaxDownloads   = 4
	defaultMaxUploads     = 4
	defaultPoolWorkers    = 8
	defaultMaxFileSize    = "0"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// It is the starting point for TOML decoding, so unset fields keep their
// defaults.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			URL:            defaultAPIURL,
			UserAgent:      defaultUserAgent,
			ConnectTimeout: defaultConnectTimeout,
			RequestTimeout: defaultRequestTimeout,
		},
		Transfers: TransfersConfig{
			MaxDownloads: defaultMaxDownloads,
			MaxUploads:   defaultMaxUploads,
			PoolWorkers:  defaultPoolWorkers,
			MaxFileSize:  defaultMaxFileSize,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
