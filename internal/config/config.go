// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for mega-go. Values are layered as
// defaults -> config file -> environment -> CLI flags.
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API       APIConfig       `toml:"api"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Status    StatusConfig    `toml:"status"`
	Account   AccountConfig   `toml:"account"`
}

// APIConfig controls how the API endpoint is reached.
type APIConfig struct {
	URL            string `toml:"url"`
	APIKey         string `toml:"api_key"`
	UserAgent      string `toml:"user_agent"`
	ConnectTimeout string `toml:"connect_timeout"`
	RequestTimeout string `toml:"request_timeout"`
}

// TransfersConfig controls the transfer schedulers.
type TransfersConfig struct {
	MaxDownloads   int    `toml:"max_downloads"`
	MaxUploads     int    `toml:"max_uploads"`
	PoolWorkers    int    `toml:"pool_workers"`
	SortStartQueue bool   `toml:"sort_start_queue"`
	MaxFileSize    string `toml:"max_file_size"`
}

// LoggingConfig controls log output: level, destination and format.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFile   string `toml:"log_file"`
	LogFormat string `toml:"log_format"`
}

// StatusConfig controls the websocket status feed. An empty listen address
// disables it.
type StatusConfig struct {
	ListenAddr string `toml:"listen_addr"`
}

// AccountConfig holds the default account.
type AccountConfig struct {
	Email string `toml:"email"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	Email      *string // positional email on login
}
