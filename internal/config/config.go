package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config carries every tunable the chat client needs. Base URLs are
// injected here rather than computed anywhere in the core.
type Config struct {
	REST      *RESTConfig      `json:"rest"`
	Realtime  *RealtimeConfig  `json:"realtime"`
	Reconnect *ReconnectConfig `json:"reconnect"`
}

// RESTConfig configures the request/response collaborators: history,
// fallback send, identity and leave-room endpoints.
type RESTConfig struct {
	BaseURL    string        `json:"base_url"`
	Timeout    time.Duration `json:"timeout"`
	PageSize   int           `json:"page_size"`
	Credential string        `json:"credential"`
}

// RealtimeConfig configures the websocket session.
type RealtimeConfig struct {
	URL               string        `json:"url"`
	HandshakeTimeout  time.Duration `json:"handshake_timeout"`
	HeartbeatInterval time.Duration `json:"heartbeat_interval"`
	HeartbeatTimeout  time.Duration `json:"heartbeat_timeout"`
	WriteTimeout      time.Duration `json:"write_timeout"`
	BufferSize        int           `json:"buffer_size"`
}

// ReconnectConfig bounds the backoff schedule between connection attempts.
type ReconnectConfig struct {
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	MaxAttempts int           `json:"max_attempts"`
}

// DefaultConfig returns the settings the reference deployment runs with:
// 20s bidirectional heartbeat, 1s-to-30s exponential backoff, five
// reconnect attempts before giving up.
func DefaultConfig() *Config {
	return &Config{
		REST: &RESTConfig{
			BaseURL:  "http://localhost:8080",
			Timeout:  10 * time.Second,
			PageSize: 50,
		},
		Realtime: &RealtimeConfig{
			URL:               "ws://localhost:8080/ws",
			HandshakeTimeout:  10 * time.Second,
			HeartbeatInterval: 20 * time.Second,
			HeartbeatTimeout:  40 * time.Second,
			WriteTimeout:      5 * time.Second,
			BufferSize:        100,
		},
		Reconnect: &ReconnectConfig{
			BaseDelay:   time.Second,
			MaxDelay:    30 * time.Second,
			MaxAttempts: 5,
		},
	}
}

// Validate checks the configuration before any component is built.
func (c *Config) Validate() error {
	if c.REST == nil {
		return fmt.Errorf("rest configuration is required")
	}
	if c.REST.BaseURL == "" {
		return fmt.Errorf("rest base URL cannot be empty")
	}
	if c.REST.Timeout <= 0 {
		return fmt.Errorf("rest timeout must be positive")
	}
	if c.REST.PageSize <= 0 {
		return fmt.Errorf("rest page size must be positive")
	}
	if c.Realtime == nil {
		return fmt.Errorf("realtime configuration is required")
	}
	if c.Realtime.URL == "" {
		return fmt.Errorf("realtime URL cannot be empty")
	}
	if c.Realtime.HandshakeTimeout <= 0 {
		return fmt.Errorf("realtime handshake timeout must be positive")
	}
	if c.Realtime.HeartbeatInterval <= 0 {
		return fmt.Errorf("realtime heartbeat interval must be positive")
	}
	if c.Realtime.HeartbeatTimeout <= c.Realtime.HeartbeatInterval {
		return fmt.Errorf("realtime heartbeat timeout must exceed the heartbeat interval")
	}
	if c.Realtime.WriteTimeout <= 0 {
		return fmt.Errorf("realtime write timeout must be positive")
	}
	if c.Realtime.BufferSize <= 0 {
		return fmt.Errorf("realtime buffer size must be positive")
	}
	if c.Reconnect == nil {
		return fmt.Errorf("reconnect configuration is required")
	}
	if c.Reconnect.BaseDelay <= 0 {
		return fmt.Errorf("reconnect base delay must be positive")
	}
	if c.Reconnect.MaxDelay < c.Reconnect.BaseDelay {
		return fmt.Errorf("reconnect max delay must be at least the base delay")
	}
	if c.Reconnect.MaxAttempts <= 0 {
		return fmt.Errorf("reconnect max attempts must be positive")
	}
	return nil
}

// LoadFromEnv overlays BOOKCHAT_* environment variables on the defaults.
func LoadFromEnv() *Config {
	config := DefaultConfig()

	if base := os.Getenv("BOOKCHAT_REST_BASE_URL"); base != "" {
		config.REST.BaseURL = base
	}
	if cred := os.Getenv("BOOKCHAT_SESSION_CREDENTIAL"); cred != "" {
		config.REST.Credential = cred
	}
	if timeout := os.Getenv("BOOKCHAT_REST_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.REST.Timeout = d
		}
	}
	if size := os.Getenv("BOOKCHAT_REST_PAGE_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.REST.PageSize = n
		}
	}
	if u := os.Getenv("BOOKCHAT_REALTIME_URL"); u != "" {
		config.Realtime.URL = u
	}
	if timeout := os.Getenv("BOOKCHAT_HANDSHAKE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Realtime.HandshakeTimeout = d
		}
	}
	if interval := os.Getenv("BOOKCHAT_HEARTBEAT_INTERVAL"); interval != "" {
		if d, err := time.ParseDuration(interval); err == nil {
			config.Realtime.HeartbeatInterval = d
		}
	}
	if timeout := os.Getenv("BOOKCHAT_HEARTBEAT_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Realtime.HeartbeatTimeout = d
		}
	}
	if timeout := os.Getenv("BOOKCHAT_WRITE_TIMEOUT"); timeout != "" {
		if d, err := time.ParseDuration(timeout); err == nil {
			config.Realtime.WriteTimeout = d
		}
	}
	if size := os.Getenv("BOOKCHAT_BUFFER_SIZE"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.Realtime.BufferSize = n
		}
	}
	if delay := os.Getenv("BOOKCHAT_RECONNECT_BASE_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Reconnect.BaseDelay = d
		}
	}
	if delay := os.Getenv("BOOKCHAT_RECONNECT_MAX_DELAY"); delay != "" {
		if d, err := time.ParseDuration(delay); err == nil {
			config.Reconnect.MaxDelay = d
		}
	}
	if attempts := os.Getenv("BOOKCHAT_RECONNECT_MAX_ATTEMPTS"); attempts != "" {
		if n, err := strconv.Atoi(attempts); err == nil {
			config.Reconnect.MaxAttempts = n
		}
	}

	return config
}

// ConfigFile is the JSON structure for file-based configuration. Durations
// are strings so files stay readable.
type ConfigFile struct {
	REST      *RESTConfigFile      `json:"rest"`
	Realtime  *RealtimeConfigFile  `json:"realtime"`
	Reconnect *ReconnectConfigFile `json:"reconnect"`
}

type RESTConfigFile struct {
	BaseURL    string `json:"base_url"`
	Timeout    string `json:"timeout"`
	PageSize   int    `json:"page_size"`
	Credential string `json:"credential"`
}

type RealtimeConfigFile struct {
	URL               string `json:"url"`
	HandshakeTimeout  string `json:"handshake_timeout"`
	HeartbeatInterval string `json:"heartbeat_interval"`
	HeartbeatTimeout  string `json:"heartbeat_timeout"`
	WriteTimeout      string `json:"write_timeout"`
	BufferSize        int    `json:"buffer_size"`
}

type ReconnectConfigFile struct {
	BaseDelay   string `json:"base_delay"`
	MaxDelay    string `json:"max_delay"`
	MaxAttempts int    `json:"max_attempts"`
}

// LoadFromFile reads a JSON config file over the defaults and validates
// the result.
func LoadFromFile(filepath string) (*Config, error) {
	data, err := os.ReadFile(filepath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", filepath, err)
	}

	var file ConfigFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", filepath, err)
	}

	config := DefaultConfig()

	if file.REST != nil {
		if file.REST.BaseURL != "" {
			config.REST.BaseURL = file.REST.BaseURL
		}
		if file.REST.Credential != "" {
			config.REST.Credential = file.REST.Credential
		}
		if file.REST.PageSize > 0 {
			config.REST.PageSize = file.REST.PageSize
		}
		if file.REST.Timeout != "" {
			if d, err := time.ParseDuration(file.REST.Timeout); err == nil {
				config.REST.Timeout = d
			}
		}
	}

	if file.Realtime != nil {
		if file.Realtime.URL != "" {
			config.Realtime.URL = file.Realtime.URL
		}
		if file.Realtime.BufferSize > 0 {
			config.Realtime.BufferSize = file.Realtime.BufferSize
		}
		if file.Realtime.HandshakeTimeout != "" {
			if d, err := time.ParseDuration(file.Realtime.HandshakeTimeout); err == nil {
				config.Realtime.HandshakeTimeout = d
			}
		}
		if file.Realtime.HeartbeatInterval != "" {
			if d, err := time.ParseDuration(file.Realtime.HeartbeatInterval); err == nil {
				config.Realtime.HeartbeatInterval = d
			}
		}
		if file.Realtime.HeartbeatTimeout != "" {
			if d, err := time.ParseDuration(file.Realtime.HeartbeatTimeout); err == nil {
				config.Realtime.HeartbeatTimeout = d
			}
		}
		if file.Realtime.WriteTimeout != "" {
			if d, err := time.ParseDuration(file.Realtime.WriteTimeout); err == nil {
				config.Realtime.WriteTimeout = d
			}
		}
	}

	if file.Reconnect != nil {
		if file.Reconnect.MaxAttempts > 0 {
			config.Reconnect.MaxAttempts = file.Reconnect.MaxAttempts
		}
		if file.Reconnect.BaseDelay != "" {
			if d, err := time.ParseDuration(file.Reconnect.BaseDelay); err == nil {
				config.Reconnect.BaseDelay = d
			}
		}
		if file.Reconnect.MaxDelay != "" {
			if d, err := time.ParseDuration(file.Reconnect.MaxDelay); err == nil {
				config.Reconnect.MaxDelay = d
			}
		}
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w", filepath, err)
	}

	return config, nil
}

// LoadConfigWithPrecedence resolves configuration as defaults < environment
// < file. File errors are ignored so environment/defaults still work.
func LoadConfigWithPrecedence(filepath string) *Config {
	config := LoadFromEnv()

	if filepath != "" {
		if fileConfig, err := LoadFromFile(filepath); err == nil {
			config = fileConfig
		}
	}

	return config
}
