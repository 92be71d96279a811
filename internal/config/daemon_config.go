package config

import (
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/mozilla-ai/mcphost/internal/storage"
)

// DaemonConfig represents daemon-specific configuration that can be stored in .mcphost.toml.
//
// NOTE: if you add/remove fields you must review the associated Validator implementations,
// along with the mapping to daemon options in cmd/daemon.go.
type DaemonConfig struct {
	// API configuration (includes address and nested timeout/cors)
	API *APIConfigSection `json:"api,omitempty" toml:"api,omitempty" yaml:"api,omitempty"`

	// MCP configuration (includes nested timeout and interval settings)
	MCP *MCPConfigSection `json:"mcp,omitempty" toml:"mcp,omitempty" yaml:"mcp,omitempty"`

	// Cache configuration for persisted server metadata.
	Cache *CacheConfigSection `json:"cache,omitempty" toml:"cache,omitempty" yaml:"cache,omitempty"`
}

// APIConfigSection contains API server configuration settings.
type APIConfigSection struct {
	// Address to bind the API server (e.g., "0.0.0.0:8090")
	// Maps to CLI flag --addr
	Addr *string `json:"addr,omitempty" toml:"addr,omitempty" yaml:"addr,omitempty"`

	// Metrics exposes Prometheus metrics on /metrics.
	Metrics *bool `json:"metrics,omitempty" toml:"metrics,omitempty" yaml:"metrics,omitempty"`

	Timeout *APITimeoutConfigSection `json:"timeout,omitempty" toml:"timeout,omitempty" yaml:"timeout,omitempty"`

	CORS *CORSConfigSection `json:"cors,omitempty" toml:"cors,omitempty" yaml:"cors,omitempty"`
}

// APITimeoutConfigSection contains timeout settings for API operations.
type APITimeoutConfigSection struct {
	// Shutdown timeout for graceful API server shutdown
	Shutdown *Duration `json:"shutdown,omitempty" toml:"shutdown,omitempty" yaml:"shutdown,omitempty"`
}

// CORSConfigSection contains Cross-Origin Resource Sharing (CORS) configuration.
type CORSConfigSection struct {
	Enable        *bool     `json:"enable,omitempty" toml:"enable,omitempty" yaml:"enable,omitempty"`
	Origins       []string  `json:"allowOrigins,omitempty" toml:"allow_origins,omitempty" yaml:"allow_origins,omitempty"`
	Methods       []string  `json:"allowMethods,omitempty" toml:"allow_methods,omitempty" yaml:"allow_methods,omitempty"`
	Headers       []string  `json:"allowHeaders,omitempty" toml:"allow_headers,omitempty" yaml:"allow_headers,omitempty"`
	ExposeHeaders []string  `json:"exposeHeaders,omitempty" toml:"expose_headers,omitempty" yaml:"expose_headers,omitempty"`
	Credentials   *bool     `json:"allowCredentials,omitempty" toml:"allow_credentials,omitempty" yaml:"allow_credentials,omitempty"`
	MaxAge        *Duration `json:"maxAge,omitempty" toml:"max_age,omitempty" yaml:"max_age,omitempty"`
}

// MCPConfigSection contains settings for connections to MCP servers.
type MCPConfigSection struct {
	Timeout  *MCPTimeoutConfigSection  `json:"timeout,omitempty" toml:"timeout,omitempty" yaml:"timeout,omitempty"`
	Interval *MCPIntervalConfigSection `json:"interval,omitempty" toml:"interval,omitempty" yaml:"interval,omitempty"`
}

// MCPTimeoutConfigSection contains timeout settings for MCP operations.
type MCPTimeoutConfigSection struct {
	// Shutdown timeout for stopping all servers
	// Maps to CLI flag --timeout-mcp-shutdown
	Shutdown *Duration `json:"shutdown,omitempty" toml:"shutdown,omitempty" yaml:"shutdown,omitempty"`

	// Initialization handshake timeout
	// Maps to CLI flag --timeout-mcp-init
	Init *Duration `json:"init,omitempty" toml:"init,omitempty" yaml:"init,omitempty"`

	// Ping timeout for connection-lost detection
	// Maps to CLI flag --timeout-mcp-ping
	Ping *Duration `json:"ping,omitempty" toml:"ping,omitempty" yaml:"ping,omitempty"`
}

// MCPIntervalConfigSection contains interval settings for periodic MCP operations.
type MCPIntervalConfigSection struct {
	// Ping interval for connection-lost detection
	// Maps to CLI flag --interval-mcp-ping
	Ping *Duration `json:"ping,omitempty" toml:"ping,omitempty" yaml:"ping,omitempty"`
}

// CacheConfigSection contains settings for the persisted metadata cache.
type CacheConfigSection struct {
	// Backend is file, sqlite or memory.
	Backend *string `json:"backend,omitempty" toml:"backend,omitempty" yaml:"backend,omitempty"`

	// Dir holds the cache files. Defaults to the user cache directory.
	Dir *string `json:"dir,omitempty" toml:"dir,omitempty" yaml:"dir,omitempty"`

	// Size bounds the number of servers remembered per scope.
	Size *int `json:"size,omitempty" toml:"size,omitempty" yaml:"size,omitempty"`

	// SaveInterval is how often dirty caches are written.
	SaveInterval *Duration `json:"saveInterval,omitempty" toml:"save_interval,omitempty" yaml:"save_interval,omitempty"`
}

// Duration is a custom time.Duration type that provides improved marshaling.
type Duration time.Duration

// Validate implements Validator for DaemonConfig.
func (d *DaemonConfig) Validate() error {
	var validationErrors []error

	if d.API != nil {
		if err := d.API.Validate(); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}

	if d.MCP != nil {
		if err := d.MCP.Validate(); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}

	if d.Cache != nil {
		if err := d.Cache.Validate(); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}

	return errors.Join(validationErrors...)
}

// Validate implements Validator for APIConfigSection.
func (a *APIConfigSection) Validate() error {
	var validationErrors []error

	if a.Addr != nil && !IsValidAddr(*a.Addr) {
		validationErrors = append(validationErrors, NewErrInvalidValue("api.addr", *a.Addr))
	}

	if a.Timeout != nil && a.Timeout.Shutdown != nil && *a.Timeout.Shutdown <= 0 {
		validationErrors = append(
			validationErrors,
			NewErrInvalidValue("api.timeout.shutdown", a.Timeout.Shutdown.String()),
		)
	}

	if a.CORS != nil {
		if err := a.CORS.Validate(); err != nil {
			validationErrors = append(validationErrors, err)
		}
	}

	return errors.Join(validationErrors...)
}

// EnableOrDefault returns whether CORS is enabled, falling back to defaultEnable when unset.
func (c *CORSConfigSection) EnableOrDefault(defaultEnable bool) bool {
	if c == nil || c.Enable == nil {
		return defaultEnable
	}
	return *c.Enable
}

// Validate implements Validator for CORSConfigSection.
func (c *CORSConfigSection) Validate() error {
	var validationErrors []error

	if !c.EnableOrDefault(false) {
		return nil
	}

	if len(c.Origins) == 0 {
		validationErrors = append(validationErrors, fmt.Errorf("cors enabled but no allowed origins configured"))
	}

	credentials := c.Credentials != nil && *c.Credentials
	for _, origin := range c.Origins {
		if origin == "*" && credentials {
			validationErrors = append(
				validationErrors,
				fmt.Errorf("cors credentials cannot be allowed when allowed origins contains '*'"),
			)
		}
	}

	validMethods := ValidHTTPRequestMethods()
	for _, method := range c.Methods {
		if _, ok := validMethods[strings.ToUpper(method)]; !ok {
			validationErrors = append(validationErrors, NewErrInvalidValue("api.cors.allow_methods", method))
		}
	}

	if c.MaxAge != nil && *c.MaxAge < 0 {
		validationErrors = append(validationErrors, NewErrInvalidValue("api.cors.max_age", c.MaxAge.String()))
	}

	return errors.Join(validationErrors...)
}

// Validate implements Validator for MCPConfigSection.
func (m *MCPConfigSection) Validate() error {
	var validationErrors []error

	positive := func(key string, d *Duration) {
		if d != nil && *d <= 0 {
			validationErrors = append(validationErrors, NewErrInvalidValue(key, d.String()))
		}
	}

	if m.Timeout != nil {
		positive("mcp.timeout.shutdown", m.Timeout.Shutdown)
		positive("mcp.timeout.init", m.Timeout.Init)
		positive("mcp.timeout.ping", m.Timeout.Ping)
	}

	if m.Interval != nil {
		// Zero disables pinging.
		if m.Interval.Ping != nil && *m.Interval.Ping < 0 {
			validationErrors = append(
				validationErrors,
				NewErrInvalidValue("mcp.interval.ping", m.Interval.Ping.String()),
			)
		}
	}

	if m.Timeout != nil && m.Timeout.Ping != nil && m.Interval != nil && m.Interval.Ping != nil {
		if *m.Interval.Ping > 0 && *m.Timeout.Ping >= *m.Interval.Ping {
			validationErrors = append(
				validationErrors,
				fmt.Errorf("mcp.timeout.ping (%s) must be shorter than mcp.interval.ping (%s)",
					m.Timeout.Ping.String(), m.Interval.Ping.String()),
			)
		}
	}

	return errors.Join(validationErrors...)
}

// Validate implements Validator for CacheConfigSection.
func (c *CacheConfigSection) Validate() error {
	var validationErrors []error

	if c.Backend != nil {
		switch storage.Backend(*c.Backend) {
		case storage.BackendFile, storage.BackendSQLite, storage.BackendMemory:
		default:
			validationErrors = append(validationErrors, NewErrInvalidValue("cache.backend", *c.Backend))
		}
	}

	if c.Size != nil && *c.Size <= 0 {
		validationErrors = append(validationErrors, NewErrInvalidValue("cache.size", fmt.Sprint(*c.Size)))
	}

	if c.SaveInterval != nil && *c.SaveInterval <= 0 {
		validationErrors = append(
			validationErrors,
			NewErrInvalidValue("cache.save_interval", c.SaveInterval.String()),
		)
	}

	return errors.Join(validationErrors...)
}

// MarshalText implements encoding.TextMarshaler for Duration.
func (d *Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(*d).String()), nil
}

// String returns a human-readable string representation of the duration.
func (d *Duration) String() string {
	if d == nil {
		return ""
	}

	duration := time.Duration(*d)

	// List of duration units in descending order.
	units := []struct {
		unit   time.Duration
		suffix string
	}{
		{time.Hour, "h"},
		{time.Minute, "m"},
		{time.Second, "s"},
		{time.Millisecond, "ms"},
		{time.Microsecond, "µs"},
		{time.Nanosecond, "ns"},
	}

	for _, u := range units {
		if duration%u.unit == 0 {
			return fmt.Sprintf("%d%s", duration/u.unit, u.suffix)
		}
	}

	// Fallback to nanoseconds if no exact match.
	return fmt.Sprintf("%dns", duration)
}

// UnmarshalText implements encoding.TextUnmarshaler for Duration.
func (d *Duration) UnmarshalText(text []byte) error {
	duration, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(duration)
	return nil
}

// ValidHTTPRequestMethods returns the set of HTTP methods accepted in CORS configuration.
func ValidHTTPRequestMethods() map[string]struct{} {
	return map[string]struct{}{
		http.MethodGet:     {},
		http.MethodHead:    {},
		http.MethodPost:    {},
		http.MethodPut:     {},
		http.MethodPatch:   {},
		http.MethodDelete:  {},
		http.MethodConnect: {},
		http.MethodOptions: {},
		http.MethodTrace:   {},
	}
}

// IsValidAddr performs basic validation for host:port format.
func IsValidAddr(addr string) bool {
	host, port, err := net.SplitHostPort(addr)
	if err != nil {
		return false
	}

	// ":" binds all interfaces on an ephemeral port.
	if host == "" && port == "" {
		return true
	}

	if port == "" {
		return false
	}

	if host != "" {
		if strings.ContainsAny(host, " \t\n\r") {
			return false
		}
		if net.ParseIP(host) == nil && len(host) > 253 {
			return false
		}
	}

	return true
}
