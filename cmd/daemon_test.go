package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mozilla-ai/mcphost/internal/config"
	"github.com/mozilla-ai/mcphost/internal/daemon"
)

func durPtr(d time.Duration) *config.Duration {
	v := config.Duration(d)
	return &v
}

func boolPtr(b bool) *bool { return &b }

func TestDaemonOptions_Nil(t *testing.T) {
	t.Parallel()

	opts, err := daemonOptions(nil)
	require.NoError(t, err)
	require.Nil(t, opts)
}

func TestDaemonOptions_MapsConfig(t *testing.T) {
	t.Parallel()

	cfg := &config.DaemonConfig{
		API: &config.APIConfigSection{
			Metrics: boolPtr(true),
			Timeout: &config.APITimeoutConfigSection{Shutdown: durPtr(3 * time.Second)},
			CORS: &config.CORSConfigSection{
				Enable:  boolPtr(true),
				Origins: []string{"http://localhost:3000"},
				Methods: []string{"GET"},
				MaxAge:  durPtr(time.Minute),
			},
		},
		MCP: &config.MCPConfigSection{
			Timeout: &config.MCPTimeoutConfigSection{
				Init:     durPtr(10 * time.Second),
				Ping:     durPtr(2 * time.Second),
				Shutdown: durPtr(4 * time.Second),
			},
			Interval: &config.MCPIntervalConfigSection{Ping: durPtr(30 * time.Second)},
		},
		Cache: &config.CacheConfigSection{SaveInterval: durPtr(time.Minute)},
	}

	opts, err := daemonOptions(cfg)
	require.NoError(t, err)

	o, err := daemon.NewOptions(opts...)
	require.NoError(t, err)
	require.Equal(t, 10*time.Second, o.InitTimeout)
	require.Equal(t, 2*time.Second, o.PingTimeout)
	require.Equal(t, 30*time.Second, o.PingInterval)
	require.Equal(t, 4*time.Second, o.ShutdownTimeout)
	require.Equal(t, time.Minute, o.SaveInterval)

	api, err := daemon.NewAPIOptions(o.APIOptions...)
	require.NoError(t, err)
	require.True(t, api.Metrics)
	require.Equal(t, 3*time.Second, api.ShutdownTimeout)
	require.True(t, api.CORS.Enabled)
	require.Equal(t, []string{"http://localhost:3000"}, api.CORS.AllowOrigins)
	require.Equal(t, []string{"GET"}, api.CORS.AllowMethods)
	require.Equal(t, time.Minute, api.CORS.MaxAge)
}

func TestDaemonOptions_Invalid(t *testing.T) {
	t.Parallel()

	cfg := &config.DaemonConfig{
		MCP: &config.MCPConfigSection{
			Timeout:  &config.MCPTimeoutConfigSection{Ping: durPtr(time.Minute)},
			Interval: &config.MCPIntervalConfigSection{Ping: durPtr(time.Second)},
		},
	}

	_, err := daemonOptions(cfg)
	require.ErrorContains(t, err, "must be shorter than mcp.interval.ping")
}

func TestDaemonCmd_ResolveAddr(t *testing.T) {
	t.Parallel()

	fromConfig := &config.DaemonConfig{API: &config.APIConfigSection{Addr: new(string)}}
	*fromConfig.API.Addr = " 127.0.0.1:9000 "

	tests := []struct {
		name    string
		flagSet bool
		cfg     *config.DaemonConfig
		want    string
	}{
		{name: "default", want: defaultDaemonAddr},
		{name: "config", cfg: fromConfig, want: "127.0.0.1:9000"},
		{name: "flag wins", flagSet: true, cfg: fromConfig, want: defaultDaemonAddr},
		{name: "empty api section", cfg: &config.DaemonConfig{API: &config.APIConfigSection{}}, want: defaultDaemonAddr},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			c := &DaemonCmd{Addr: defaultDaemonAddr}
			require.Equal(t, tc.want, c.resolveAddr(tc.flagSet, tc.cfg))
		})
	}
}

func TestDaemonCmd_Flags(t *testing.T) {
	t.Parallel()

	c, err := NewDaemonCmd(testBaseCmd())
	require.NoError(t, err)

	addr := c.Flags().Lookup("addr")
	require.NotNil(t, addr)
	require.Equal(t, defaultDaemonAddr, addr.DefValue)
	require.NotNil(t, c.Flags().Lookup("dev"))
}

func TestDaemonCmd_InvalidConfig(t *testing.T) {
	useFiles(t, "collections = [\n")

	c, err := NewDaemonCmd(testBaseCmd())
	require.NoError(t, err)
	_, err = execute(t, c)
	require.Error(t, err)
}
