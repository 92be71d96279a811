package resourcefs

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
)

func TestEncodeDecode_RoundTrip(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		serverID string
		uri      string
	}{
		{name: "file with empty authority", serverID: "workspace.fs", uri: "file:///tmp/notes/a.txt"},
		{name: "http with host and port", serverID: "web", uri: "https://example.com:8443/docs/index.html"},
		{name: "query and fragment", serverID: "web", uri: "https://example.com/search?q=mcp&page=2#top"},
		{name: "user info", serverID: "db", uri: "postgres://reader@db.local/schema/users"},
		{name: "opaque", serverID: "books", uri: "urn:isbn:0451450523"},
		{name: "escaped path", serverID: "fs", uri: "file:///tmp/with%20space/b.md"},
		{name: "authority only", serverID: "x", uri: "custom://bucket"},
		{name: "trailing slash", serverID: "x", uri: "custom://bucket/dir/"},
		{name: "server id with unicode", serverID: "ünï/côdé", uri: "test://a/b"},
		{name: "path without authority", serverID: "fs", uri: "file:/tmp/x"},
		{name: "custom path without authority", serverID: "x", uri: "custom:/a/b"},
		{name: "empty authority and empty path", serverID: "x", uri: "file://"},
		{name: "uppercase scheme", serverID: "web", uri: "HTTP://Example.com/x"},
		{name: "mixed case scheme without authority", serverID: "x", uri: "Custom:/a"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			encoded, err := Encode(tc.serverID, tc.uri)
			require.NoError(t, err)
			require.True(t, strings.HasPrefix(encoded, Scheme+"://"))

			id, uri, err := Decode(encoded)
			require.NoError(t, err)
			require.Equal(t, tc.serverID, id)
			require.Equal(t, tc.uri, uri)
		})
	}
}

func TestEncode_Invalid(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		serverID string
		uri      string
	}{
		{name: "empty server id", serverID: "", uri: "file:///a"},
		{name: "no scheme", serverID: "s", uri: "/just/a/path"},
		{name: "unparseable", serverID: "s", uri: "http://[::1"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, err := Encode(tc.serverID, tc.uri)
			require.ErrorIs(t, err, apperrors.ErrBadRequest)
		})
	}
}

func TestDecode_Malformed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		encoded string
	}{
		{name: "wrong scheme", encoded: "file:///tmp/a"},
		{name: "host not hex", encoded: Scheme + "://zz/file/x/a"},
		{name: "empty host", encoded: Scheme + ":///file/x/a"},
		{name: "no resource scheme", encoded: Scheme + "://61"},
		{name: "no authority segment", encoded: Scheme + "://61/file"},
		{name: "opaque without body", encoded: Scheme + "://61/urn/" + opaqueAuthority},
		{name: "garbage", encoded: "%%%"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			_, _, err := Decode(tc.encoded)
			require.ErrorIs(t, err, apperrors.ErrResourceNotFound)
		})
	}
}
