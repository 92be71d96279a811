// Package resourcefs exposes server resources as a read-only filesystem addressed by opaque URIs
// that identify both the owning server and the server's own resource URI.
package resourcefs

import (
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	apperrors "github.com/mozilla-ai/mcphost/internal/errors"
)

// Scheme is reserved for encoded resource URIs.
const Scheme = "mcp-resource"

const (
	// emptyAuthority stands in for a hierarchical URI with no authority, such as file:///tmp/a.
	emptyAuthority = "dylo78gyp"

	// noAuthority marks a hierarchical URI without an authority component, such as file:/tmp/a.
	noAuthority = "dylo78gyp-none"

	// opaqueAuthority marks a URI with no hierarchy at all, such as urn:isbn:123.
	opaqueAuthority = "dylo78gyp-opaque"
)

// Encode returns the URI under Scheme that addresses resourceURI on the server identified by serverID.
func Encode(serverID string, resourceURI string) (string, error) {
	if serverID == "" {
		return "", fmt.Errorf("%w: server id cannot be empty", apperrors.ErrBadRequest)
	}

	u, err := url.Parse(resourceURI)
	if err != nil {
		return "", fmt.Errorf("%w: invalid resource uri '%s': %w", apperrors.ErrBadRequest, resourceURI, err)
	}
	if u.Scheme == "" {
		return "", fmt.Errorf("%w: resource uri '%s' has no scheme", apperrors.ErrBadRequest, resourceURI)
	}

	// url.Parse lowercases the scheme; servers expect their URIs back exactly as listed.
	scheme := resourceURI[:len(u.Scheme)]
	afterScheme := resourceURI[len(u.Scheme)+1:]

	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(hex.EncodeToString([]byte(serverID)))
	b.WriteString("/")
	b.WriteString(scheme)
	b.WriteString("/")

	if u.Opaque != "" {
		b.WriteString(opaqueAuthority)
		b.WriteString("/")
		b.WriteString(u.Opaque)
	} else {
		authority := u.Host
		if u.User != nil {
			authority = u.User.String() + "@" + authority
		}
		if authority == "" {
			authority = emptyAuthority
			if !strings.HasPrefix(afterScheme, "//") {
				authority = noAuthority
			}
		}
		b.WriteString(authority)
		b.WriteString(u.EscapedPath())
	}

	if u.ForceQuery || u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.EscapedFragment())
	}

	return b.String(), nil
}

// Decode splits an encoded URI into the server ID and the server's resource URI.
// Anything malformed yields an error wrapping ErrResourceNotFound.
func Decode(encoded string) (serverID string, resourceURI string, err error) {
	notFound := func(reason string) (string, string, error) {
		return "", "", fmt.Errorf("%w: '%s' %s", apperrors.ErrResourceNotFound, encoded, reason)
	}

	u, err := url.Parse(encoded)
	if err != nil {
		return notFound("is not a valid uri")
	}
	if u.Scheme != Scheme {
		return notFound("is not a " + Scheme + " uri")
	}

	id, err := hex.DecodeString(u.Host)
	if err != nil || len(id) == 0 {
		return notFound("does not name a server")
	}

	parts := strings.SplitN(strings.TrimPrefix(u.EscapedPath(), "/"), "/", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return notFound("does not contain a resource uri")
	}
	scheme, authority := parts[0], parts[1]
	rest := ""
	if len(parts) == 3 {
		rest = parts[2]
	}

	var b strings.Builder
	b.WriteString(scheme)
	switch authority {
	case opaqueAuthority:
		if rest == "" {
			return notFound("does not contain a resource uri")
		}
		b.WriteString(":")
		b.WriteString(rest)
	case noAuthority:
		b.WriteString(":")
		if len(parts) == 3 {
			b.WriteString("/")
			b.WriteString(rest)
		}
	default:
		b.WriteString("://")
		if authority != emptyAuthority {
			b.WriteString(authority)
		}
		if len(parts) == 3 {
			b.WriteString("/")
			b.WriteString(rest)
		}
	}

	if u.ForceQuery || u.RawQuery != "" {
		b.WriteString("?")
		b.WriteString(u.RawQuery)
	}
	if u.Fragment != "" {
		b.WriteString("#")
		b.WriteString(u.EscapedFragment())
	}

	return string(id), b.String(), nil
}
