// Package prefix derives the short, collision-free prefixes that make tool identifiers unique across servers.
package prefix

import (
	"regexp"
	"strconv"
	"strings"
	"sync"
)

const (
	// Base starts every generated prefix.
	Base = "mcp_"

	// MaxPrefixLen bounds a prefix before any collision suffix, including the trailing underscore.
	MaxPrefixLen = 18

	// MaxIDLen bounds a full tool identifier.
	MaxIDLen = 64
)

var (
	labelInvalid = regexp.MustCompile(`[^a-z0-9_.-]+`)
	nameInvalid  = regexp.MustCompile(`[^a-zA-Z0-9_-]`)
)

// Generator issues prefixes that are distinct within its lifetime.
// The zero value is ready to use.
type Generator struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// Generate derives a prefix from label, appending an increasing number when the natural prefix was already issued.
func (g *Generator) Generate(label string) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.seen == nil {
		g.seen = map[string]struct{}{}
	}

	base := labelInvalid.ReplaceAllString(strings.ToLower(label), "_")
	if budget := MaxPrefixLen - len(Base) - 1; len(base) > budget {
		base = base[:budget]
	}
	base = Base + base

	p := base + "_"
	for i := 2; ; i++ {
		if _, taken := g.seen[p]; !taken {
			break
		}
		p = base + strconv.Itoa(i) + "_"
	}
	g.seen[p] = struct{}{}

	return p
}

// Release makes p available again, for use when the server that held it is removed.
func (g *Generator) Release(p string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.seen, p)
}

// SanitizeName replaces every character outside letters, digits, '_' and '-' with '_'.
func SanitizeName(name string) string {
	return nameInvalid.ReplaceAllString(name, "_")
}

// ID joins a prefix and a server-reported name into an identifier no longer than MaxIDLen.
func ID(prefix string, name string) string {
	id := prefix + SanitizeName(name)
	if len(id) > MaxIDLen {
		id = id[:MaxIDLen]
	}
	return id
}
