package config

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"maps"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/joho/godotenv"

	"github.com/mozilla-ai/mcphost/internal/transport"
)

// normalize infers the transport type, resolves relative paths against dir and derives the nonce.
func (d *ServerDefinition) normalize(dir string) {
	d.ID = strings.TrimSpace(d.ID)

	if d.Type == "" {
		switch {
		case strings.TrimSpace(d.Command) != "":
			d.Type = transport.KindStdio
		case strings.TrimSpace(d.URL) != "":
			d.Type = transport.KindHTTP
		}
	}

	if d.Cwd != "" && !filepath.IsAbs(d.Cwd) && dir != "" {
		d.Cwd = filepath.Join(dir, d.Cwd)
	}

	if d.Nonce == "" || d.nonceDerived {
		d.Nonce = d.ComputeNonce()
		d.nonceDerived = true
	}
}

// DisplayName returns the label, or the ID when no label is set.
func (d ServerDefinition) DisplayName() string {
	if d.Label != "" {
		return d.Label
	}
	return d.ID
}

// WithOverrides returns a copy of d with args appended and env layered over its own.
// A derived nonce is recomputed so the overrides take part in cache invalidation.
func (d ServerDefinition) WithOverrides(args []string, env map[string]string) ServerDefinition {
	out := d
	out.Args = append(slices.Clone(d.Args), args...)
	out.Env = maps.Clone(d.Env)
	if len(env) > 0 && out.Env == nil {
		out.Env = make(map[string]string, len(env))
	}
	maps.Copy(out.Env, env)

	if out.nonceDerived {
		out.Nonce = out.ComputeNonce()
	}
	return out
}

// WorkDir returns the directory the server runs in and relative dev globs resolve against.
func (d ServerDefinition) WorkDir() string {
	if d.Cwd != "" {
		return d.Cwd
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

// EnvFilePath returns the absolute path of the env file, or empty if none is configured.
func (d ServerDefinition) EnvFilePath() string {
	if d.EnvFile == "" {
		return ""
	}
	if filepath.IsAbs(d.EnvFile) {
		return d.EnvFile
	}
	return filepath.Join(d.WorkDir(), d.EnvFile)
}

// ComputeNonce hashes everything that affects how the server is launched, including the env file contents,
// so any change invalidates cached metadata. An unreadable env file contributes nothing.
func (d ServerDefinition) ComputeNonce() string {
	var envFile string
	if path := d.EnvFilePath(); path != "" {
		if data, err := os.ReadFile(path); err == nil {
			envFile = string(data)
		}
	}

	// encoding/json sorts map keys, which keeps the hash stable.
	canonical, _ := json.Marshal(struct {
		Type    transport.Kind    `json:"type"`
		Command string            `json:"command"`
		Args    []string          `json:"args"`
		Env     map[string]string `json:"env"`
		EnvFile string            `json:"envFile"`
		Cwd     string            `json:"cwd"`
		URL     string            `json:"url"`
		Headers map[string]string `json:"headers"`
		Roots   []string          `json:"roots"`
		Dev     *DevMode          `json:"dev"`
	}{d.Type, d.Command, d.Args, d.Env, envFile, d.Cwd, d.URL, d.Headers, d.Roots, d.Dev})

	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:])
}

// Environment returns the variables layered over the host environment: the env file first, then Env.
func (d ServerDefinition) Environment() (map[string]string, error) {
	env := map[string]string{}

	if path := d.EnvFilePath(); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("failed to open env file for server '%s': %w", d.ID, err)
		}
		defer func() { _ = f.Close() }()

		fromFile, err := godotenv.Parse(f)
		if err != nil {
			return nil, fmt.Errorf("failed to parse env file '%s': %w", path, err)
		}
		maps.Copy(env, fromFile)
	}

	maps.Copy(env, d.Env)

	return env, nil
}

// LaunchSpec converts the definition into what the transport needs.
// With debug set, a dev debug configuration rewrites the command to wait for a debugger.
func (d ServerDefinition) LaunchSpec(debug bool) (transport.LaunchSpec, error) {
	spec := transport.LaunchSpec{
		Kind:    d.Type,
		Command: d.Command,
		Args:    slices.Clone(d.Args),
		Cwd:     d.Cwd,
		URL:     d.URL,
		Headers: maps.Clone(d.Headers),
		Roots:   d.rootSpecs(),
	}

	if d.Type != transport.KindStdio {
		return spec, nil
	}

	env, err := d.Environment()
	if err != nil {
		return transport.LaunchSpec{}, err
	}
	for _, k := range slices.Sorted(maps.Keys(env)) {
		spec.Env = append(spec.Env, k+"="+env[k])
	}

	if debug && d.Dev != nil && d.Dev.Debug != nil {
		spec.Command, spec.Args = debugCommand(*d.Dev.Debug, spec.Command, spec.Args)
	}

	return spec, nil
}

// rootSpecs turns the declared roots into file URIs. Relative paths resolve against the work dir.
func (d ServerDefinition) rootSpecs() []transport.Root {
	var roots []transport.Root
	for _, r := range d.Roots {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		if strings.HasPrefix(r, "file://") {
			roots = append(roots, transport.Root{URI: r, Name: path.Base(strings.TrimPrefix(r, "file://"))})
			continue
		}
		if !filepath.IsAbs(r) {
			r = filepath.Join(d.WorkDir(), r)
		}
		p := filepath.ToSlash(filepath.Clean(r))
		if !strings.HasPrefix(p, "/") {
			p = "/" + p
		}
		roots = append(roots, transport.Root{URI: (&url.URL{Scheme: "file", Path: p}).String(), Name: filepath.Base(r)})
	}
	return roots
}

// debugCommand rewrites a node or python invocation so it listens for a debugger before running.
// Commands that are not the expected interpreter are returned unchanged.
func debugCommand(dbg DebugConfig, command string, args []string) (string, []string) {
	port := dbg.Port
	if port == 0 {
		port = DefaultDebugPort
	}
	addr := "127.0.0.1:" + strconv.Itoa(port)
	base := strings.TrimSuffix(filepath.Base(command), filepath.Ext(command))

	switch dbg.Type {
	case DebugTypeNode:
		if base != "node" {
			return command, args
		}
		return command, append([]string{"--inspect-brk=" + addr}, args...)
	case DebugTypePython:
		if !strings.HasPrefix(base, "python") {
			return command, args
		}
		return command, append([]string{"-m", "debugpy", "--listen", addr, "--wait-for-client"}, args...)
	default:
		return command, args
	}
}
