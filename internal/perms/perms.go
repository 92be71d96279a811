// Package perms holds the file modes used for everything mcphost writes to disk.
package perms

import "os"

const (
	// RegularFile is used for files users are expected to read and share: configuration and logs.
	RegularFile os.FileMode = 0o644

	// SecureFile is used for secrets, cached server metadata and trust decisions.
	SecureFile os.FileMode = 0o600
)

const (
	// RegularDir is used for directories holding regular files.
	RegularDir os.FileMode = 0o755

	// SecureDir is used for directories holding secure files.
	SecureDir os.FileMode = 0o700
)
