package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
)

// Timeout and duration constants
const (
	// DefaultSSHPort is used when a host entry omits the port.
	DefaultSSHPort = 22
	// DefaultConnectTimeout bounds the TCP dial plus SSH handshake.
	DefaultConnectTimeout = 15 * time.Second
	// DefaultProbeTimeout bounds the remote context probe issued after connect.
	DefaultProbeTimeout = 10 * time.Second
	// DefaultHTTPClientTimeout is the timeout for HTTP client requests
	DefaultHTTPClientTimeout = 60 * time.Second
)

// Cache constants
const (
	// DefaultCacheTTL is how long a generated suggestion stays eligible for lookup.
	DefaultCacheTTL = time.Hour
	// DefaultMaxCacheEntries is the maximum number of cache entries
	DefaultMaxCacheEntries = 100
)

// History constants
const (
	// DefaultHistoryLimit is the default number of history records to display
	DefaultHistoryLimit = 20
)

// Model configuration constants
const (
	// DefaultMaxTokens is the default maximum number of tokens
	DefaultMaxTokens = 1024
)

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339
)
