package remotesync

import (
	"fmt"
	"net"
	"strconv"
	"time"
)

// Protocol identifies the transport used to reach the remote side.
type Protocol string

const (
	// ProtocolFTP is plain FTP: a stateful command channel with its own
	// directory-listing command.
	ProtocolFTP Protocol = "ftp"
	// ProtocolSFTP is SFTP over SSH: the remote is reached as a filesystem.
	ProtocolSFTP Protocol = "sftp"
)

// DefaultMaxDepth bounds recursive directory enumeration.
const DefaultMaxDepth = 64

// DefaultTimeLayout is the layout used by FormatModifiedAt when none is given.
const DefaultTimeLayout = "02.01.2006 15:04:05"

// Config holds the connection and root configuration for one Session.
type Config struct {
	// Protocol selects the remote transport (default sftp).
	Protocol Protocol

	// Host is the remote server hostname or IP address.
	Host string

	// Port is the remote port (default 21 for FTP, 22 for SFTP).
	Port int

	// User is the login name.
	User string

	// Password is the login password. For SFTP it selects password
	// authentication unless a private key is also configured.
	Password string

	// PrivateKey is the SSH private key content (PEM encoded). SFTP only.
	PrivateKey string

	// KeyPath is the path to the SSH private key file. SFTP only.
	KeyPath string

	// Passive enables FTP passive mode. Ignored for SFTP.
	Passive bool

	// LocalRoot is the local directory relative paths resolve against.
	LocalRoot string

	// RemoteRoot is the remote directory relative paths resolve against.
	RemoteRoot string

	// Timeout is the connection timeout (default 30s).
	Timeout time.Duration

	// KnownHostsFile is the path to a known_hosts file for host key verification.
	// If not set, defaults to ~/.ssh/known_hosts if it exists.
	KnownHostsFile string

	// InsecureIgnoreHostKey skips host key verification.
	// WARNING: This is insecure and should only be used for testing.
	InsecureIgnoreHostKey bool

	// Exclude is a list of glob patterns skipped during listing, matched
	// against both the entry name and its relative path.
	// Example: []string{"*.tmp", "node_modules"}
	Exclude []string

	// MaxDepth bounds directory recursion (default 64).
	MaxDepth int
}

// WithDefaults returns a copy of the config with default values applied.
func (c Config) WithDefaults() Config {
	if c.Protocol == "" {
		c.Protocol = ProtocolSFTP
	}
	if c.Port == 0 {
		switch c.Protocol {
		case ProtocolFTP:
			c.Port = 21
		default:
			c.Port = 22
		}
	}
	if c.Timeout == 0 {
		c.Timeout = 30 * time.Second
	}
	if c.MaxDepth == 0 {
		c.MaxDepth = DefaultMaxDepth
	}
	return c
}

// Validate reports the first missing or malformed field.
func (c Config) Validate() error {
	switch c.Protocol {
	case ProtocolFTP, ProtocolSFTP:
	default:
		return fmt.Errorf("%w: unsupported protocol %q", ErrInvalidConfig, c.Protocol)
	}
	if c.Host == "" {
		return fmt.Errorf("%w: host is required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port %d", ErrInvalidConfig, c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("%w: user is required", ErrInvalidConfig)
	}
	if c.LocalRoot == "" {
		return fmt.Errorf("%w: local root is required", ErrInvalidConfig)
	}
	if c.RemoteRoot == "" {
		return fmt.Errorf("%w: remote root is required", ErrInvalidConfig)
	}
	if c.MaxDepth < 0 {
		return fmt.Errorf("%w: invalid max depth %d", ErrInvalidConfig, c.MaxDepth)
	}
	return nil
}

// Addr returns the host:port the Session dials.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
