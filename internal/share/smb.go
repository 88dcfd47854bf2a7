package share

import (
	"context"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/hirochachacha/go-smb2"
	"github.com/rs/zerolog"

	"github.com/agrayLee/SAM-Log-Analysis/internal/config"
)

// retryDelay is the fixed pause between the aggressive session cleanup and
// the single reconnect attempt after a session-conflict failure.
const retryDelay = 2 * time.Second

// SMBConnector reaches the remote log share over native SMB2. The remote
// host is a shared, stateful resource: Connect always tears down any stale
// session first, and Disconnect releases everything so nothing stays
// mounted between runs.
type SMBConnector struct {
	cfg   config.ShareConfig
	log   zerolog.Logger
	sleep func(time.Duration)

	conn  net.Conn
	sess  *smb2.Session
	mount *smb2.Share
}

// NewSMBConnector returns an unconnected SMB connector.
func NewSMBConnector(cfg config.ShareConfig, log zerolog.Logger) *SMBConnector {
	return &SMBConnector{
		cfg:   cfg,
		log:   log.With().Str("component", "share").Str("host", cfg.Host).Logger(),
		sleep: time.Sleep,
	}
}

// Connect authenticates against the share. Any stale session to the same
// host is cleaned up first, best effort. A session-conflict class failure
// triggers an aggressive cleanup and exactly one retry after a short fixed
// delay; every other failure is terminal for this call.
func (c *SMBConnector) Connect(ctx context.Context) error {
	c.teardown()

	err := c.dial(ctx)
	if err == nil {
		c.log.Info().Str("share", c.cfg.ShareName).Msg("connected to log share")
		return nil
	}
	if !isSessionConflict(err) {
		return fmt.Errorf("connect %s: %w", c.cfg.Host, err)
	}

	c.log.Warn().Err(err).Msg("session conflict, forcing cleanup and retrying once")
	c.teardown()
	c.sleep(retryDelay)
	if err := c.dial(ctx); err != nil {
		return fmt.Errorf("connect %s (after cleanup): %w", c.cfg.Host, err)
	}
	c.log.Info().Str("share", c.cfg.ShareName).Msg("connected to log share after retry")
	return nil
}

func (c *SMBConnector) dial(ctx context.Context) error {
	d := net.Dialer{Timeout: c.cfg.DialTimeout}
	addr := net.JoinHostPort(c.cfg.Host, strconv.Itoa(c.cfg.Port))
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}

	dialer := &smb2.Dialer{
		Initiator: &smb2.NTLMInitiator{
			User:     c.cfg.Username,
			Password: c.cfg.Password,
			Domain:   c.cfg.Domain,
		},
	}
	sess, err := dialer.DialContext(ctx, conn)
	if err != nil {
		conn.Close()
		return err
	}
	mount, err := sess.Mount(c.cfg.ShareName)
	if err != nil {
		sess.Logoff()
		conn.Close()
		return err
	}

	c.conn, c.sess, c.mount = conn, sess, mount

	// A mount can succeed while the share is still unusable; a root
	// listing proves the session works before the run leans on it.
	if _, err := c.List("."); err != nil {
		c.teardown()
		return err
	}
	return nil
}

// Disconnect releases the mount, session, and socket. Idempotent.
func (c *SMBConnector) Disconnect() {
	c.teardown()
}

// teardown drops everything attached to the host. Failures are ignored;
// the point is only that nothing is left mounted.
func (c *SMBConnector) teardown() {
	if c.mount != nil {
		_ = c.mount.Umount()
		c.mount = nil
	}
	if c.sess != nil {
		_ = c.sess.Logoff()
		c.sess = nil
	}
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
}

// Exists reports whether a file or directory is present. Errors count as
// absent; absence of logs is a normal condition, not a failure.
func (c *SMBConnector) Exists(path string) bool {
	if c.mount == nil {
		return false
	}
	fs, cancel := c.opFS()
	defer cancel()
	_, err := fs.Stat(toSMBPath(path))
	return err == nil
}

// List returns file names in a directory, directories excluded.
func (c *SMBConnector) List(dir string) ([]string, error) {
	if c.mount == nil {
		return nil, fmt.Errorf("not connected")
	}
	fs, cancel := c.opFS()
	defer cancel()
	entries, err := fs.ReadDir(toSMBPath(dir))
	if err != nil {
		return nil, fmt.Errorf("list %s: %w", dir, err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	return names, nil
}

// Size returns a file's size in bytes.
func (c *SMBConnector) Size(path string) (int64, error) {
	if c.mount == nil {
		return 0, fmt.Errorf("not connected")
	}
	fs, cancel := c.opFS()
	defer cancel()
	fi, err := fs.Stat(toSMBPath(path))
	if err != nil {
		return 0, fmt.Errorf("stat %s: %w", path, err)
	}
	return fi.Size(), nil
}

// Open opens a file for streaming reads. The read itself is not bounded by
// the per-operation timeout; large files legitimately take minutes.
func (c *SMBConnector) Open(path string) (io.ReadCloser, error) {
	if c.mount == nil {
		return nil, fmt.Errorf("not connected")
	}
	f, err := c.mount.Open(toSMBPath(path))
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return f, nil
}

// opFS binds the mount to a context carrying the per-operation timeout.
func (c *SMBConnector) opFS() (*smb2.Share, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), c.cfg.OpTimeout)
	return c.mount.WithContext(ctx), cancel
}

// isSessionConflict classifies failures caused by a lingering session with
// different credentials on the same host, the class of error worth one
// cleanup-and-retry cycle.
func isSessionConflict(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	for _, s := range []string{
		"STATUS_USER_SESSION_DELETED",
		"STATUS_SESSION_EXPIRED",
		"STATUS_LOGON_SESSION_COLLISION",
		"session has been expired",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}

func toSMBPath(p string) string {
	return strings.ReplaceAll(strings.TrimPrefix(p, "/"), "/", `\`)
}
