package imap

import (
	"context"
	"net"
	"time"

	"github.com/emersion/go-imap/client"
)

const defaultDialTimeout = 30 * time.Second

// ConnectionConfig holds what is needed to open an authenticated IMAP session.
type ConnectionConfig struct {
	Address     string
	Username    string
	Password    string
	UseTLS      bool
	DialTimeout time.Duration
}

// Connector opens a fresh, logged-in IMAP session.
// Callers own the returned client and must log out.
type Connector interface {
	Connect(ctx context.Context) (*client.Client, error)
}

// Dialer is the production Connector. It dials and logs in on every call and never pools.
type Dialer struct {
	cfg ConnectionConfig
}

func NewDialer(cfg ConnectionConfig) *Dialer {
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = defaultDialTimeout
	}
	return &Dialer{cfg: cfg}
}

// Connect dials the server and authenticates.
// A context that is already done abandons the call before any network activity.
func (d *Dialer) Connect(ctx context.Context) (*client.Client, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c, err := ConnectToIMAP(d.cfg.Address, d.cfg.UseTLS, d.cfg.DialTimeout)
	if err != nil {
		return nil, err
	}

	if err := Login(c, d.cfg.Username, d.cfg.Password); err != nil {
		_ = c.Logout()
		return nil, err
	}

	return c, nil
}

// ConnectToIMAP connects to the IMAP server with the given dial timeout.
// useTLS: true for production (TLS), false for tests and the sandbox (non-TLS).
func ConnectToIMAP(server string, useTLS bool, timeout time.Duration) (*client.Client, error) {
	dialer := &net.Dialer{
		Timeout: timeout,
	}

	if useTLS {
		c, err := client.DialWithDialerTLS(dialer, server, nil)
		if err != nil {
			return nil, connectionError(err, "failed to dial %s with TLS", server)
		}
		return c, nil
	}

	c, err := client.DialWithDialer(dialer, server)
	if err != nil {
		return nil, connectionError(err, "failed to dial %s", server)
	}

	return c, nil
}

// Login authenticates with the IMAP server.
func Login(c *client.Client, username, password string) error {
	if err := c.Login(username, password); err != nil {
		return connectionError(err, "failed to authenticate")
	}

	return nil
}
