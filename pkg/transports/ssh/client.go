// Package ssh runs pgfroyo against a remote host: commands execute over SSH
// sessions and file checks go through SFTP.
package ssh

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
)

// Client is a single SSH connection to a managed host.
// It implements execx.Runner and fsys.Checker.
type Client struct {
	config *Config
	logger zerolog.Logger

	connMu        sync.RWMutex
	client        *ssh.Client
	proxy         *ssh.Client
	isConnected   bool
	connectedAt   time.Time
	lastUsedAt    time.Time
	stopKeepAlive chan struct{}

	// fallbackUser runs "test -e" when SFTP is denied access to a path.
	fallbackUser string
}

// ConnectionInfo contains details about an active SSH connection.
type ConnectionInfo struct {
	Host         string
	Port         int
	User         string
	ConnectedAt  time.Time
	LastActivity time.Time
}

// TransportError represents an error from the transport layer.
type TransportError struct {
	// Op is the operation that failed (e.g., "connect", "exec", "stat")
	Op string

	// Err is the underlying error
	Err error

	// IsTemporary indicates if the error is temporary and can be retried
	IsTemporary bool

	// IsAuthError indicates if the error is related to authentication
	IsAuthError bool
}

func (e *TransportError) Error() string {
	return e.Op + ": " + e.Err.Error()
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Temporary reports whether retrying may succeed.
func (e *TransportError) Temporary() bool {
	return e.IsTemporary
}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithFallbackUser sets the identity used for existence checks SFTP cannot perform.
func WithFallbackUser(user string) Option {
	return func(c *Client) { c.fallbackUser = user }
}

// NewClient creates a client; call Connect before use.
func NewClient(config *Config, opts ...Option) (*Client, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	c := &Client{config: config, logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With().Str("component", "ssh").Str("host", config.Host).Logger()
	return c, nil
}

// Connect establishes the SSH connection, directly or through the jump host.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if c.isConnected && c.client != nil {
		if err := c.healthCheckInternal(); err == nil {
			return nil
		}
		c.logger.Warn().Msg("existing connection is dead, reconnecting")
		_ = c.closeLocked()
	}

	clientConfig, err := c.config.BuildSSHClientConfig()
	if err != nil {
		return &TransportError{Op: "connect", Err: err, IsAuthError: true}
	}

	if c.config.IsProxyEnabled() {
		err = c.connectViaProxy(ctx, clientConfig)
	} else {
		err = c.connectDirect(ctx, clientConfig)
	}
	if err != nil {
		return err
	}

	c.isConnected = true
	c.connectedAt = time.Now()
	c.lastUsedAt = c.connectedAt
	if c.config.KeepAliveInterval > 0 {
		c.stopKeepAlive = make(chan struct{})
		go c.keepAlive(c.client, c.stopKeepAlive)
	}
	return nil
}

func (c *Client) connectDirect(ctx context.Context, clientConfig *ssh.ClientConfig) error {
	address := c.config.Address()
	c.logger.Debug().Str("address", address).Msg("establishing SSH connection")

	type dialResult struct {
		client *ssh.Client
		err    error
	}
	done := make(chan dialResult, 1)
	go func() {
		client, err := ssh.Dial("tcp", address, clientConfig)
		done <- dialResult{client, err}
	}()

	select {
	case <-ctx.Done():
		go func() {
			if r := <-done; r.client != nil {
				_ = r.client.Close()
			}
		}()
		return &TransportError{Op: "connect", Err: ctx.Err(), IsTemporary: true}
	case r := <-done:
		if r.err != nil {
			return &TransportError{Op: "connect", Err: r.err, IsTemporary: true}
		}
		c.client = r.client
		c.logger.Info().Str("address", address).Msg("SSH connection established")
		return nil
	}
}

func (c *Client) connectViaProxy(ctx context.Context, targetConfig *ssh.ClientConfig) error {
	proxyConfig := c.config.proxyConfig()
	proxyClientConfig, err := proxyConfig.BuildSSHClientConfig()
	if err != nil {
		return fmt.Errorf("failed to build proxy config: %w", err)
	}

	c.logger.Debug().Str("proxy", proxyConfig.Address()).Msg("connecting to proxy host")
	proxyClient, err := ssh.Dial("tcp", proxyConfig.Address(), proxyClientConfig)
	if err != nil {
		return &TransportError{Op: "connect-proxy", Err: err, IsTemporary: true}
	}

	targetAddress := c.config.Address()
	proxyConn, err := proxyClient.DialContext(ctx, "tcp", targetAddress)
	if err != nil {
		_ = proxyClient.Close()
		return &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true}
	}

	ncc, chans, reqs, err := ssh.NewClientConn(proxyConn, targetAddress, targetConfig)
	if err != nil {
		_ = proxyConn.Close()
		_ = proxyClient.Close()
		return &TransportError{Op: "connect-via-proxy", Err: err, IsTemporary: true, IsAuthError: true}
	}

	c.client = ssh.NewClient(ncc, chans, reqs)
	c.proxy = proxyClient
	c.logger.Info().Str("target", targetAddress).Str("proxy", proxyConfig.Address()).Msg("SSH connection established via proxy")
	return nil
}

// Disconnect closes the connection.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.isConnected || c.client == nil {
		return nil
	}
	c.logger.Debug().Msg("closing SSH connection")
	if err := c.closeLocked(); err != nil {
		return &TransportError{Op: "disconnect", Err: err}
	}
	return nil
}

func (c *Client) closeLocked() error {
	if c.stopKeepAlive != nil {
		close(c.stopKeepAlive)
		c.stopKeepAlive = nil
	}
	err := c.client.Close()
	if c.proxy != nil {
		_ = c.proxy.Close()
		c.proxy = nil
	}
	c.client = nil
	c.isConnected = false
	return err
}

// IsConnected returns true if the client has an active connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.isConnected
}

// HealthCheck verifies the connection is still alive and responsive.
func (c *Client) HealthCheck(ctx context.Context) error {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	if !c.isConnected || c.client == nil {
		return &TransportError{Op: "healthcheck", Err: fmt.Errorf("not connected")}
	}
	return c.healthCheckInternal()
}

// healthCheckInternal runs "true" in a fresh session; the caller holds connMu.
func (c *Client) healthCheckInternal() error {
	session, err := c.client.NewSession()
	if err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	defer session.Close()

	if err := session.Run("true"); err != nil {
		return &TransportError{Op: "healthcheck", Err: err, IsTemporary: true}
	}
	return nil
}

func (c *Client) keepAlive(client *ssh.Client, stop <-chan struct{}) {
	ticker := time.NewTicker(c.config.KeepAliveInterval)
	defer ticker.Stop()

	retries := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}

		if _, _, err := client.SendRequest("keepalive@openssh.com", true, nil); err != nil {
			retries++
			c.logger.Warn().Err(err).Int("retries", retries).Msg("keep-alive failed")
			if retries >= c.config.MaxKeepAliveRetries {
				c.logger.Error().Msg("keep-alive failed too many times, connection may be dead")
				return
			}
			continue
		}
		retries = 0
		c.touch()
	}
}

// ConnectionInfo returns information about the current connection.
func (c *Client) ConnectionInfo() ConnectionInfo {
	c.connMu.RLock()
	defer c.connMu.RUnlock()

	return ConnectionInfo{
		Host:         c.config.Host,
		Port:         c.config.Port,
		User:         c.config.User,
		ConnectedAt:  c.connectedAt,
		LastActivity: c.lastUsedAt,
	}
}

func (c *Client) touch() {
	c.connMu.Lock()
	c.lastUsedAt = time.Now()
	c.connMu.Unlock()
}

// getClient returns the underlying SSH client for sessions and SFTP.
func (c *Client) getClient() (*ssh.Client, error) {
	c.connMu.RLock()
	client, connected := c.client, c.isConnected
	c.connMu.RUnlock()

	if !connected || client == nil {
		return nil, &TransportError{Op: "get-client", Err: fmt.Errorf("not connected")}
	}
	c.touch()
	return client, nil
}
