// Package client is a small SDK for the framesync external control
// endpoint. It lets remote tools steer a running installation by sending
// line-delimited control messages to the master node.
package client

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"
)

// Options control Client behavior.
type Options struct {
	// DialTimeout is the timeout for establishing the connection.
	DialTimeout time.Duration
}

// Client holds one control connection to a master node.
type Client struct {
	conn net.Conn
}

// New dials the control endpoint at address (host:port).
func New(ctx context.Context, address string, opts *Options) (*Client, error) {
	if opts == nil {
		opts = &Options{DialTimeout: 5 * time.Second}
	}
	d := net.Dialer{Timeout: opts.DialTimeout}
	conn, err := d.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("control client: dial %s: %w", address, err)
	}
	return &Client{conn: conn}, nil
}

// Send delivers one control message. Embedded newlines are rejected since
// the protocol is line-delimited.
func (c *Client) Send(msg string) error {
	if strings.ContainsAny(msg, "\r\n") {
		return fmt.Errorf("control client: message must not contain newlines")
	}
	_, err := fmt.Fprintf(c.conn, "%s\n", msg)
	return err
}

// Close closes the underlying connection.
func (c *Client) Close() error { return c.conn.Close() }
