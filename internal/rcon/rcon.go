// Garrison - Game Server Player Identity Tracking and Alerting
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/garrison

// Package rcon implements the BattlEye RCON protocol over UDP: login,
// command execution with sequence numbers, and acknowledgement of unsolicited
// server messages. It covers what ban enforcement needs, not a full admin
// console.
package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/garrison/internal/logging"
)

// Packet types per the BattlEye RCON spec.
const (
	packetLogin         = 0x00
	packetCommand       = 0x01
	packetServerMessage = 0x02
)

// ErrLoginFailed is returned when the server rejects the RCON password.
var ErrLoginFailed = errors.New("rcon login rejected")

// Client is a logged-in BattlEye RCON connection. Command execution is
// serialized; the protocol's one-byte sequence number leaves no room for
// useful pipelining.
type Client struct {
	mu      sync.Mutex
	conn    net.Conn
	timeout time.Duration
	seq     byte
}

// Dial connects to the server and performs the login exchange.
func Dial(host string, port int, password string, timeout time.Duration) (*Client, error) {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	addr := net.JoinHostPort(host, fmt.Sprintf("%d", port))
	conn, err := net.DialTimeout("udp", addr, timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to dial rcon %s: %w", addr, err)
	}

	c := &Client{conn: conn, timeout: timeout}
	if err := c.login(password); err != nil {
		_ = conn.Close()
		return nil, err
	}

	logging.Info().Str("addr", addr).Msg("RCON connected")
	return c, nil
}

func (c *Client) login(password string) error {
	payload := append([]byte{packetLogin}, []byte(password)...)
	if err := c.send(payload); err != nil {
		return fmt.Errorf("failed to send login: %w", err)
	}

	resp, err := c.receive()
	if err != nil {
		return fmt.Errorf("failed to read login response: %w", err)
	}
	if len(resp) < 2 || resp[0] != packetLogin {
		return fmt.Errorf("unexpected login response type")
	}
	if resp[1] != 0x01 {
		return ErrLoginFailed
	}
	return nil
}

// Command sends one command and returns the server's textual response.
// Unsolicited server messages arriving in between are acknowledged and
// skipped. Multi-part responses are reassembled in order.
func (c *Client) Command(ctx context.Context, command string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.conn.SetDeadline(deadline); err != nil {
		return "", fmt.Errorf("failed to set deadline: %w", err)
	}

	seq := c.seq
	c.seq++

	payload := append([]byte{packetCommand, seq}, []byte(command)...)
	if err := c.send(payload); err != nil {
		return "", fmt.Errorf("failed to send command: %w", err)
	}

	var (
		parts     []string
		received  []bool
		wantParts = 1
		haveParts = 0
	)
	for haveParts < wantParts {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		resp, err := c.receive()
		if err != nil {
			return "", fmt.Errorf("failed to read command response: %w", err)
		}
		if len(resp) == 0 {
			continue
		}

		switch resp[0] {
		case packetServerMessage:
			// Ack and keep waiting for our response.
			if len(resp) >= 2 {
				_ = c.send([]byte{packetServerMessage, resp[1]})
			}
		case packetCommand:
			if len(resp) < 2 || resp[1] != seq {
				continue
			}
			body := resp[2:]
			// Multi-part marker: 0x00, total, index.
			if len(body) >= 3 && body[0] == 0x00 {
				total := int(body[1])
				index := int(body[2])
				if total > wantParts {
					wantParts = total
				}
				if len(parts) < wantParts {
					grownParts := make([]string, wantParts)
					copy(grownParts, parts)
					parts = grownParts
					grownReceived := make([]bool, wantParts)
					copy(grownReceived, received)
					received = grownReceived
				}
				// UDP may duplicate datagrams; a part counts once.
				if index < len(parts) && !received[index] {
					parts[index] = string(body[3:])
					received[index] = true
					haveParts++
				}
			} else {
				parts = []string{string(body)}
				haveParts = 1
			}
		}
	}

	return strings.Join(parts, ""), nil
}

// Close tears the connection down.
func (c *Client) Close() error {
	return c.conn.Close()
}

func (c *Client) send(payload []byte) error {
	_, err := c.conn.Write(encodePacket(payload))
	return err
}

func (c *Client) receive() ([]byte, error) {
	buf := make([]byte, 4096)
	n, err := c.conn.Read(buf)
	if err != nil {
		return nil, err
	}
	return decodePacket(buf[:n])
}
