// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 HoloMUSH Contributors

package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
	"github.com/samber/oops"

	"github.com/holomush/playerdb/pkg/errutil"
)

// EmbeddedServer runs a NATS server inside the process, for single-host
// deployments without a separate broker.
type EmbeddedServer struct {
	ns *server.Server

	startupTimeout time.Duration
	host           string
	port           int
}

// ServerOption configures an EmbeddedServer.
type ServerOption func(*EmbeddedServer)

// WithStartTimeout sets how long Start waits for the server to accept
// connections.
func WithStartTimeout(d time.Duration) ServerOption {
	return func(s *EmbeddedServer) { s.startupTimeout = d }
}

// WithListenAddr sets the listen host and port. Port -1 picks a free port.
func WithListenAddr(host string, port int) ServerOption {
	return func(s *EmbeddedServer) {
		s.host = host
		s.port = port
	}
}

// NewEmbeddedServer configures a server without starting it.
func NewEmbeddedServer(opts ...ServerOption) (*EmbeddedServer, error) {
	s := &EmbeddedServer{
		startupTimeout: 10 * time.Second,
		host:           "127.0.0.1",
		port:           server.DEFAULT_PORT,
	}
	for _, opt := range opts {
		opt(s)
	}

	ns, err := server.NewServer(&server.Options{
		Host:   s.host,
		Port:   s.port,
		NoLog:  true,
		NoSigs: true,
	})
	if err != nil {
		return nil, oops.In("relay").With("host", s.host).With("port", s.port).Wrapf(err, "configure nats server")
	}
	s.ns = ns
	return s, nil
}

// Start launches the server and waits until it accepts connections.
func (s *EmbeddedServer) Start() error {
	s.ns.Start()
	if !s.ns.ReadyForConnections(s.startupTimeout) {
		s.ns.Shutdown()
		return oops.In("relay").With("timeout", s.startupTimeout).Errorf("nats server not ready for connections")
	}
	return nil
}

// ClientURL is the URL clients connect to.
func (s *EmbeddedServer) ClientURL() string {
	return s.ns.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (s *EmbeddedServer) Shutdown() {
	s.ns.Shutdown()
	s.ns.WaitForShutdown()
}

// Watch subscribes to every event under prefix and calls fn for each
// message until ctx ends. Undecodable messages are logged and skipped.
func Watch(ctx context.Context, conn *nats.Conn, prefix string, logger *slog.Logger, fn func(Message)) error {
	if logger == nil {
		logger = slog.Default()
	}
	msgs := make(chan *nats.Msg, 64)
	sub, err := conn.ChanSubscribe(fmt.Sprintf("%s.>", prefix), msgs)
	if err != nil {
		return oops.In("relay").With("prefix", prefix).Wrapf(err, "subscribe")
	}
	defer func() {
		if err := sub.Unsubscribe(); err != nil && conn.IsConnected() {
			errutil.LogWarn(logger, "relay unsubscribe failed", err)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case msg := <-msgs:
			var m Message
			if err := json.Unmarshal(msg.Data, &m); err != nil {
				errutil.LogWarn(logger, "skipping undecodable relay message", err, "subject", msg.Subject)
				continue
			}
			fn(m)
		}
	}
}
