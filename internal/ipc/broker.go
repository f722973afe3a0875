// Package ipc serves the local text command protocol consumed by the
// companion UI. One client is served at a time over a unix domain socket.
package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/screenmon/agent/internal/domain"
	"github.com/screenmon/agent/internal/telemetry"
)

// acceptBackoff is the pause after a transient accept error.
const acceptBackoff = time.Second

// LiveTracker is the slice of the background tracker the broker needs.
type LiveTracker interface {
	ResetSessionTracking()
	GetAllRunningApps() []domain.RunningApp
}

// Broker accepts one local client connection at a time and dispatches the
// newline-terminated command protocol:
//
//	PING             -> PONG\n
//	UI_CONNECTED     -> OK\n (and rebases the tracker baseline)
//	GET_RUNNING_APPS -> name|durationMs|name|durationMs|...
//
// Unrecognized input is read and silently ignored.
type Broker struct {
	socketPath string
	tracker    LiveTracker
	rec        telemetry.Recorder
	logger     *zap.Logger

	mu     sync.Mutex
	client net.Conn
}

// NewBroker creates a broker listening on the given unix socket path.
func NewBroker(socketPath string, tracker LiveTracker, rec telemetry.Recorder, logger *zap.Logger) *Broker {
	return &Broker{
		socketPath: socketPath,
		tracker:    tracker,
		rec:        rec,
		logger:     logger,
	}
}

// Run listens on the socket and serves clients sequentially until the context
// is canceled. A client error terminates that client only; the accept loop
// itself never exits on a single connection's failure.
func (b *Broker) Run(ctx context.Context) error {
	// A stale socket file from an unclean shutdown would fail the listen.
	if err := os.Remove(b.socketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove stale socket: %w", err)
	}

	ln, err := net.Listen("unix", b.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", b.socketPath, err)
	}

	go func() {
		<-ctx.Done()
		ln.Close()
		b.mu.Lock()
		if b.client != nil {
			b.client.Close()
		}
		b.mu.Unlock()
	}()

	defer os.Remove(b.socketPath)

	b.logger.Info("ipc broker listening", zap.String("socket", b.socketPath))

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				b.logger.Info("ipc broker stopping")
				return ctx.Err()
			}
			b.logger.Error("ipc accept failed", zap.Error(err))
			select {
			case <-time.After(acceptBackoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		b.rec.IncIPCConnects()
		b.setClient(conn)
		b.logger.Info("ipc client connected")

		b.serve(ctx, conn)

		b.setClient(nil)
		conn.Close()
		b.logger.Info("ipc client disconnected")
	}
}

// serve handles one client until it disconnects, errors, or the context ends.
func (b *Broker) serve(ctx context.Context, conn net.Conn) {
	scanner := bufio.NewScanner(conn)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		cmd := strings.TrimSpace(scanner.Text())
		switch {
		case strings.HasPrefix(cmd, "PING"):
			b.write(conn, "PONG\n")

		case strings.HasPrefix(cmd, "UI_CONNECTED"):
			// A fresh UI session wants durations relative to now.
			b.tracker.ResetSessionTracking()
			b.write(conn, "OK\n")

		case strings.HasPrefix(cmd, "GET_RUNNING_APPS"):
			b.write(conn, formatRunningApps(b.tracker.GetAllRunningApps()))

		default:
			b.logger.Debug("ignoring unknown ipc command", zap.String("command", cmd))
		}
	}

	if err := scanner.Err(); err != nil && ctx.Err() == nil {
		b.logger.Warn("ipc client read failed", zap.Error(err))
	}
}

// Broadcast pushes unsolicited text to the connected client. Without a client
// it is a no-op.
func (b *Broker) Broadcast(text string) {
	b.mu.Lock()
	conn := b.client
	b.mu.Unlock()

	if conn == nil {
		return
	}
	if _, err := conn.Write([]byte(text)); err != nil {
		b.logger.Warn("ipc broadcast failed", zap.Error(err))
	}
}

// Connected reports whether a client is currently being served.
func (b *Broker) Connected() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client != nil
}

func (b *Broker) setClient(conn net.Conn) {
	b.mu.Lock()
	b.client = conn
	b.mu.Unlock()
}

func (b *Broker) write(conn net.Conn, s string) {
	if s == "" {
		return
	}
	if _, err := conn.Write([]byte(s)); err != nil {
		b.logger.Warn("ipc write failed", zap.Error(err))
	}
}

// formatRunningApps renders the pipe-delimited snapshot payload.
func formatRunningApps(apps []domain.RunningApp) string {
	parts := make([]string, 0, len(apps)*2)
	for _, app := range apps {
		parts = append(parts, app.AppName, strconv.FormatInt(app.DurationMs, 10))
	}
	return strings.Join(parts, "|")
}
