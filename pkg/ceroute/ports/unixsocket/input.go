package unixsocket

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"sync"
	"time"

	ceerrors "github.com/randalmurphal/ceroute/pkg/ceroute/errors"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/port"
)

// Listener is the unix socket input port.
type Listener struct {
	settings Settings
	logger   *slog.Logger

	ln net.Listener

	mu    sync.Mutex
	conns map[*client]struct{}
}

// client is one accepted connection. Replies may be written from the
// kernel's result callbacks while the reader goroutine is still running.
type client struct {
	conn net.Conn
	wmu  sync.Mutex
}

func (c *client) reply(verb, id string) error {
	c.wmu.Lock()
	defer c.wmu.Unlock()
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	_, err := fmt.Fprintf(c.conn, "%s %s\n", verb, id)
	return err
}

// NewListener creates an input port listening on s.Path.
func NewListener(s Settings, logger *slog.Logger) *Listener {
	return &Listener{settings: s, logger: logger, conns: make(map[*client]struct{})}
}

// Open implements port.Port. A stale socket file left by a previous run is
// removed first.
func (l *Listener) Open(context.Context) error {
	if err := os.Remove(l.settings.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("remove stale socket: %w", err)
	}
	ln, err := net.Listen("unix", l.settings.Path)
	if err != nil {
		return &ceerrors.ConnectError{Address: l.settings.Path, Err: err}
	}
	l.ln = ln
	l.logger.Info("listening", slog.String("path", l.settings.Path))
	return nil
}

// Addr returns the socket path.
func (l *Listener) Addr() string { return l.settings.Path }

// Serve implements port.Port.
func (l *Listener) Serve(ctx context.Context, ep *port.Endpoint) error {
	in := port.NewInput(ep)
	runCtx, stopRun := context.WithCancel(ctx)
	defer stopRun()
	runDone := make(chan error, 1)
	go func() { runDone <- in.Run(runCtx) }()

	var readers sync.WaitGroup
	acceptDone := make(chan error, 1)
	go func() { acceptDone <- l.accept(ctx, in, &readers) }()

	select {
	case <-ctx.Done():
	case err := <-acceptDone:
		acceptDone <- err
	case err := <-runDone:
		runDone <- err
	}

	// Stop taking input, let readers finish the lines they hold, then wait
	// for the kernel's remaining results before closing connections.
	_ = l.ln.Close()
	acceptErr := <-acceptDone
	l.interruptReads()
	readers.Wait()
	stopRun()
	runErr := <-runDone
	l.closeConns()

	if ctx.Err() != nil {
		return nil
	}
	if err := errors.Join(acceptErr, runErr); err != nil {
		return err
	}
	return errors.New("listener closed unexpectedly")
}

func (l *Listener) accept(ctx context.Context, in *port.Input, readers *sync.WaitGroup) error {
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			if errors.Is(err, net.ErrClosed) || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		c := &client{conn: conn}
		l.mu.Lock()
		l.conns[c] = struct{}{}
		l.mu.Unlock()

		readers.Add(1)
		go func() {
			defer readers.Done()
			l.read(ctx, in, c)
		}()
	}
}

func (l *Listener) read(ctx context.Context, in *port.Input, c *client) {
	scanner := bufio.NewScanner(c.conn)
	scanner.Buffer(make([]byte, 0, 4096), l.settings.MaxLine)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		evt, err := event.Decode(line)
		if err != nil {
			l.logger.Warn("invalid event line", slog.String("error", err.Error()))
			l.answer(c, "reject", "-")
			continue
		}
		if err := in.Emit(ctx, evt, l.onResult(c, evt.ID())); err != nil {
			if ctx.Err() == nil {
				l.logger.Error("emit failed", slog.String("event_id", evt.ID()), slog.String("error", err.Error()))
			}
			return
		}
	}
	if err := scanner.Err(); err != nil && ctx.Err() == nil && !errors.Is(err, os.ErrDeadlineExceeded) {
		l.logger.Warn("connection read failed", slog.String("error", err.Error()))
	}
	if ctx.Err() == nil {
		l.drop(c)
	}
}

func (l *Listener) onResult(c *client, id string) port.ResultFunc {
	return func(r port.Result) {
		switch r {
		case port.ResultAck:
			l.answer(c, "ack", id)
		case port.ResultPermanentError:
			l.answer(c, "reject", id)
		default:
			l.answer(c, "nack", id)
		}
	}
}

func (l *Listener) answer(c *client, verb, id string) {
	if !l.settings.Reply {
		return
	}
	if err := c.reply(verb, id); err != nil {
		l.logger.Debug("reply not written", slog.String("event_id", id), slog.String("error", err.Error()))
	}
}

// interruptReads unblocks every reader without closing the connections, so
// results can still be written back.
func (l *Listener) interruptReads() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		_ = c.conn.SetReadDeadline(time.Now())
	}
}

func (l *Listener) drop(c *client) {
	l.mu.Lock()
	delete(l.conns, c)
	l.mu.Unlock()
	_ = c.conn.Close()
}

func (l *Listener) closeConns() {
	l.mu.Lock()
	defer l.mu.Unlock()
	for c := range l.conns {
		_ = c.conn.Close()
	}
	clear(l.conns)
	_ = os.Remove(l.settings.Path)
}
