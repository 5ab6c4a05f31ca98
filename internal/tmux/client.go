package tmux

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/listener"
)

// Options describe the control client to spawn.
type Options struct {
	Binary string
	Args   []string // arguments after -C, e.g. AttachArgs("work")
	Dir    string   // working directory; defaults to "/"
	Env    []string // extra environment entries
}

// CommandError is returned by Exec when tmux closes a reply with %error.
type CommandError struct {
	Command string
	Reply   *control.Reply
}

func (e *CommandError) Error() string {
	msg := strings.Join(e.Reply.Lines(), "; ")
	if msg == "" {
		msg = "failed"
	}
	return fmt.Sprintf("tmux %q: %s", e.Command, msg)
}

// Client is a running `tmux -C` process whose stdout feeds a listener.
// Exec calls are serialized so every command is paired with its reply.
type Client struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	out    *os.File
	lst    *listener.Listener
	logger *slog.Logger
	args   []string

	mu    sync.Mutex // guards stdin writes and stale
	stale int        // replies owed to callers that gave up waiting

	exited  chan struct{}
	waitErr error

	closeOnce sync.Once
	closeErr  error
}

// Start spawns the control client and its listener.
func Start(opts Options, cfg listener.Config, logger *slog.Logger) (*Client, error) {
	if logger == nil {
		logger = slog.Default()
	}
	r, w, err := os.Pipe()
	if err != nil {
		return nil, fmt.Errorf("pipe: %w", err)
	}

	cmd := exec.Command(orDefault(opts.Binary), append([]string{"-C"}, opts.Args...)...)
	cmd.Dir = opts.Dir
	if cmd.Dir == "" {
		cmd.Dir = "/"
	}
	if len(opts.Env) > 0 {
		cmd.Env = append(os.Environ(), opts.Env...)
	}
	cmd.Stdout = w
	stdin, err := cmd.StdinPipe()
	if err != nil {
		r.Close()
		w.Close()
		return nil, err
	}
	if err := cmd.Start(); err != nil {
		r.Close()
		w.Close()
		return nil, fmt.Errorf("start %s: %w", cmd.Path, err)
	}
	// The child holds its own copy; ours must go so EOF reaches the reader.
	w.Close()
	logger.Debug("tmux: control client started", "pid", cmd.Process.Pid, "args", opts.Args)

	c := &Client{
		cmd:    cmd,
		stdin:  stdin,
		out:    r,
		lst:    listener.New(r, cfg, logger),
		logger: logger,
		args:   opts.Args,
		exited: make(chan struct{}),
	}
	go func() {
		c.waitErr = cmd.Wait()
		close(c.exited)
	}()
	if err := c.lst.Start(); err != nil {
		cmd.Process.Kill()
		<-c.exited
		r.Close()
		return nil, err
	}
	return c, nil
}

// Listener returns the distributor reading the client's stdout.
func (c *Client) Listener() *listener.Listener { return c.lst }

// Pid returns the control client's process id.
func (c *Client) Pid() int { return c.cmd.Process.Pid }

// Args returns the arguments the client was started with.
func (c *Client) Args() []string { return c.args }

// Exited is closed when the tmux process has exited.
func (c *Client) Exited() <-chan struct{} { return c.exited }

// Sync waits for the reply tmux emits when a control client attaches.
func (c *Client) Sync(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := c.lst.TakeReply(ctx)
	return err
}

// Exec sends one command and returns its reply. A reply closed by
// %error yields the reply together with a *CommandError.
func (c *Client) Exec(ctx context.Context, command string) (*control.Reply, error) {
	if err := CheckCommand(command); err != nil {
		return nil, err
	}
	if strings.ContainsAny(command, "\n") {
		return nil, fmt.Errorf("tmux: command contains a newline")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for c.stale > 0 {
		if _, err := c.lst.TakeReply(ctx); err != nil {
			return nil, fmt.Errorf("discard stale reply: %w", err)
		}
		c.stale--
	}

	if _, err := io.WriteString(c.stdin, command+"\n"); err != nil {
		return nil, fmt.Errorf("write command: %w", err)
	}
	reply, err := c.lst.TakeReply(ctx)
	if err != nil {
		if ctx.Err() != nil {
			c.stale++
		}
		return nil, err
	}
	if !reply.Success() {
		return reply, &CommandError{Command: command, Reply: reply}
	}
	return reply, nil
}

// Close detaches the client with an empty command line, waits briefly
// for tmux to exit, and stops the listener. A remote close is the
// expected outcome and is not reported.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.mu.Lock()
		io.WriteString(c.stdin, "\n")
		c.stdin.Close()
		c.mu.Unlock()

		select {
		case <-c.exited:
		case <-time.After(2 * time.Second):
			c.logger.Warn("tmux: control client did not exit, killing", "pid", c.Pid())
			c.cmd.Process.Kill()
			<-c.exited
		}

		err := c.lst.Close()
		c.out.Close()
		if err != nil && !errors.Is(err, listener.ErrRemoteClosed) {
			c.closeErr = err
		}
		c.logger.Debug("tmux: control client closed", "pid", c.Pid(), "wait", c.waitErr)
	})
	return c.closeErr
}
