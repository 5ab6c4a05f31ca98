package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/ergochat/readline"
	"golang.org/x/term"

	"github.com/zsprackett/tmux-control/internal/config"
	"github.com/zsprackett/tmux-control/internal/control"
	"github.com/zsprackett/tmux-control/internal/monitor"
	"github.com/zsprackett/tmux-control/internal/tmux"
)

const replTimeout = 10 * time.Second

// lineReader reads REPL input with line editing on a terminal and plain
// scanning otherwise.
type lineReader struct {
	rl      *readline.Instance
	scanner *bufio.Scanner
}

func newLineReader(prompt string) *lineReader {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
	}
	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:       prompt,
		HistoryFile:  filepath.Join(config.Dir(), "repl_history"),
		HistoryLimit: 500,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: readline init failed (%v), using basic input\n", err)
		return &lineReader{scanner: bufio.NewScanner(os.Stdin)}
	}
	return &lineReader{rl: rl}
}

// ReadLine returns io.EOF on end of input or Ctrl-C.
func (lr *lineReader) ReadLine() (string, error) {
	if lr.rl == nil {
		if !lr.scanner.Scan() {
			if err := lr.scanner.Err(); err != nil {
				return "", err
			}
			return "", io.EOF
		}
		return lr.scanner.Text(), nil
	}
	line, err := lr.rl.Readline()
	if errors.Is(err, readline.ErrInterrupt) {
		return "", io.EOF
	}
	return line, err
}

func (lr *lineReader) Close() {
	if lr.rl != nil {
		lr.rl.Close()
	}
}

func runRepl(session string) error {
	cfg := loadConfig()
	if err := checkTmux(cfg); err != nil {
		return err
	}
	logger, closeLog := initLogging(cfg, nil)
	defer closeLog()

	args := tmux.NewArgs(session)
	if tmux.HasSession(cfg.Tmux.Binary, session) {
		args = tmux.AttachArgs(session)
	}
	client, err := tmux.Start(tmux.Options{Binary: cfg.Tmux.Binary, Args: args}, listenerConfig(cfg, nil), logger)
	if err != nil {
		return err
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), replTimeout)
	err = client.Sync(ctx)
	cancel()
	if err != nil {
		return fmt.Errorf("waiting for tmux: %w", err)
	}

	mon := monitor.New(client.Listener(), monitor.Options{
		Target: session,
		OnEvent: func(ev control.Event) {
			if _, ok := ev.(*control.Output); ok {
				return
			}
			fmt.Printf("\r%s\n", ev.Header())
		},
	}, logger)
	mon.Start()
	defer mon.Stop()

	fmt.Printf("connected to %s (pid %d); Ctrl-D to detach\n", session, client.Pid())
	lr := newLineReader(session + "> ")
	defer lr.Close()

	for {
		line, err := lr.ReadLine()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		select {
		case <-mon.Done():
			return errors.New("tmux control client has exited")
		default:
		}

		ctx, cancel := context.WithTimeout(context.Background(), replTimeout)
		reply, err := client.Exec(ctx, line)
		cancel()

		var cerr *tmux.CommandError
		switch {
		case errors.As(err, &cerr):
			for _, l := range reply.Lines() {
				fmt.Printf("error: %s\n", l)
			}
		case err != nil:
			fmt.Printf("error: %v\n", err)
		default:
			for _, l := range reply.Lines() {
				fmt.Println(l)
			}
		}
	}
}
