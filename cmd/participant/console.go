package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/stemsi/exstem-participant/internal/session"
	"golang.org/x/term"
)

var errInputClosed = errors.New("input closed")

type lineResult struct {
	line string
	err  error
}

// console owns stdin and stdout. Lines are read on demand by a single
// goroutine so a pending read can be abandoned when the session ends.
type console struct {
	outMu sync.Mutex
	out   io.Writer

	in     *bufio.Reader
	fd     int
	isTerm bool

	want    chan struct{}
	lines   chan lineResult
	pending bool // a read is outstanding; main goroutine only
}

func newConsole(in *os.File, out io.Writer) *console {
	c := &console{
		out:    out,
		in:     bufio.NewReader(in),
		fd:     int(in.Fd()),
		want:   make(chan struct{}),
		lines:  make(chan lineResult),
		isTerm: term.IsTerminal(int(in.Fd())),
	}
	go c.readLoop()
	return c
}

func (c *console) readLoop() {
	for range c.want {
		line, err := c.in.ReadString('\n')
		if err != nil && line == "" {
			c.lines <- lineResult{err: errInputClosed}
			continue
		}
		c.lines <- lineResult{line: strings.TrimSpace(line)}
	}
}

// nextLine asks for a line, unless one is already on its way.
func (c *console) nextLine() <-chan lineResult {
	if !c.pending {
		c.want <- struct{}{}
		c.pending = true
	}
	return c.lines
}

func (c *console) got(r lineResult) (string, error) {
	c.pending = false
	return r.line, r.err
}

func (c *console) readLine(ctx context.Context, prompt string) (string, error) {
	c.printf("%s", prompt)
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case r := <-c.nextLine():
		return c.got(r)
	}
}

// readSecret reads without echo on a terminal. It blocks until Enter even
// if ctx is cancelled, so the terminal state is always restored.
func (c *console) readSecret(ctx context.Context, prompt string) (string, error) {
	if !c.isTerm || c.pending {
		return c.readLine(ctx, prompt)
	}
	c.printf("%s", prompt)
	raw, err := term.ReadPassword(c.fd)
	c.printf("\n")
	if err != nil {
		return "", err
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	return strings.TrimSpace(string(raw)), nil
}

func (c *console) printf(format string, args ...interface{}) {
	c.outMu.Lock()
	defer c.outMu.Unlock()
	fmt.Fprintf(c.out, format, args...)
}

// Notify implements session.Notifier.
func (c *console) Notify(level session.Level, message string) {
	mark := "i"
	switch level {
	case session.LevelWarning:
		mark = "!"
	case session.LevelError:
		mark = "x"
	}
	c.printf("[%s] %s\n", mark, message)
}

// fullScreenError replaces the exam screen with err.
func (c *console) fullScreenError(err error) {
	bar := strings.Repeat("═", 56)
	c.printf("\n%s\n  UJIAN TIDAK DAPAT DIMULAI\n\n  %s\n%s\n", bar, describe(err), bar)
}

func describe(err error) string {
	switch {
	case errors.Is(err, session.ErrNotYetOpen):
		return "Ujian belum dibuka. " + err.Error()
	case errors.Is(err, session.ErrWindowClosed):
		return "Waktu akses ujian sudah berakhir."
	case errors.Is(err, session.ErrMissingDuration):
		return "Durasi ujian belum diatur. Hubungi pengawas."
	case errors.Is(err, session.ErrInvalidWindow):
		return "Jadwal ujian tidak valid. Hubungi pengawas."
	case errors.Is(err, session.ErrIdentityMissing):
		return "Data peserta tidak ditemukan. Silakan login ulang."
	case err == nil:
		return "Terjadi kesalahan yang tidak terduga."
	}
	return err.Error()
}
