package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/fjl/xferbench/transfer"
)

type fetcher interface {
	Fetch(ctx context.Context) (*transfer.Result, error)
}

// menu is the interactive protocol selection loop.
type menu struct {
	in       *bufio.Scanner
	out      io.Writer
	stream   fetcher
	datagram fetcher
}

func newMenu(in io.Reader, out io.Writer, stream, datagram fetcher) *menu {
	return &menu{in: bufio.NewScanner(in), out: out, stream: stream, datagram: datagram}
}

// run prompts for transfers until the user exits, input ends or ctx is canceled.
// Failed transfers are reported and do not end the loop.
func (m *menu) run(ctx context.Context) {
	for ctx.Err() == nil {
		fmt.Fprintln(m.out, "Choose the transfer protocol:")
		fmt.Fprintln(m.out, "1. TCP (reliable)")
		fmt.Fprintln(m.out, "2. UDP (fast, unreliable)")
		fmt.Fprintln(m.out, "3. Exit")
		fmt.Fprint(m.out, "Enter your choice (1/2/3): ")
		if !m.in.Scan() {
			fmt.Fprintln(m.out)
			return
		}
		switch strings.TrimSpace(m.in.Text()) {
		case "1":
			m.transfer(ctx, "TCP", m.stream)
		case "2":
			m.transfer(ctx, "UDP", m.datagram)
		case "3":
			fmt.Fprintln(m.out, "Exiting.")
			return
		default:
			fmt.Fprintln(m.out, "Invalid option, try again.")
			fmt.Fprintln(m.out)
		}
	}
}

func (m *menu) transfer(ctx context.Context, name string, f fetcher) {
	res, err := f.Fetch(ctx)
	switch {
	case errors.Is(err, transfer.ErrTruncated):
		fmt.Fprintf(m.out, "[%s] Warning: %v (partial file kept in %s)\n\n", name, err, res.Dest)
		return
	case errors.Is(err, transfer.ErrConnectionRefused):
		fmt.Fprintf(m.out, "[%s] Error: connection refused. Is the server running?\n\n", name)
		return
	case err != nil:
		fmt.Fprintf(m.out, "[%s] Error: %v\n\n", name, err)
		return
	}
	fmt.Fprintf(m.out, "[%s] Received %d bytes into '%s'.\n", name, res.Received, res.Dest)
	fmt.Fprintf(m.out, "\n--- %s TRANSFER RESULT ---\n", name)
	fmt.Fprintf(m.out, "Transmission time measured by server: %.4f seconds.\n", res.Seconds())
	fmt.Fprintf(m.out, "BLAKE2b-256 of received data: %x\n", res.Digest)
	fmt.Fprintln(m.out, "-----------------------------")
	fmt.Fprintln(m.out)
}
