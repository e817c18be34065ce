// Package calibration gates zero-heading capture on an operator signal
package calibration

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"time"
)

// Confirmer blocks until the operator is facing forward
type Confirmer interface {
	Confirm(ctx context.Context) error
}

// Prompt prints a prompt and waits for a line on its reader
type Prompt struct {
	in  io.Reader
	out io.Writer
}

// NewPrompt creates a line-based prompt, typically on stdin/stdout
func NewPrompt(in io.Reader, out io.Writer) *Prompt {
	return &Prompt{in: in, out: out}
}

// Confirm waits for Enter. The read goroutine is abandoned on cancel since
// a blocking read on stdin cannot be interrupted.
func (p *Prompt) Confirm(ctx context.Context) error {
	fmt.Fprintln(p.out, "Look straight ahead and press Enter to zero the heading.")

	done := make(chan error, 1)
	go func() {
		_, err := bufio.NewReader(p.in).ReadString('\n')
		if err == io.EOF {
			err = fmt.Errorf("calibration input closed: %w", err)
		}
		done <- err
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Delay confirms automatically after a fixed settle time
type Delay struct {
	wait time.Duration
}

// NewDelay creates an automatic confirmer for headless runs
func NewDelay(wait time.Duration) *Delay {
	return &Delay{wait: wait}
}

// Confirm sleeps for the settle time
func (d *Delay) Confirm(ctx context.Context) error {
	select {
	case <-time.After(d.wait):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
