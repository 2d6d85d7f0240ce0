package jobs

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"sync"
	"time"
)

const (
	outputLimit = 4 << 10
	// killGrace bounds how long Wait may block on output pipes after the
	// process was killed.
	killGrace = 2 * time.Second
)

// ErrNoCommand is returned by an action built from an empty argv.
var ErrNoCommand = errors.New("jobs: empty command")

// ExecAction runs argv as a child process. The process is killed when the
// call's context is done. The returned output is the trimmed tail of the
// combined stdout and stderr.
func ExecAction(argv []string) Action {
	argv = append([]string(nil), argv...)
	return func(ctx context.Context) (string, error) {
		if len(argv) == 0 || strings.TrimSpace(argv[0]) == "" {
			return "", ErrNoCommand
		}
		var out tail
		cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
		cmd.Stdout = &out
		cmd.Stderr = &out
		cmd.WaitDelay = killGrace

		err := cmd.Run()
		text := strings.TrimSpace(out.String())
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				// Report the cancellation, not the kill signal it caused.
				return text, ctxErr
			}
			if text != "" {
				return text, fmt.Errorf("%s: %w: %s", argv[0], err, lastLine(text))
			}
			return text, fmt.Errorf("%s: %w", argv[0], err)
		}
		return text, nil
	}
}

// tail keeps the last outputLimit bytes written to it.
type tail struct {
	mu  sync.Mutex
	buf []byte
}

func (t *tail) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - outputLimit; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tail) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
