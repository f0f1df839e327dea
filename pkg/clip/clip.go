// Package clip moves signaling URLs through the clipboard.
package clip

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/atotto/clipboard"
	"github.com/cenkalti/backoff/v4"

	"github.com/tomaslejdung/peeplink/pkg/signal"
)

// Clipboard is the collaborator the connection manager publishes to and
// reads from.
type Clipboard interface {
	Write(text string) error
	Read() (string, error)
}

// System is the OS clipboard.
type System struct{}

func (System) Write(text string) error { return clipboard.WriteAll(text) }

func (System) Read() (string, error) { return clipboard.ReadAll() }

// Available reports whether the OS clipboard can be used at all (e.g. no
// xclip/xsel/wl-clipboard on Linux).
func Available() bool { return !clipboard.Unsupported }

// Memory is an in-process clipboard.
type Memory struct {
	mu     sync.Mutex
	text   string
	writes int
}

func (m *Memory) Write(text string) error {
	m.mu.Lock()
	m.text = text
	m.writes++
	m.mu.Unlock()
	return nil
}

func (m *Memory) Read() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.text, nil
}

// Writes counts Write calls.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

var errNoURL = errors.New("clipboard holds no matching url")

type waitOptions struct {
	initial time.Duration
	max     time.Duration
}

// WaitOption tunes WaitForURL.
type WaitOption func(*waitOptions)

// WithInterval sets the first and the largest polling interval.
func WithInterval(initial, max time.Duration) WaitOption {
	return func(o *waitOptions) {
		o.initial, o.max = initial, max
	}
}

// WaitForURL polls c with exponential backoff until it holds a valid
// signaling URL for role. It only gives up when ctx is done.
func WaitForURL(ctx context.Context, c Clipboard, role signal.Role, opts ...WaitOption) (string, error) {
	o := waitOptions{initial: 250 * time.Millisecond, max: 2 * time.Second}
	for _, opt := range opts {
		opt(&o)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initial
	b.MaxInterval = o.max
	b.MaxElapsedTime = 0

	return backoff.RetryWithData(func() (string, error) {
		text, err := c.Read()
		if err != nil {
			return "", err
		}
		text = strings.TrimSpace(text)
		if !signal.IsValidURL(text) || signal.RoleFromURL(text) != role {
			return "", errNoURL
		}
		return text, nil
	}, backoff.WithContext(b, ctx))
}
