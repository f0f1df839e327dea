package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/tomaslejdung/peeplink/pkg/connection"
	"github.com/tomaslejdung/peeplink/pkg/cursor"
)

// runHeadless drives one session with plain output: links on stdout,
// status on stderr, reply links read from stdin.
func runHeadless(ctx context.Context, app *App, m mode, link string) error {
	phases := make(chan connection.Phase, 16)
	app.Handle(connection.Handlers{
		OnPhaseChange: func(p connection.Phase) {
			select {
			case phases <- p:
			default:
			}
		},
		OnError: func(err error) {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
		},
		OnCursorPing: func(id string) {
			fmt.Fprintf(os.Stderr, "ping from %s\n", id)
		},
		OnCursorUpdate: func(st cursor.RemoteCursorState) {
			fmt.Fprintf(os.Stderr, "\rcursor %s at %.2f,%.2f   ", st.Name, st.X, st.Y)
		},
	})

	switch m {
	case modeShare:
		url, err := app.Share(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Send this link to the watcher (also copied to the clipboard):")
		fmt.Println(url)
		if app.cfg.AutoAccept {
			fmt.Fprintln(os.Stderr, "Waiting for the reply link in the clipboard...")
			go func() {
				if err := app.AutoAccept(ctx); err != nil && ctx.Err() == nil {
					fmt.Fprintf(os.Stderr, "auto-accept stopped: %v\n", err)
				}
			}()
		} else {
			fmt.Fprintln(os.Stderr, "Paste the watcher's reply link and press enter (empty line reads the clipboard):")
			go readAnswers(ctx, app, os.Stdin)
		}
	case modeWatch:
		url, err := app.Watch(ctx, link)
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stderr, "Send this reply link back to the sharer (also copied to the clipboard):")
		fmt.Println(url)
	}

	return waitSession(ctx, app, phases)
}

// readAnswers applies reply links from r until one is accepted.
func readAnswers(ctx context.Context, app *App, r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		if ctx.Err() != nil {
			return
		}
		err := app.AcceptAnswer(ctx, strings.TrimSpace(sc.Text()))
		if err == nil {
			return
		}
		fmt.Fprintln(os.Stderr, "That reply did not work, paste another one:")
	}
}

func waitSession(ctx context.Context, app *App, phases <-chan connection.Phase) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case p := <-phases:
			switch p {
			case connection.PhaseConnected:
				fmt.Fprintf(os.Stderr, "connected (%s), press ctrl+c to stop\n", app.ConnectionType())
			case connection.PhaseDisconnected:
				fmt.Fprintln(os.Stderr, "disconnected")
				return nil
			default:
				fmt.Fprintf(os.Stderr, "%s\n", strings.ToLower(strings.ReplaceAll(p.String(), "_", " ")))
			}
		}
	}
}
