package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/clip"
	"github.com/tomaslejdung/peeplink/pkg/connection"
	"github.com/tomaslejdung/peeplink/pkg/feed"
	"github.com/tomaslejdung/peeplink/pkg/media"
	"github.com/tomaslejdung/peeplink/pkg/media/devices"
	"github.com/tomaslejdung/peeplink/pkg/media/record"
	"github.com/tomaslejdung/peeplink/pkg/peer"
	"github.com/tomaslejdung/peeplink/pkg/signal"
)

// App wires the connection manager to capture devices, the clipboard, the
// optional event feed and the watcher's video sink.
type App struct {
	cfg      Config
	log      *zap.Logger
	username string

	clipboard clip.Clipboard
	acq       *devices.Acquirer
	mgr       *connection.Manager

	hub *feed.Hub
	srv *http.Server

	mu   sync.Mutex
	sink media.Sink
}

func newApp(cfg Config, log *zap.Logger) (*App, error) {
	dc, err := cfg.deviceConfig(log.Named("devices"))
	if err != nil {
		return nil, err
	}
	acq, err := devices.NewAcquirer(dc)
	if err != nil {
		return nil, fmt.Errorf("failed to set up capture: %w", err)
	}

	var cb clip.Clipboard = clip.System{}
	if !clip.Available() {
		log.Warn("system clipboard unavailable, links are only printed")
		cb = &clip.Memory{}
	}

	a := &App{
		cfg:       cfg,
		log:       log,
		username:  cfg.DisplayName(),
		clipboard: cb,
		acq:       acq,
		mgr:       connection.NewManager(cb, connection.WithLogger(log.Named("connection"))),
	}

	if cfg.FeedAddr != "" {
		a.hub = feed.NewHub(a.mgr, log.Named("feed"))
		a.srv = &http.Server{
			Addr:              cfg.FeedAddr,
			Handler:           a.hub.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			log.Info("event feed listening", zap.String("addr", cfg.FeedAddr))
			if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("event feed stopped", zap.Error(err))
			}
		}()
	}
	return a, nil
}

// Handle installs h next to the feed's own callbacks.
func (a *App) Handle(h connection.Handlers) {
	if a.hub != nil {
		h = connection.Tee(a.hub.Handlers(), h)
	}
	a.mgr.SetHandlers(h)
}

// Username is the name announced to the peer.
func (a *App) Username() string { return a.username }

// Share starts a sharing session and returns the share URL.
func (a *App) Share(ctx context.Context) (string, error) {
	return a.mgr.StartSharing(ctx, a.username, a.cfg.rtcConfig(a.username, a.acq))
}

// Watch joins the session behind link. An empty link is read from the
// clipboard, after waiting for one when --wait is set.
func (a *App) Watch(ctx context.Context, link string) (string, error) {
	if link == "" && a.cfg.Wait {
		url, err := a.mgr.WaitForOffer(ctx)
		if err != nil {
			return "", err
		}
		link = url
	}

	sink := a.newVideoSink()
	cfg := a.cfg.rtcConfig(a.username, a.acq)
	if link == "" {
		return a.mgr.JoinSession(ctx, a.username, sink, cfg)
	}
	return a.mgr.JoinURL(ctx, link, a.username, sink, cfg)
}

// AcceptAnswer applies a reply link. An empty link is read from the
// clipboard.
func (a *App) AcceptAnswer(ctx context.Context, link string) error {
	if link == "" {
		return a.mgr.AcceptAnswerURL(ctx)
	}
	return a.mgr.AcceptAnswer(ctx, link)
}

// AutoAccept waits for a reply link in the clipboard and applies it.
func (a *App) AutoAccept(ctx context.Context) error {
	url, err := clip.WaitForURL(ctx, a.clipboard, signal.RoleScreenWatcher)
	if err != nil {
		return err
	}
	return a.mgr.AcceptAnswer(ctx, url)
}

// CopyURL puts url on the clipboard again.
func (a *App) CopyURL(url string) error {
	return a.clipboard.Write(url)
}

// Session returns the running session, or nil.
func (a *App) Session() connection.Session { return a.mgr.Session() }

// Phase returns the manager phase.
func (a *App) Phase() connection.Phase { return a.mgr.Phase() }

// ConnectionType reports direct or relay once connected.
func (a *App) ConnectionType() peer.ConnectionType {
	if s := a.mgr.Session(); s != nil {
		return s.ConnectionType()
	}
	return peer.ConnectionUnknown
}

// Disconnect ends the session.
func (a *App) Disconnect() {
	a.mgr.Disconnect()
	a.closeSink()
}

// Close ends the session and stops the feed.
func (a *App) Close() {
	a.Disconnect()
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := a.srv.Shutdown(ctx); err != nil {
			a.log.Debug("event feed shutdown", zap.Error(err))
		}
	}
	if a.hub != nil {
		a.hub.Close()
	}
}

// newVideoSink picks where the shared screen goes: an explicit recording
// file, a timestamped file in the record dir, or nowhere.
func (a *App) newVideoSink() media.Sink {
	a.closeSink()

	path := a.cfg.RecordPath
	if path == "" && a.cfg.RecordDir != "" {
		path = filepath.Join(a.cfg.RecordDir, "peeplink-"+time.Now().Format("20060102-150405")+".webm")
	}

	var sink media.Sink
	if path != "" {
		a.log.Info("recording shared screen", zap.String("path", path))
		sink = record.NewWebMFile(path, a.log.Named("record"))
	} else {
		sink = media.NewDrainSink(a.log.Named("media.drain"))
	}

	a.mu.Lock()
	a.sink = sink
	a.mu.Unlock()
	return sink
}

func (a *App) closeSink() {
	a.mu.Lock()
	sink := a.sink
	a.sink = nil
	a.mu.Unlock()
	if sink == nil {
		return
	}
	if err := sink.Close(); err != nil {
		a.log.Warn("failed to close video sink", zap.Error(err))
	}
}
