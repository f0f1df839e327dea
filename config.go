package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/cursor"
	"github.com/tomaslejdung/peeplink/pkg/media/devices"
	"github.com/tomaslejdung/peeplink/pkg/peer"
	"github.com/tomaslejdung/peeplink/pkg/rtc"
	"github.com/tomaslejdung/peeplink/pkg/settings"
)

// Config holds runtime configuration: stored settings overridden by flags.
type Config struct {
	settings.UserSettings

	Verbose  bool
	LogFile  string
	NoTUI    bool
	FeedAddr string

	// share
	AutoAccept bool
	Quality    string
	FPS        string
	// watch
	Wait       bool
	RecordPath string
}

// bindFlags registers the flags shared by share and watch.
func bindFlags(cmd *cobra.Command, cfg *Config) {
	f := cmd.PersistentFlags()
	f.StringVarP(&cfg.Username, "username", "u", cfg.Username, "name shown to the other side (default: stored or generated)")
	f.BoolVarP(&cfg.Verbose, "verbose", "v", false, "debug logging")
	f.StringVar(&cfg.LogFile, "log-file", "", "write logs here (default: peeplink.log in the temp dir while the TUI runs)")
	f.BoolVar(&cfg.NoTUI, "no-tui", false, "plain output, URLs on stdout, answers read from stdin")
	f.StringVar(&cfg.FeedAddr, "feed", "", "serve the event feed on this address, e.g. 127.0.0.1:7777")

	// TURN server flags
	f.StringSliceVar(&cfg.STUNServers, "stun", cfg.STUNServers, "STUN server URLs (replaces the defaults)")
	f.StringVar(&cfg.TURNServer, "turn", cfg.TURNServer, "TURN server URL (e.g., turn:turn.example.com:3478)")
	f.StringVar(&cfg.TURNUser, "turn-user", cfg.TURNUser, "TURN server username")
	f.StringVar(&cfg.TURNPass, "turn-pass", cfg.TURNPass, "TURN server password")
	f.BoolVar(&cfg.ForceRelay, "force-relay", cfg.ForceRelay, "Force TURN relay (disable direct P2P)")
	f.IntVar(&cfg.GatherTimeoutMS, "gather-timeout", cfg.GatherTimeoutMS, "ICE gathering timeout in milliseconds")

	f.BoolVar(&cfg.MicEnabled, "mic", cfg.MicEnabled, "start with the microphone enabled")
	f.BoolVar(&cfg.CursorsEnabled, "cursors", cfg.CursorsEnabled, "exchange cursor positions")
}

func (c Config) validate() error {
	if c.ForceRelay && c.TURNServer == "" {
		return fmt.Errorf("--force-relay needs --turn")
	}
	if c.GatherTimeoutMS < 0 {
		return fmt.Errorf("--gather-timeout must not be negative")
	}
	_, err := c.deviceConfig(nil)
	return err
}

// deviceConfig maps --quality and --fps onto capture settings.
func (c Config) deviceConfig(log *zap.Logger) (devices.Config, error) {
	dc := devices.DefaultConfig()
	dc.Logger = log

	q, err := devices.QualityByName(c.Quality)
	if err != nil {
		return dc, err
	}
	dc.BitRate = q.Bitrate * 1000

	if c.FPS != "" {
		fps, err := devices.ParseFPS(c.FPS)
		if err != nil {
			return dc, err
		}
		dc.FrameRate = fps
	}
	return dc, nil
}

func (c Config) iceConfig() peer.ICEConfig {
	return peer.ICEConfig{
		STUNServers: c.STUNServers,
		TURNServer:  c.TURNServer,
		TURNUser:    c.TURNUser,
		TURNPass:    c.TURNPass,
		ForceRelay:  c.ForceRelay,
	}
}

// rtcConfig builds the per-session configuration. The cursor identity is
// regenerated per session.
func (c Config) rtcConfig(username string, acq *devices.Acquirer) rtc.Config {
	return rtc.Config{
		Username:       username,
		Identity:       cursor.NewIdentity(username, c.CursorColor),
		StartMuted:     !c.MicEnabled,
		CursorsEnabled: c.CursorsEnabled,
		ICE:            c.iceConfig(),
		GatherTimeout:  c.GatherTimeout(),
		API:            acq.API(),
		Acquirer:       acq,
	}
}
