package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/tomaslejdung/peeplink/pkg/media/devices"
	"github.com/tomaslejdung/peeplink/pkg/settings"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	stored, err := settings.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: could not read settings: %v\n", err)
	}
	cfg := &Config{UserSettings: stored}

	root := &cobra.Command{
		Use:   "peeplink",
		Short: "Serverless P2P screen sharing over copy-pasted links",
		Long: `peeplink shares a screen between two machines without any signaling server.

The sharer runs "peeplink share" and sends the copied link to the watcher by
any channel (chat, mail). The watcher runs "peeplink watch" with the link in
the clipboard and sends back the reply link it produces. The sharer pastes
that reply and the session connects directly.`,
		SilenceUsage: true,
	}

	share := &cobra.Command{
		Use:   "share",
		Short: "Share this screen and copy the invitation link",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), *cfg, modeShare, "")
		},
	}
	share.Flags().BoolVar(&cfg.AutoAccept, "auto-accept", false, "apply the watcher's reply as soon as it shows up in the clipboard")
	share.Flags().StringVarP(&cfg.Quality, "quality", "q", "medium", "video quality: "+strings.Join(devices.QualityNames(), ", "))
	share.Flags().StringVar(&cfg.FPS, "fps", "30", fmt.Sprintf("capture frame rate (presets %v)", devices.FPSPresets))
	bindFlags(share, cfg)

	watch := &cobra.Command{
		Use:   "watch [link]",
		Short: "Join a shared screen from a link (argument or clipboard)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			link := ""
			if len(args) == 1 {
				link = args[0]
			}
			return run(cmd.Context(), *cfg, modeWatch, link)
		},
	}
	watch.Flags().BoolVar(&cfg.Wait, "wait", false, "wait until a share link shows up in the clipboard")
	watch.Flags().StringVar(&cfg.RecordPath, "record", "", "record the shared screen to this .webm file")
	bindFlags(watch, cfg)

	root.AddCommand(share, watch, newDecodeCmd(), newSettingsCmd(cfg))
	return root
}

type mode int

const (
	modeShare mode = iota
	modeWatch
)

func run(ctx context.Context, cfg Config, m mode, link string) error {
	if err := cfg.validate(); err != nil {
		return err
	}
	tui := !cfg.NoTUI
	log, err := newLogger(cfg, tui)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Sync()
	undo := zap.ReplaceGlobals(log)
	defer undo()

	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := newApp(cfg, log)
	if err != nil {
		return err
	}
	defer app.Close()

	if tui {
		return RunTUI(ctx, app, m, link)
	}
	return runHeadless(ctx, app, m, link)
}
