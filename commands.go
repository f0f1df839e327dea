package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tomaslejdung/peeplink/pkg/settings"
	"github.com/tomaslejdung/peeplink/pkg/signal"
)

func newDecodeCmd() *cobra.Command {
	var showSDP bool
	cmd := &cobra.Command{
		Use:   "decode <link>",
		Short: "Show what a share or reply link carries",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := signal.Inspect(args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "role:      %s (%s)\n", info.Payload.Role, info.Payload.Role.Action())
			fmt.Fprintf(out, "username:  %s\n", info.Payload.Username)
			fmt.Fprintf(out, "sdp type:  %s\n", info.Payload.SDP.Type)
			fmt.Fprintf(out, "sdp bytes: %d\n", len(info.Payload.SDP.SDP))
			fmt.Fprintf(out, "token:     %s, %d bytes\n", info.TokenScheme, info.TokenBytes)
			fmt.Fprintf(out, "url chars: %d\n", info.URLLength)
			for _, w := range info.OverLimits() {
				fmt.Fprintf(out, "warning:   %s\n", w)
			}
			if showSDP {
				fmt.Fprintln(out)
				fmt.Fprintln(out, strings.ReplaceAll(info.Payload.SDP.SDP, "\r\n", "\n"))
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&showSDP, "sdp", false, "print the session description")
	return cmd
}

func newSettingsCmd(cfg *Config) *cobra.Command {
	var save bool
	cmd := &cobra.Command{
		Use:   "settings",
		Short: "Show the stored settings, or store the given flags with --save",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := settings.ConfigPath()
			if err != nil {
				return fmt.Errorf("failed to get config path: %w", err)
			}
			if save {
				if err := cfg.validate(); err != nil {
					return err
				}
				if err := settings.SaveTo(path, cfg.UserSettings); err != nil {
					return err
				}
				fmt.Fprintf(os.Stderr, "saved %s\n", path)
			}

			fmt.Fprintf(os.Stderr, "# %s\n", path)
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(cfg.UserSettings)
		},
	}
	cmd.Flags().BoolVar(&save, "save", false, "write the settings, including flag overrides, to the config file")
	bindFlags(cmd, cfg)
	return cmd
}
