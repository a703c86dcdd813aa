package main

import (
	"fmt"
	"io"
	"time"

	"github.com/dgnsrekt/kwitch/internal/controller"
	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/message"
	"github.com/dgnsrekt/kwitch/internal/popup"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var popupCmd = &cobra.Command{
	Use:   "popup",
	Short: "Open the interactive channel list",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		return popup.Run(ctx, newClient())
	},
}

var followCmd = &cobra.Command{
	Use:   "follow",
	Short: "Print live status as the daemon broadcasts it",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		attempts, _ := cmd.Flags().GetUint("attempts")
		delay, _ := cmd.Flags().GetDuration("delay")
		ctx, cancel := commandContext(cmd)
		defer cancel()

		out := cmd.OutOrStdout()
		return newClient().Follow(ctx, attempts, delay, func(env message.Envelope) {
			printUpdate(out, time.Now(), env)
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		h, err := newClient().Health(ctx)
		if err != nil {
			return err
		}
		printHealth(cmd.OutOrStdout(), h)
		return nil
	},
}

// printUpdate writes one line per broadcast carrying channels.
func printUpdate(out io.Writer, at time.Time, env message.Envelope) {
	if !env.Type.CarriesChannels() {
		return
	}
	live := lo.FilterMap(env.Channels, func(c kick.Channel, _ int) (string, bool) {
		return fmt.Sprintf("%s (%d)", c.DisplayName, c.Viewers()), c.IsLive
	})
	fmt.Fprintf(out, "%s  %d channels, %s", at.Format("15:04:05"), len(env.Channels), popup.LiveSummary(env.Channels))
	if len(live) > 0 {
		fmt.Fprintf(out, ": %v", live)
	}
	fmt.Fprintln(out)
}

func printHealth(out io.Writer, h controller.Health) {
	fmt.Fprintf(out, "status       %s\n", h.Status)
	fmt.Fprintf(out, "interval     %ds\n", h.IntervalSeconds)
	fmt.Fprintf(out, "subscribers  %d\n", h.Subscribers)
	fmt.Fprintf(out, "in flight    %d\n", h.InFlight)
	fmt.Fprintf(out, "tabs         %d\n", len(h.Tabs))
	if c := h.LastCycle; c != nil {
		fmt.Fprintf(out, "last cycle   %s (%dms, %d channels, %d live, %d failed)\n",
			c.StartedAt.Local().Format(time.DateTime), c.DurationMS, c.Count, c.Live, len(c.Failed))
	}
}

func init() {
	followCmd.Flags().Uint("attempts", 0, "reconnect attempts, 0 retries until interrupted")
	followCmd.Flags().Duration("delay", 2*time.Second, "delay between reconnects")

	rootCmd.AddCommand(popupCmd, followCmd, statusCmd)
}
