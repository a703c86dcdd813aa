package main

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dgnsrekt/kwitch/internal/kick"
	"github.com/dgnsrekt/kwitch/internal/popup"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
)

var channelsCmd = &cobra.Command{
	Use:     "channels",
	Aliases: []string{"ls"},
	Short:   "List watched channels with their cached live status",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		liveOnly, _ := cmd.Flags().GetBool("live")
		ctx, cancel := commandContext(cmd)
		defer cancel()

		chs, err := newClient().Channels(ctx)
		if err != nil {
			return err
		}
		if liveOnly {
			chs = lo.Filter(chs, func(c kick.Channel, _ int) bool { return c.IsLive })
		}
		return printChannels(cmd.OutOrStdout(), chs)
	},
}

var addCmd = &cobra.Command{
	Use:   "add <slug|url>...",
	Short: "Add channels to the watch-list",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c := newClient()
		for _, arg := range args {
			slug := popup.Normalize(arg)
			if slug == "" {
				return fmt.Errorf("invalid channel %q", arg)
			}
			res, err := c.AddChannel(ctx, slug)
			if err != nil {
				return err
			}
			if res.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "added %s\n", slug)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s is already on the watch-list\n", slug)
			}
		}
		return nil
	},
}

var removeCmd = &cobra.Command{
	Use:     "remove <slug>...",
	Aliases: []string{"rm"},
	Short:   "Remove channels from the watch-list",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c := newClient()
		for _, arg := range args {
			slug := popup.Normalize(arg)
			res, err := c.RemoveChannel(ctx, slug)
			if err != nil {
				return err
			}
			if res.Changed {
				fmt.Fprintf(cmd.OutOrStdout(), "removed %s\n", slug)
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "%s was not on the watch-list\n", slug)
			}
		}
		return nil
	},
}

var refreshCmd = &cobra.Command{
	Use:   "refresh",
	Short: "Force an immediate poll",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		wait, _ := cmd.Flags().GetDuration("wait")
		ctx, cancel := commandContext(cmd)
		defer cancel()

		c := newClient()
		if err := c.Refresh(ctx); err != nil {
			return err
		}
		if wait <= 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "refreshing")
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		chs, err := c.Channels(ctx)
		if err != nil {
			return err
		}
		return printChannels(cmd.OutOrStdout(), chs)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <slug>",
	Short: "Open a channel in the attached browser",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		slug := popup.Normalize(args[0])
		if err := newClient().Watch(ctx, slug); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "opened %s\n", kick.WatchURL(slug))
		return nil
	},
}

// printChannels writes one row per channel.
func printChannels(out io.Writer, chs []kick.Channel) error {
	if len(chs) == 0 {
		_, err := fmt.Fprintln(out, "No channels added yet")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CHANNEL\tSTATUS\tCATEGORY\tTITLE")
	for _, c := range chs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			c.DisplayName,
			popup.LiveText(c),
			lo.FromPtrOr(c.Category, "-"),
			truncate(lo.FromPtrOr(c.Title, "-"), 60),
		)
	}
	fmt.Fprintf(w, "\n%s\n", popup.LiveSummary(chs))
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}

func init() {
	channelsCmd.Flags().Bool("live", false, "only show live channels")
	refreshCmd.Flags().Duration("wait", 0, "wait this long, then print the refreshed channels")

	rootCmd.AddCommand(channelsCmd, addCmd, removeCmd, refreshCmd, watchCmd)
}
