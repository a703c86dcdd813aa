package main

import (
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/dgnsrekt/kwitch/internal/store"
	"github.com/samber/lo"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Show or change daemon settings",
}

var settingsGetCmd = &cobra.Command{
	Use:   "get",
	Short: "Print the current settings",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()

		s, err := newClient().Settings(ctx)
		if err != nil {
			return err
		}
		return printSettings(cmd.OutOrStdout(), s)
	},
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change one or more settings",
	Example: `  kwitch settings set --interval 30
  kwitch settings set --popout=false --position below_recommended`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		patch, err := patchFromFlags(cmd.Flags())
		if err != nil {
			return err
		}
		ctx, cancel := commandContext(cmd)
		defer cancel()

		s, err := newClient().UpdateSettings(ctx, patch)
		if err != nil {
			return err
		}
		return printSettings(cmd.OutOrStdout(), s)
	},
}

// patchFromFlags builds a patch from the flags the user actually set.
func patchFromFlags(fs *pflag.FlagSet) (store.SettingsPatch, error) {
	var patch store.SettingsPatch
	changed := 0
	if fs.Changed("interval") {
		v, _ := fs.GetInt("interval")
		if v <= 0 {
			return patch, fmt.Errorf("--interval must be positive, got %d", v)
		}
		patch.PollingIntervalSeconds = lo.ToPtr(v)
		changed++
	}
	for name, field := range map[string]**bool{
		"embed":        &patch.EmbedEnabled,
		"popout":       &patch.PopoutEnabled,
		"show-offline": &patch.ShowOfflineChannels,
	} {
		if fs.Changed(name) {
			v, _ := fs.GetBool(name)
			*field = lo.ToPtr(v)
			changed++
		}
	}
	if fs.Changed("position") {
		v, _ := fs.GetString("position")
		if !store.ValidPosition(v) {
			return patch, fmt.Errorf("--position must be one of %s", strings.Join(positions, ", "))
		}
		patch.PanelPosition = lo.ToPtr(v)
		changed++
	}
	if changed == 0 {
		return patch, fmt.Errorf("no settings given")
	}
	return patch, nil
}

var positions = []string{
	store.PositionAboveFollowed,
	store.PositionBelowFollowed,
	store.PositionBelowLive,
	store.PositionBelowRecommended,
}

func printSettings(out io.Writer, s store.Settings) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "interval\t%ds\n", s.PollingIntervalSeconds)
	fmt.Fprintf(w, "embed\t%t\n", s.EmbedEnabled)
	fmt.Fprintf(w, "popout\t%t\n", s.PopoutEnabled)
	fmt.Fprintf(w, "show-offline\t%t\n", s.ShowOfflineChannels)
	fmt.Fprintf(w, "position\t%s\n", s.PanelPosition)
	return w.Flush()
}

func init() {
	f := settingsSetCmd.Flags()
	f.Int("interval", 0, "polling interval in seconds")
	f.Bool("embed", true, "open channels in a new tab")
	f.Bool("popout", true, "open channels in a popup window")
	f.Bool("show-offline", true, "list offline channels in the panel")
	f.String("position", "", "panel position: "+strings.Join(positions, ", "))

	settingsCmd.AddCommand(settingsGetCmd, settingsSetCmd)
	rootCmd.AddCommand(settingsCmd)
}
