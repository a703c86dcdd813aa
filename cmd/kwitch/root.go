package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/dgnsrekt/kwitch/internal/popup"
	homedir "github.com/mitchellh/go-homedir"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "kwitch",
	Short: "Track Kick channels from the terminal.",
	Long: `kwitch talks to a running kwitchd: edit the watch-list, force a poll,
change settings, open a channel in the browser or follow live status.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setupLogger(viper.GetString("loglevel"))
	},
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.kwitch.yaml)")
	rootCmd.PersistentFlags().StringP("server", "s", popup.DefaultServer, "kwitchd base URL")
	rootCmd.PersistentFlags().StringP("loglevel", "l", "info", "log level: debug, info, warn, error")

	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))
	_ = viper.BindPFlag("loglevel", rootCmd.PersistentFlags().Lookup("loglevel"))
}

// initConfig reads in config file and ENV variables if set.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := homedir.Dir()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		viper.AddConfigPath(home)
		viper.SetConfigName(".kwitch")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("KWITCH")
	viper.AutomaticEnv()
	viper.SetDefault("server", popup.DefaultServer)
	viper.SetDefault("loglevel", "info")

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			fmt.Fprintf(os.Stderr, "config file not read: %v\n", err)
		}
	}
}

func newClient() *popup.Client {
	return popup.NewClient(viper.GetString("server"))
}

// commandContext is cancelled on SIGINT or SIGTERM.
func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
}

// setupLogger writes to a rotating file only so command output and the
// popup screen stay clean.
func setupLogger(level string) error {
	home, err := homedir.Dir()
	if err != nil {
		return err
	}
	dir := filepath.Join(home, ".kwitch", "logs")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	var out io.Writer = &lumberjack.Logger{
		Filename:   filepath.Join(dir, "kwitch.log"),
		MaxSize:    5,
		MaxBackups: 3,
		MaxAge:     14,
		Compress:   true,
	}

	var slogLevel slog.Level
	switch level {
	case "debug":
		slogLevel = slog.LevelDebug
	case "warn":
		slogLevel = slog.LevelWarn
	case "error":
		slogLevel = slog.LevelError
	default:
		slogLevel = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: slogLevel})))
	return nil
}
