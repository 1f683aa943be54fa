package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runningwild/vbench/pkg/logging"
)

var (
	settingsFile string
	logLevel     string
)

var rootCmd = &cobra.Command{
	Use:   "vbench",
	Short: "Benchmark harness for Valkey",
	Long: `vbench builds Valkey at one or more commits, runs valkey-benchmark against it
according to a config file, and records the results per commit.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		setupLogging()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&settingsFile, "settings", "", "settings file for flag defaults (yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	rootCmd.AddCommand(runCmd, validateCmd, compareCmd, kneeCmd, pushCmd, uploadCmd)
}

// initConfig lets VBENCH_* environment variables and an optional settings file
// supply any flag bound through viper.
func initConfig() {
	if settingsFile != "" {
		viper.SetConfigFile(settingsFile)
		if err := viper.ReadInConfig(); err != nil {
			fmt.Fprintf(os.Stderr, "reading settings %s: %v\n", settingsFile, err)
		}
	}
	viper.SetEnvPrefix("vbench")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

func setupLogging() {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: logging.ParseLevel(logLevel)})
	slog.SetDefault(slog.New(handler))
}

// bindFlags makes viper the source of truth for a command's flags.
func bindFlags(cmd *cobra.Command) {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		panic(err)
	}
}
