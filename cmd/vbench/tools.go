package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/runningwild/vbench/pkg/config"
	"github.com/runningwild/vbench/pkg/export"
	"github.com/runningwild/vbench/pkg/metrics"
	"github.com/runningwild/vbench/pkg/stats"
)

var validateCmd = &cobra.Command{
	Use:   "validate <config>",
	Short: "Load and validate a benchmark config file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfgs, err := config.Load(args[0])
		if err != nil {
			return err
		}
		for i, c := range cfgs {
			fmt.Fprintf(cmd.OutOrStdout(), "entry %d: %s, ports %v\n", i, c.Shape(), c.ActivePorts())
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s: %d valid entries\n", args[0], len(cfgs))
		return nil
	},
}

var compareCmd = &cobra.Command{
	Use:   "compare <baseline> <candidate> [out]",
	Short: "Compare two metrics files as a markdown table",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		base, err := metrics.ReadFile(metricsPath(args[0]))
		if err != nil {
			return err
		}
		cand, err := metrics.ReadFile(metricsPath(args[1]))
		if err != nil {
			return err
		}
		var w io.Writer = cmd.OutOrStdout()
		if len(args) == 3 {
			f, err := os.Create(args[2])
			if err != nil {
				return err
			}
			defer f.Close()
			w = io.MultiWriter(w, f)
		}
		return stats.WriteMarkdown(w, stats.Compare(base, cand), stats.Version(base), stats.Version(cand))
	},
}

var kneeCmd = &cobra.Command{
	Use:   "knee <metrics.json|commit dir>",
	Short: "Find the client count where throughput saturates in a sweep",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		recs, err := metrics.ReadFile(metricsPath(args[0]))
		if err != nil {
			return err
		}
		curves := stats.Saturation(recs)
		if len(curves) == 0 {
			fmt.Fprintln(cmd.OutOrStdout(), "No configuration was swept over three or more client counts.")
			return nil
		}
		return stats.WriteSaturation(cmd.OutOrStdout(), curves)
	},
}

var pushCmd = &cobra.Command{
	Use:   "push <metrics.json|commit dir>...",
	Short: "Push recorded metrics to a Prometheus Pushgateway",
	Args:  cobra.MinimumNArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var recs []*metrics.Record
		for _, a := range args {
			r, err := metrics.ReadFile(metricsPath(a))
			if err != nil {
				return err
			}
			recs = append(recs, r...)
		}
		if viper.GetBool("dry-run") {
			return export.WriteText(cmd.OutOrStdout(), recs)
		}
		gateway := viper.GetString("gateway")
		if gateway == "" {
			return fmt.Errorf("--gateway is required unless --dry-run is set")
		}
		if err := export.Push(gateway, viper.GetString("job"), recs); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Pushed %d records to %s\n", len(recs), gateway)
		return nil
	},
}

var uploadCmd = &cobra.Command{
	Use:   "upload <commit dir>...",
	Short: "Upload result directories to S3",
	Args:  cobra.MinimumNArgs(1),
	PreRun: func(cmd *cobra.Command, args []string) {
		bindFlags(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		bucket := viper.GetString("bucket")
		if bucket == "" {
			return fmt.Errorf("--bucket is required")
		}
		u, err := export.NewUploader(ctx, viper.GetString("region"), bucket, viper.GetString("prefix"))
		if err != nil {
			return err
		}
		for _, dir := range args {
			n, err := u.UploadDir(ctx, dir)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Uploaded %d files from %s\n", n, dir)
		}
		return nil
	},
}

func init() {
	pushCmd.Flags().String("gateway", "", "Pushgateway URL")
	pushCmd.Flags().String("job", "vbench", "Pushgateway job name")
	pushCmd.Flags().Bool("dry-run", false, "print metrics instead of pushing")

	uploadCmd.Flags().String("bucket", "", "destination bucket")
	uploadCmd.Flags().String("prefix", "", "key prefix")
	uploadCmd.Flags().String("region", "", "AWS region (default from the environment)")
}

// metricsPath accepts either a metrics file or the commit directory holding one.
func metricsPath(p string) string {
	if fi, err := os.Stat(p); err == nil && fi.IsDir() {
		return filepath.Join(p, metrics.FileName)
	}
	return p
}
