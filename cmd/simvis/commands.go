package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/simvis/simvis/pkg/config"
	"github.com/simvis/simvis/pkg/core"
	"github.com/simvis/simvis/pkg/export"
	"github.com/simvis/simvis/pkg/tui"
	"github.com/simvis/simvis/pkg/watch"
)

// Command flags
var (
	modeFlag        string
	outputFlag      string
	previewRows     int
	noProgress      bool
	watchInterval   time.Duration
	metricsAddrFlag string
)

var parsersCmd = &cobra.Command{
	Use:   "parsers",
	Short: "List the registered parsers",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, false, func(_ context.Context, a *app) error {
			var rows [][]string
			for _, p := range a.registry.Parsers() {
				d := p.Descriptor()
				rows = append(rows, []string{d.Name, d.ExpectedFilename, d.Description})
			}
			tui.Table(cmd.OutOrStdout(), []string{"NAME", "FILE", "DESCRIPTION"}, rows)
			return nil
		})
	},
}

var headerCmd = &cobra.Command{
	Use:   "header TARGET...",
	Short: "Show the columns and suggested axes of the targets",
	Example: `  simvis header kohn:/scratch/run1/COLVAR
  simvis header --mode parallel ./lcurve.out ./model_devi.out`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := core.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			req, err := a.request(args, mode)
			if err != nil {
				return err
			}
			h, err := a.extractor.Header(ctx, req)
			if err != nil {
				return err
			}
			printHeader(cmd, h)
			return nil
		})
	},
}

func printHeader(cmd *cobra.Command, h *core.Header) {
	roles := map[int][]string{}
	mark := func(role string, idx []int) {
		for _, i := range idx {
			roles[i] = append(roles[i], role)
		}
	}
	mark("x", h.Axes.X)
	mark("y", h.Axes.Y)
	mark("z", h.Axes.Z)
	mark("t", h.Axes.T)

	rows := make([][]string, len(h.Columns))
	for i, c := range h.Columns {
		rows[i] = []string{strconv.Itoa(i), c, strings.Join(roles[i], ",")}
	}
	tui.Table(cmd.OutOrStdout(), []string{"#", "COLUMN", "AXES"}, rows)
}

var extractCmd = &cobra.Command{
	Use:   "extract TARGET...",
	Short: "Extract the data of the targets into one table",
	Long: `Extract the data of every target and combine the results.

merge stacks files of the same format and adds a "color" column naming each
row's origin. parallel aligns files of different formats row by row.

Without --output a preview is printed. The output format follows the file
extension: .csv, .parquet, .xlsx or .duckdb.`,
	Example: `  simvis extract kohn:/runs/a/COLVAR kohn:/runs/b/COLVAR -o colvar.parquet
  simvis extract --mode parallel lcurve.out model_devi.out -o training.csv
  simvis extract s3://bucket/runs/log.lammps`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := core.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		return withApp(cmd, !noProgress, func(ctx context.Context, a *app) error {
			req, err := a.request(args, mode)
			if err != nil {
				return err
			}
			return runExtract(ctx, cmd, a, req)
		})
	},
}

func runExtract(ctx context.Context, cmd *cobra.Command, a *app, req core.Request) error {
	start := time.Now()
	t, err := a.extractor.Data(ctx, req)
	if a.progress != nil {
		a.progress.Finish()
	}
	if err != nil {
		return err
	}
	defer t.Release()

	out := cmd.OutOrStdout()
	if outputFlag == "" {
		tui.Preview(out, t, previewRows)
		return nil
	}
	if err := export.Write(ctx, t, outputFlag, a.cfg.ExportOptions()); err != nil {
		return err
	}
	tui.Success(out, "wrote %d rows × %d columns to %s in %s",
		t.NumRows(), t.NumCols(), outputFlag, tui.Duration(time.Since(start)))
	return nil
}

var sizeCmd = &cobra.Command{
	Use:   "size TARGET...",
	Short: "Show the total size of the targets",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			req, err := a.request(args, core.ModeMerge)
			if err != nil {
				return err
			}
			n, err := a.extractor.Size(ctx, req)
			if err != nil {
				return err
			}
			tui.Field(cmd.OutOrStdout(), "Size", tui.HumanSize(n))
			return nil
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch TARGET...",
	Short: "Re-extract whenever the targets change",
	Long: `Extract once, then again whenever a target changes. Local files are
watched for writes; remote files are polled for size changes every --interval.

With --metrics-addr, Prometheus metrics are served on /metrics meanwhile.`,
	Example: `  simvis watch kohn:/scratch/run/COLVAR -o colvar.parquet --interval 30s
  simvis watch ./lcurve.out --metrics-addr :9464`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		mode, err := core.ParseMode(modeFlag)
		if err != nil {
			return err
		}
		return withApp(cmd, false, func(ctx context.Context, a *app) error {
			req, err := a.request(args, mode)
			if err != nil {
				return err
			}

			addr := metricsAddrFlag
			if addr == "" && a.cfg.Telemetry.Enabled {
				addr = a.cfg.Telemetry.MetricsAddr
			}
			if addr != "" {
				go func() {
					if err := a.metrics.Serve(ctx, addr); err != nil {
						a.logger.Error("metrics server stopped", "addr", addr, "error", err)
					}
				}()
			}

			if err := runExtract(ctx, cmd, a, req); err != nil {
				tui.Failure(cmd.ErrOrStderr(), err)
			}

			r := watch.NewRefresher(a.fs, req, watch.Config{
				Interval: watchInterval,
				IsLocal:  a.fs.IsLocal,
			}, a.logger)
			r.OnRefresh = func(ctx context.Context) error {
				return runExtract(ctx, cmd, a, req)
			}
			err = r.Run(ctx)
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		m := config.NewManager()
		if err := m.Load(); err != nil {
			return err
		}
		if configFile != "" {
			if err := m.LoadFile(configFile); err != nil {
				return err
			}
		}
		data, err := m.Dump()
		if err != nil {
			return err
		}
		for _, p := range m.GetPaths() {
			fmt.Fprintf(cmd.OutOrStdout(), "# loaded %s\n", p)
		}
		_, err = cmd.OutOrStdout().Write(data)
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{headerCmd, extractCmd, watchCmd} {
		c.Flags().StringVarP(&modeFlag, "mode", "m", "merge", "How to combine targets: merge or parallel")
	}
	for _, c := range []*cobra.Command{extractCmd, watchCmd} {
		c.Flags().StringVarP(&outputFlag, "output", "o", "", "Write the table to this file (.csv, .parquet, .xlsx, .duckdb)")
		c.Flags().IntVar(&previewRows, "rows", 10, "Rows to preview when no output file is given")
	}
	extractCmd.Flags().BoolVar(&noProgress, "no-progress", false, "Do not draw a progress bar")

	watchCmd.Flags().DurationVar(&watchInterval, "interval", watch.DefaultConfig().Interval, "Poll interval for remote targets")
	watchCmd.Flags().StringVar(&metricsAddrFlag, "metrics-addr", "", "Serve Prometheus metrics on this address")

	rootCmd.AddCommand(parsersCmd)
	rootCmd.AddCommand(headerCmd)
	rootCmd.AddCommand(extractCmd)
	rootCmd.AddCommand(sizeCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(configCmd)
}
