package main

import (
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"

	"trackweave/internal/catalog"
	"trackweave/internal/pipeline"
)

func newFetchCommand(ctx *commandContext) *cobra.Command {
	opts := &fetchOptions{}

	cmd := &cobra.Command{
		Use:   "fetch <episode-id>",
		Short: "Download, align, and mux an episode's tracks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, ctx, opts, args[0])
		},
	}
	opts.register(cmd)
	cmd.Flags().BoolVar(&opts.resume, "resume", false, "Reuse a previous session's downloaded segments")
	return cmd
}

func newResumeCommand(ctx *commandContext) *cobra.Command {
	opts := &fetchOptions{resume: true}

	cmd := &cobra.Command{
		Use:   "resume <episode-id>",
		Short: "Resume an interrupted fetch for the same output target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd, ctx, opts, args[0])
		},
	}
	opts.register(cmd)
	return cmd
}

type fetchOptions struct {
	manifestPath string
	outputPath   string
	locales      []string
	resume       bool
	force        bool
	noProgress   bool
}

func (o *fetchOptions) register(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&o.manifestPath, "manifest", "m", "", "Catalog manifest file (required)")
	cmd.Flags().StringVarP(&o.outputPath, "output", "o", "", "Output container path (required)")
	cmd.Flags().StringSliceVarP(&o.locales, "locale", "l", nil, "Locales to include, in preference order (default: all)")
	cmd.Flags().BoolVar(&o.force, "force", false, "Overwrite an existing output file")
	cmd.Flags().BoolVar(&o.noProgress, "no-progress", false, "Disable the download progress bar")
	_ = cmd.MarkFlagRequired("manifest")
	_ = cmd.MarkFlagRequired("output")
}

func runFetch(cmd *cobra.Command, ctx *commandContext, opts *fetchOptions, episodeID string) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	logger, err := ctx.ensureLogger()
	if err != nil {
		return err
	}

	svc, err := catalog.LoadManifest(opts.manifestPath)
	if err != nil {
		return err
	}

	pipeOpts := []pipeline.Option{}
	var bar *progressbar.ProgressBar
	if !opts.noProgress {
		bar = progressbar.NewOptions64(-1,
			progressbar.OptionSetDescription("downloading"),
			progressbar.OptionSetWriter(os.Stderr),
			progressbar.OptionShowCount(),
			progressbar.OptionSetItsString("seg"),
			progressbar.OptionSpinnerType(14),
		)
		pipeOpts = append(pipeOpts, pipeline.WithProgress(func(string, int, int) {
			_ = bar.Add(1)
		}))
	}

	p, err := pipeline.New(cfg, svc, logger, pipeOpts...)
	if err != nil {
		return err
	}

	runCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	report, err := p.Run(runCtx, pipeline.Request{
		EpisodeID:  episodeID,
		Locales:    opts.locales,
		OutputPath: opts.outputPath,
		Resume:     opts.resume,
		Force:      opts.force,
	})
	if bar != nil {
		_ = bar.Finish()
		fmt.Fprintln(os.Stderr)
	}
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "wrote %s\n", report.OutputPath)
	fmt.Fprint(cmd.OutOrStdout(), renderReport(report))
	return nil
}

func renderReport(report *pipeline.Report) string {
	headers := []string{"TRACK", "LOCALE", "OFFSET", "CONFIDENCE", "NOTE"}
	rows := make([][]string, 0, len(report.Tracks))
	for _, tr := range report.Tracks {
		note := ""
		if tr.Fallback {
			note = "low confidence, kept original timing"
		}
		confidence := ""
		if tr.Kind == "audio" {
			confidence = fmt.Sprintf("%.2f", tr.Confidence)
		}
		rows = append(rows, []string{
			tr.Label,
			tr.Locale,
			formatOffset(tr.Offset),
			confidence,
			note,
		})
	}
	return renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignRight, alignLeft}) + "\n"
}

func formatOffset(d time.Duration) string {
	if d == 0 {
		return "-"
	}
	sign := "+"
	if d < 0 {
		sign = "-"
		d = -d
	}
	return sign + strings.TrimSuffix(d.Round(time.Millisecond).String(), "0s")
}
