package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"trackweave/internal/session"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var outputPath string

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show download progress for an output target's session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if strings.TrimSpace(outputPath) == "" {
				return fmt.Errorf("--output is required")
			}

			marker, records, err := session.Inspect(cmd.Context(), cfg, outputPath)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "session %s\n", marker.SessionID)
			fmt.Fprintf(out, "target  %s\n", marker.TargetPath)
			fmt.Fprintf(out, "started %s\n", marker.StartedAt.Local().Format("2006-01-02 15:04:05"))
			if len(records) == 0 {
				fmt.Fprintln(out, "no variant progress recorded yet")
				return nil
			}

			headers := []string{"TRACK", "STATUS", "SEGMENTS", "DETAIL"}
			rows := make([][]string, 0, len(records))
			for _, rec := range records {
				rows = append(rows, []string{
					rec.Label,
					string(rec.Status),
					fmt.Sprintf("%d/%d", rec.Written, rec.SegmentCount),
					rec.Detail,
				})
			}
			fmt.Fprintln(out, renderTable(headers, rows, []columnAlignment{alignLeft, alignLeft, alignRight, alignLeft}))
			return nil
		},
	}

	cmd.Flags().StringVarP(&outputPath, "output", "o", "", "Output container path the session was started with")
	return cmd
}
