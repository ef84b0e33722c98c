package main

import (
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lattiq/smartmailer"
	"github.com/lattiq/smartmailer/internal/analytics"
)

func analyticsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "analytics",
		Short: "Show tracking counters and email counts per department",
		Args:  cobra.NoArgs,
		RunE:  runAnalytics,
	}
}

func runAnalytics(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	client, err := analytics.New(analytics.Config{
		BaseURL:   cfg.History.BaseURL,
		Token:     cfg.History.Token,
		Timeout:   cfg.History.Timeout,
		UserAgent: smartmailer.GetVersionInfo().UserAgent(),
	})
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	out := cmd.OutOrStdout()

	counter, err := client.TrackingCounter(ctx)
	if err != nil {
		return fmt.Errorf("tracking counter: %w", err)
	}
	fmt.Fprintln(out, "Tracking counter")
	renderTable(out, counter)

	byDept, err := client.EmailCountByDepartment(ctx)
	if err != nil {
		return fmt.Errorf("email count by department: %w", err)
	}
	fmt.Fprintln(out, "Emails by department")
	renderTable(out, byDept)

	return nil
}

func renderTable(w io.Writer, t *analytics.Table) {
	if len(t.Rows) == 0 {
		fmt.Fprintln(w, "(no data)")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader(t.Columns)
	table.SetRowLine(true)
	table.AppendBulk(t.Rows)
	table.Render()
}
