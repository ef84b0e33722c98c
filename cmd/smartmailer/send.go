package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/lattiq/smartmailer"
	"github.com/lattiq/smartmailer/internal/recipients"
)

type sendFlags struct {
	dryRun    bool
	batchSize int
	workers   int
}

func sendCmd() *cobra.Command {
	var flags sendFlags

	cmd := &cobra.Command{
		Use:   "send <source> <group_code> <subject> <template_file>",
		Short: "Send a personalized email to every recipient of a group",
		Long: `Reads recipients from a CSV file with the header email,name,department_code,
keeps those whose department matches group_code ("all" selects everyone) and
sends them the template with #name# and #department# replaced.`,
		Args: cobra.ExactArgs(4),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSend(cmd, args, flags)
		},
	}

	cmd.Flags().BoolVar(&flags.dryRun, "dry-run", false, "list the selected recipients without sending")
	cmd.Flags().IntVar(&flags.batchSize, "batch-size", 0, "override delivery.batch_size")
	cmd.Flags().IntVar(&flags.workers, "workers", 0, "override delivery.workers")

	return cmd
}

func runSend(cmd *cobra.Command, args []string, flags sendFlags) error {
	source, group, subject, templateFile := args[0], args[1], args[2], args[3]

	records, err := recipients.LoadFile(source)
	if err != nil {
		return err
	}

	template, err := smartmailer.LoadTemplate(templateFile)
	if err != nil {
		return err
	}

	if flags.dryRun {
		admission := smartmailer.AdmitRecords(records, group)
		printAdmission(cmd.OutOrStdout(), admission)
		return nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	log, closeLog := newLogger(cfg)
	defer func() {
		if err := closeLog(); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "closing log output: %v\n", err)
		}
	}()
	if flags.batchSize > 0 {
		cfg.Delivery.BatchSize = flags.batchSize
	}
	if flags.workers > 0 {
		cfg.Delivery.Workers = flags.workers
	}

	client, err := smartmailer.New(*cfg, smartmailer.WithLogger(log))
	if err != nil {
		return err
	}
	defer func() {
		if err := client.Close(); err != nil {
			log.Warn().Err(err).Msg("closing client")
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	summary, err := client.Dispatch(ctx, &smartmailer.SendRequest{
		Records:     records,
		TargetGroup: group,
		Subject:     subject,
		Template:    template,
	})
	if err != nil {
		return err
	}

	printSummary(cmd.OutOrStdout(), summary)
	return nil
}

func printAdmission(w io.Writer, a smartmailer.Admission) {
	for _, rej := range a.Rejections {
		fmt.Fprintf(w, "Invalid recipient skipped (row %d): %q: %v\n", rej.Index+1, rej.Email, rej.Err)
	}

	if len(a.Accepted) == 0 {
		fmt.Fprintln(w, "No recipients with matching department code.")
		return
	}

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"#", "Email", "Name", "Department"})
	for i, r := range a.Accepted {
		table.Append([]string{strconv.Itoa(i + 1), r.Email, r.Name, r.GroupCode})
	}
	table.Render()
}

func printSummary(w io.Writer, s *smartmailer.Summary) {
	fmt.Fprintf(w, "Session %s\n", s.SessionID)

	table := tablewriter.NewWriter(w)
	table.SetHeader([]string{"Records", "Rejected", "Admitted", "Selected", "Delivered", "Failed", "Skipped"})
	table.Append([]string{
		strconv.Itoa(s.Total),
		strconv.Itoa(s.Rejected),
		strconv.Itoa(s.Admitted),
		strconv.Itoa(s.Selected),
		strconv.Itoa(s.Delivered),
		strconv.Itoa(s.Failed),
		strconv.Itoa(s.Skipped),
	})
	table.Render()

	if s.Failed == 0 {
		return
	}

	failures := tablewriter.NewWriter(w)
	failures.SetHeader([]string{"Email", "Attempts", "Last error"})
	for _, o := range s.Outcomes {
		if o.Failed() {
			failures.Append([]string{o.Recipient.Email, strconv.Itoa(o.Attempts), o.LastError})
		}
	}
	failures.Render()
}
