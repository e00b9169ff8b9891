package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/ariyn/relalg/internal/relalg/journal"
)

var historyOpts struct {
	limit int
	show  int64
}

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "list recent sessions from the journal",
	Long: `
Prints the most recent sessions recorded by a manager with the journal
enabled, newest first. --show prints the expression message of one session.
`,
	Args: cobra.NoArgs,
	RunE: runHistory,
}

func init() {
	historyCmd.Flags().IntVarP(&historyOpts.limit, "limit", "n", 20, "number of sessions to list")
	historyCmd.Flags().Int64Var(&historyOpts.show, "show", 0, "print the stored expression of session SEQ")
}

var historyColumnHeaders = []string{
	"seq",
	"started",
	"outcome",
	"expression",
	"tasks",
	"result",
	"duration",
}

func runHistory(cmd *cobra.Command, _ []string) error {
	cfg, err := setup()
	if err != nil {
		return err
	}
	j, err := journal.Open(cfg.Journal.Path)
	if err != nil {
		return err
	}
	defer j.Close()
	ctx := cmd.Context()

	if historyOpts.show > 0 {
		payload, err := j.Payload(ctx, historyOpts.show)
		switch {
		case errors.Is(err, journal.ErrNotFound):
			return fmt.Errorf("no session %d in %s", historyOpts.show, cfg.Journal.Path)
		case errors.Is(err, journal.ErrNoPayload):
			return fmt.Errorf("session %d has no stored expression, enable journal.keep_payloads", historyOpts.show)
		case err != nil:
			return err
		}
		_, err = fmt.Fprintf(os.Stdout, "%s\n", payload)
		return err
	}

	entries, err := j.Recent(ctx, historyOpts.limit)
	if err != nil {
		return err
	}
	printHistory(os.Stdout, entries, time.Now())
	return nil
}

func printHistory(w io.Writer, entries []journal.Entry, now time.Time) {
	table := tablewriter.NewWriter(w)
	table.SetAutoFormatHeaders(false)
	table.SetAutoWrapText(false)
	table.SetHeader(historyColumnHeaders)
	for _, e := range entries {
		result := e.Problem
		if e.Outcome == journal.OutcomeSuccess {
			result = fmt.Sprintf("%s rows", humanize.Comma(int64(e.ResultRows)))
		}
		table.Append([]string{
			strconv.FormatInt(e.Seq, 10),
			humanize.RelTime(e.StartedAt, now, "ago", "from now"),
			string(e.Outcome),
			e.Expression,
			strconv.Itoa(e.Tasks),
			result,
			e.Duration.String(),
		})
	}
	table.Render()
	fmt.Fprintf(w, "(%d session%s)\n", len(entries), plural(len(entries)))
}
