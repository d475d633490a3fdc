package main

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/wndlink/wndlink/pkg/app"
	domainlog "github.com/wndlink/wndlink/pkg/domain/logbook"
	"github.com/wndlink/wndlink/pkg/infrastructure/persistence"
	"github.com/wndlink/wndlink/pkg/logbook"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect or edit the stored logs of the configured user",
	Long: `Work on the log store directly, without a running app context.

Examples:
  wndlink logs list
  wndlink logs list --records
  wndlink logs add WRN "quota at 90%"
  wndlink logs rm 01890f3e-7c1a-7d2e-9b1f-3f2a7c9d0e11`,
}

var logsListRecords bool

var logsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List log containers",
	RunE:  runLogsList,
}

var logsAddCmd = &cobra.Command{
	Use:   "add <category> <details...>",
	Short: "Add a log entry (categories: CRT APP SVR WRN INF DBG LOG ACT NAV)",
	Args:  cobra.MinimumNArgs(2),
	RunE:  runLogsAdd,
}

var logsRmCmd = &cobra.Command{
	Use:   "rm <logId>",
	Short: "Remove the container with the given logId",
	Args:  cobra.ExactArgs(1),
	RunE:  runLogsRm,
}

func init() {
	logsListCmd.Flags().BoolVar(&logsListRecords, "records", false, "Print every record")
	logsCmd.AddCommand(logsListCmd)
	logsCmd.AddCommand(logsAddCmd)
	logsCmd.AddCommand(logsRmCmd)
}

func openLogbook() (*logbook.Accumulator, func() error, error) {
	store, closeFn, err := persistence.Open(cfg.Storage.Driver, cfg.Storage.Path)
	if err != nil {
		return nil, closeFn, fmt.Errorf("open %s store: %w", cfg.Storage.Driver, err)
	}
	ns := persistence.NewNamespace(store, cfg.App.ID, cfg.App.UserID)
	return logbook.New(ns, app.LogbookOptions(cfg), nil, nil), closeFn, nil
}

func runLogsList(cmd *cobra.Command, args []string) error {
	logs, closeFn, err := openLogbook()
	if err != nil {
		return err
	}
	defer closeFn()

	containers := logs.Containers()
	if len(containers) == 0 {
		fmt.Println("No logs stored.")
		return nil
	}

	categories := make([]domainlog.Category, 0, len(containers))
	for c := range containers {
		categories = append(categories, c)
	}
	sort.Slice(categories, func(i, j int) bool { return categories[i] < categories[j] })

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tLOG ID\tRECORDS\tSENT\tOLDEST")
	for _, category := range categories {
		c := containers[category]
		oldest := "-"
		if r, ok := c.Oldest(); ok {
			oldest = r.Time.Local().Format(time.DateTime)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%v\t%s\n", category, c.LogID, len(c.Logs), c.Sent, oldest)
	}
	w.Flush()

	if logsListRecords {
		for _, category := range categories {
			for _, r := range containers[category].Logs {
				fmt.Printf("%s %s %s\n", r.Time.Local().Format(time.DateTime), category, r.Details)
			}
		}
	}
	return nil
}

func runLogsAdd(cmd *cobra.Command, args []string) error {
	logs, closeFn, err := openLogbook()
	if err != nil {
		return err
	}
	defer closeFn()

	category := domainlog.Category(strings.ToUpper(args[0]))
	if err := logs.AddLog(category, strings.Join(args[1:], " ")); err != nil {
		return err
	}
	fmt.Printf("Added %s log.\n", category.Label())
	return nil
}

func runLogsRm(cmd *cobra.Command, args []string) error {
	logs, closeFn, err := openLogbook()
	if err != nil {
		return err
	}
	defer closeFn()

	if !logs.RemoveLogByID(args[0]) {
		return fmt.Errorf("no log container with id %s", args[0])
	}
	fmt.Println("Removed.")
	return nil
}
