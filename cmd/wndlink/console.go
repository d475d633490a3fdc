package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/wndlink/wndlink/pkg/app"
	"github.com/wndlink/wndlink/pkg/domain/message"
)

var consoleCmd = &cobra.Command{
	Use:   "console",
	Short: "Interactive shell on an in-process app context",
	Long: `Start an app context with an in-process companion and drive it by
hand. Type 'help' for the commands.`,
	RunE: runConsole,
}

const consoleHelp = `Commands:
  add <category> <details...>   add a log entry
  send <type> [json payload]    send a request to the companion
  status                        show companion, queue and log status
  pending                       list unacknowledged requests
  flush                         run one pass of both log senders
  recreate                      replace the companion
  help                          show this help
  exit                          leave the console`

func runConsole(cmd *cobra.Command, args []string) error {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return errors.New("console needs an interactive terminal")
	}

	cfg.Companion.Mode = "inprocess"
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	container, err := app.NewContainer(cfg, app.Overrides{})
	if err != nil {
		return err
	}
	defer container.Stop()
	if err := container.Start(ctx); err != nil {
		return err
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "wndlink> ",
		HistoryFile:     historyFile(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
		AutoComplete: readline.NewPrefixCompleter(
			readline.PcItem("add",
				readline.PcItem("CRT"), readline.PcItem("APP"), readline.PcItem("SVR"),
				readline.PcItem("WRN"), readline.PcItem("INF"), readline.PcItem("DBG"),
				readline.PcItem("LOG"), readline.PcItem("ACT"), readline.PcItem("NAV"),
			),
			readline.PcItem("send",
				readline.PcItem(string(message.TypePrefsChanged)),
				readline.PcItem(string(message.TypeFiltersSync)),
			),
			readline.PcItem("status"),
			readline.PcItem("pending"),
			readline.PcItem("flush"),
			readline.PcItem("recreate"),
			readline.PcItem("help"),
			readline.PcItem("exit"),
		),
	})
	if err != nil {
		return err
	}
	defer rl.Close()

	fmt.Println(consoleHelp)
	for {
		line, err := rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) {
			if line == "" {
				return nil
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			return nil
		}
		if err := runConsoleLine(ctx, container, line); err != nil {
			fmt.Println("error:", err)
		}
	}
}

func runConsoleLine(ctx context.Context, c *app.Container, line string) error {
	verb, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)

	switch verb {
	case "help":
		fmt.Println(consoleHelp)
	case "add":
		category, details, ok := strings.Cut(rest, " ")
		if !ok {
			return errors.New("usage: add <category> <details...>")
		}
		return c.AddLog(strings.ToUpper(category), strings.TrimSpace(details))
	case "send":
		t, raw, _ := strings.Cut(rest, " ")
		var payload interface{}
		if raw = strings.TrimSpace(raw); raw != "" {
			if err := json.Unmarshal([]byte(raw), &payload); err != nil {
				return fmt.Errorf("payload is not JSON: %w", err)
			}
		}
		id, err := c.SendToCompanion(ctx, message.Type(t), payload)
		if err != nil {
			return err
		}
		fmt.Printf("queued %s #%d\n", t, id)
	case "status":
		return printJSON(c.Status())
	case "pending":
		return printJSON(c.Queue.Pending())
	case "flush":
		high := c.Companion.HighPriority().RunOnce(ctx)
		low := c.Companion.LowPriority().RunOnce(ctx)
		fmt.Printf("shipped %d high-priority and %d low-priority categories\n", high, low)
	case "recreate":
		c.Companion.Recreate()
	default:
		return fmt.Errorf("unknown command %q, try 'help'", verb)
	}
	return nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}

func historyFile() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".wndlink", "console_history")
}
