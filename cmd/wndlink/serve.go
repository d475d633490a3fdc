package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/wndlink/wndlink/pkg/api"
	"github.com/wndlink/wndlink/pkg/app"
	"github.com/wndlink/wndlink/pkg/logger"
)

var (
	serveMode string
	servePort int
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the app context with the gateway API",
	Long: `Run the app context: message queue, log accumulator, companion
lifecycle and both log senders, plus the gateway API.

In inprocess mode the companion runs inside this process. In remote mode
the gateway accepts a companion on /ws/companion; start one with
'wndlink companion'.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveMode, "mode", "", "Companion mode: inprocess or remote (overrides companion.mode)")
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Gateway port (overrides gateway.port)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if serveMode != "" {
		cfg.Companion.Mode = serveMode
	}
	if servePort != 0 {
		cfg.Gateway.Port = servePort
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	container, err := app.NewContainer(cfg, app.Overrides{})
	if err != nil {
		return err
	}
	server := api.NewServer(container)

	if err := container.Start(ctx); err != nil {
		container.Stop()
		return err
	}
	if err := server.Start(ctx); err != nil {
		container.Stop()
		return err
	}
	fmt.Printf("wndlink serving on http://%s (%s companion)\n", cfg.GatewayAddr(), cfg.Companion.Mode)

	<-ctx.Done()
	logger.InfoC("cli", "Shutting down")

	if err := server.Stop(); err != nil {
		logger.WarnCF("cli", "Gateway shutdown failed", map[string]interface{}{"error": err.Error()})
	}
	return container.Stop()
}
