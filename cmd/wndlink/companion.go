package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/wndlink/wndlink/pkg/app"
	"github.com/wndlink/wndlink/pkg/companion"
	"github.com/wndlink/wndlink/pkg/domain/message"
	"github.com/wndlink/wndlink/pkg/wire"
)

var (
	companionURL   string
	companionToken string
)

var companionCmd = &cobra.Command{
	Use:   "companion",
	Short: "Run a companion worker against a remote-mode gateway",
	Long: `Dial the gateway's /ws/companion endpoint and act as the companion:
announce readiness, answer heartbeats by stamping the account record,
and persist preference changes. The worker reconnects with backoff.

Example:
  wndlink companion --url ws://127.0.0.1:18791/ws/companion`,
	RunE: runCompanion,
}

func init() {
	companionCmd.Flags().StringVar(&companionURL, "url", "", "Gateway websocket URL (default gateway.url or ws://<gateway addr>/ws/companion)")
	companionCmd.Flags().StringVar(&companionToken, "token", "", "Gateway API key (default gateway.api_key)")
}

func runCompanion(cmd *cobra.Command, args []string) error {
	url := companionURL
	if url == "" {
		url = cfg.Gateway.URL
	}
	if url == "" {
		url = fmt.Sprintf("ws://%s/ws/companion", cfg.GatewayAddr())
	}
	token := companionToken
	if token == "" {
		token = cfg.Gateway.APIKey
	}

	codec, err := wire.ByName(cfg.Messaging.Codec)
	if err != nil {
		return err
	}
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Companion connecting to %s\n", url)
	return companion.RunWorker(ctx, companion.WorkerOptions{
		URL:        url,
		Header:     header,
		Codec:      codec,
		Queue:      app.QueueOptions(cfg, message.EndpointCompanion),
		Companion:  app.CompanionOptions(cfg),
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
	}, app.NewWriter(cfg), nil)
}
