package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/sidewallet-engine/pkg/analyzer"
	"github.com/sidewallet-engine/pkg/api"
	"github.com/sidewallet-engine/pkg/config"
	"github.com/sidewallet-engine/pkg/ingest"
	"github.com/sidewallet-engine/pkg/rpc"
	"github.com/sidewallet-engine/pkg/store"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: "15:04:05"}).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config load failed")
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("config invalid")
	}

	st, err := store.Open(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("event store init failed")
	}
	defer st.Close()

	gate := rpc.NewRateGate(cfg.RateLimitPerMinute, 10)
	client := rpc.NewClient(cfg.RPCEndpoint, gate, cfg.RPCRetryAttempts)
	pipeline := ingest.NewPipeline(cfg, st, client)
	engine := analyzer.NewEngine(cfg, st, pipeline)

	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}
	switch os.Args[1] {
	case "serve":
		runServe(cfg, st, engine, pipeline)
	case "scan":
		if len(os.Args) < 3 {
			usage()
			os.Exit(2)
		}
		runScan(cfg, engine, os.Args[2])
	default:
		usage()
		os.Exit(2)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sidewallet serve | sidewallet scan <address>")
}

func runServe(cfg *config.Config, st store.EventStore, engine *analyzer.Engine, pipeline *ingest.Pipeline) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() { <-sigCh; log.Info().Msg("shutting down..."); cancel() }()

	// Periodic re-ingestion keeps tracked wallets fresh between requests.
	if len(cfg.TrackedWallets) > 0 {
		c := cron.New()
		_, err := c.AddFunc(cfg.RescanCronSpec, func() {
			for _, addr := range cfg.TrackedWallets {
				if ctx.Err() != nil {
					return
				}
				if _, err := pipeline.IngestWallet(ctx, addr, cfg.SignatureLimit); err != nil {
					log.Warn().Err(err).Str("addr", addr).Msg("rescan failed")
				}
			}
		})
		if err != nil {
			log.Fatal().Err(err).Str("spec", cfg.RescanCronSpec).Msg("bad rescan cron spec")
		}
		c.Start()
		defer c.Stop()
	}

	printBanner(cfg, st)

	srv := api.NewServer(cfg, st, engine, pipeline)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(cfg.APIPort) }()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("api server error")
		}
	}
	log.Info().Msg("goodbye")
}

func runScan(cfg *config.Config, engine *analyzer.Engine, address string) {
	ctx := context.Background()
	result, err := engine.ComputeSideWallets(ctx, address, analyzer.Options{Bootstrap: true})
	if err != nil {
		log.Fatal().Err(err).Msg("scan failed")
	}
	printCandidates(result)
}

func printCandidates(result *analyzer.Result) {
	if len(result.Candidates) == 0 {
		fmt.Printf("no side-wallet candidates for %s\n", result.Target)
		return
	}

	green := color.New(color.FgGreen).SprintfFunc()
	yellow := color.New(color.FgYellow).SprintfFunc()
	red := color.New(color.FgRed).SprintfFunc()

	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"Address", "Score", "Depth", "Dir", "Tx", "Native", "Via CEX", "Evidence"})
	table.SetBorder(false)
	for _, c := range result.Candidates {
		scoreStr := green("%.3f", c.Score)
		if c.Score < 0.25 {
			scoreStr = red("%.3f", c.Score)
		} else if c.Score < 0.5 {
			scoreStr = yellow("%.3f", c.Score)
		}
		via := ""
		if c.ViaCex {
			via = "yes"
		}
		table.Append([]string{
			c.Address,
			scoreStr,
			fmt.Sprintf("%d", c.Depth),
			string(c.Direction),
			fmt.Sprintf("%d", c.TxCount),
			fmt.Sprintf("%.3f", c.TotalNative),
			via,
			strings.Join(c.Reasons, " | "),
		})
	}
	table.Render()
}

func printBanner(cfg *config.Config, st store.EventStore) {
	stats, _ := st.Stats(context.Background())
	fmt.Println("\n" + strings.Repeat("═", 60))
	fmt.Println("  SIDE-WALLET ENGINE - RUNNING")
	fmt.Println(strings.Repeat("═", 60))
	fmt.Printf("  RPC:      %s\n", cfg.RPCEndpoint)
	fmt.Printf("  Storage:  %s\n", cfg.StorageBackend)
	fmt.Printf("  API:      http://localhost:%d\n", cfg.APIPort)
	fmt.Printf("  Tracked:  %d wallets\n", len(cfg.TrackedWallets))
	if stats != nil {
		fmt.Printf("  DB: %d wallets, %d txs, %d events, %d edges\n",
			stats["wallets"], stats["transactions"], stats["transfer_events"], stats["wallet_relationships"])
	}
	fmt.Println(strings.Repeat("═", 60) + "\n")
}
