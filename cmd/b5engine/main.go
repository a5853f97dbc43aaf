// Command b5engine runs the paper-trading engine: the derived-row
// pipeline, the entry/management state machine, and the HTTP surface
// that serves the dashboard, trades, broker-limits and export
// endpoints.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"b5engine/api"
	"b5engine/broker"
	"b5engine/cache"
	"b5engine/config"
	"b5engine/derive"
	"b5engine/factor"
	"b5engine/firstclose"
	"b5engine/logger"
	"b5engine/markettime"
	"b5engine/metrics"
	"b5engine/papertrade"
	"b5engine/snapshot"
	"b5engine/store"
	"b5engine/view"
)

var verbose bool

func main() {
	root := &cobra.Command{
		Use:   "b5engine",
		Short: "paper-trading derived-row engine",
	}
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(serveCmd(), migrateCmd(), exportCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func configureLogging() {
	level := zerolog.InfoLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	logger.Configure(os.Getenv("ENV") == "production", level)
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "run the engine's ticker loop and HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			configureLogging()
			return runServe()
		},
	}
}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "apply the paper-trade store's schema migration and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			configureLogging()
			cfg := config.Load()
			s, err := store.Open(cfg.PaperTradeDBPath)
			if err != nil {
				return fmt.Errorf("migrate: %w", err)
			}
			defer s.Close()
			logger.Infof("migration applied to %s", cfg.PaperTradeDBPath)
			return nil
		},
	}
}

func exportCmd() *cobra.Command {
	var status, format string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "count the trades matching --status and exit; no export file is written (files come from GET /api/export)",
		RunE: func(cmd *cobra.Command, args []string) error {
			configureLogging()
			cfg := config.Load()
			s, err := store.Open(cfg.PaperTradeDBPath)
			if err != nil {
				return fmt.Errorf("export: open store: %w", err)
			}
			defer s.Close()

			v := &view.Service{Store: s, ExchangeDefault: "NSE"}
			trades, err := v.ExportTrades(status)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}
			logger.Infof("export: %d trades matching status=%s (format=%s) collected; use `serve` and GET /api/export to write files", len(trades), status, format)
			return nil
		},
	}
	cmd.Flags().StringVar(&status, "status", "all", "trade status to export: all, open, closed")
	cmd.Flags().StringVar(&format, "format", "csv", "output format: csv or json")
	return cmd
}

// engine bundles the pieces the serve loop drives each cycle.
type engine struct {
	cfg            *config.Config
	snapshotLoader *snapshot.Loader
	cache          *cache.Cache
	mcxCache       *cache.Cache
	trader         *papertrade.Engine
	store          *store.Store
	governor       *broker.Governor
	httpServer     *http.Server
}

func runServe() error {
	cfg := config.Load()

	firstCloseReader := firstclose.Open(cfg.FirstCloseDBPath)
	defer firstCloseReader.Close()

	tradeStore, err := store.Open(cfg.PaperTradeDBPath)
	if err != nil {
		return fmt.Errorf("open paper-trade store: %w", err)
	}
	defer tradeStore.Close()

	governor := broker.New(broker.Limits{
		MaxOrdersPerDay:  cfg.MaxOrdersPerDay,
		MaxOpenPositions: cfg.MaxOpenPositions,
		MaxMarginUsedPct: cfg.MaxMarginUsedPct,
	})

	thresholds := derive.Thresholds{
		JackpotMinConfirmation: cfg.JackpotMinConfirmation,
		JackpotMinRR:           cfg.JackpotMinRR,
		MinVolumeAccel:         cfg.MinVolumeAccel,
		MaxSpikePointsMult:     cfg.MaxSpikePointsMult,
	}
	jackpotLookbackSec := int64(cfg.JackpotTouchLookback / time.Second)

	primaryCache := cache.New(thresholds, jackpotLookbackSec)
	mcxCache := cache.New(thresholds, jackpotLookbackSec)

	tradeThresholds := papertrade.Thresholds{
		CooldownSec:         int64(cfg.PaperCooldown / time.Second),
		MinConfirmation:     cfg.MinConfirmation,
		MinRR:               cfg.MinRR,
		MinProbabilityScore: cfg.MinProbabilityScore,
		JackpotOnly:         cfg.JackpotOnly,
	}
	trader := papertrade.NewEngine(tradeStore, governor, tradeThresholds)

	snapshotLoader := snapshot.NewLoader(cfg.SnapshotPath)

	viewService := &view.Service{
		SnapshotLoader:  snapshotLoader,
		Cache:           primaryCache,
		FirstClose:      firstCloseReader,
		Governor:        governor,
		Store:           tradeStore,
		SnapshotPath:    cfg.SnapshotPath,
		ExchangeDefault: "NSE",
		LiveTimeframe:   cfg.PaperTF,
		LiveFactor:      factor.Name(cfg.PaperFactor),
	}

	metrics.Init()

	server := api.New(viewService, api.Health{TradeMode: cfg.TradeMode, LiveEnabled: cfg.EnableLiveTrading}, cfg.ExportDir)
	server.StaticExports()

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Port),
		Handler: server.Router(),
	}

	e := &engine{
		cfg:            cfg,
		snapshotLoader: snapshotLoader,
		cache:          primaryCache,
		mcxCache:       mcxCache,
		trader:         trader,
		store:          tradeStore,
		governor:       governor,
		httpServer:     httpServer,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		logger.Infof("http listening on %s", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("http server: %v", err)
		}
	}()

	e.run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// run drives the engine's ticker loop until ctx is cancelled, matching
// the cadence set by PAPER_CYCLE_MS. Each tick reloads the snapshot,
// recomputes derived rows for the configured (timeframe,factor) pair
// (MCX rows recomputed separately under PaperFactorMCX), and feeds the
// combined trigger set into one trading-engine cycle.
func (e *engine) run(ctx context.Context) {
	ticker := time.NewTicker(e.cfg.PaperCycle)
	defer ticker.Stop()

	logger.Infof("engine started: tf=%s factor=%s mcx_factor=%s cycle=%s", e.cfg.PaperTF, e.cfg.PaperFactor, e.cfg.PaperFactorMCX, e.cfg.PaperCycle)

	e.tick()
	for {
		select {
		case <-ctx.Done():
			logger.Info("engine stopping")
			return
		case <-ticker.C:
			e.tick()
		}
	}
}

func (e *engine) tick() {
	snap := e.snapshotLoader.Load()
	now := markettime.Now().Unix()

	primaryFactor := factor.Name(e.cfg.PaperFactor)
	mcxFactor := factor.Name(e.cfg.PaperFactorMCX)

	primary, err := e.cache.Get(snap, e.cfg.PaperTF, primaryFactor, now)
	if err != nil {
		logger.Warnf("derive cycle (primary): %v", err)
		return
	}
	mcx, err := e.mcxCache.Get(snap, e.cfg.PaperTF, mcxFactor, now)
	if err != nil {
		logger.Warnf("derive cycle (mcx): %v", err)
		return
	}

	if open, err := e.store.ListOpenTrades(); err == nil {
		metrics.SetOpenTrades(len(open))
	}
	if counter, err := e.store.CounterForDay(markettime.Today()); err == nil {
		status := e.governor.Evaluate(counter)
		metrics.UpdateBrokerMetrics(status.OrdersRemainingPct, status.PositionsRemainingPct, status.MarginUsedPct)
	}

	trigger := make([]derive.Row, 0, len(primary.Trigger)+len(mcx.Trigger))
	for _, r := range primary.Trigger {
		if r.Exchange != "MCX" {
			trigger = append(trigger, r)
		}
	}
	for _, r := range mcx.Trigger {
		if r.Exchange == "MCX" {
			trigger = append(trigger, r)
		}
	}

	e.trader.Run(snap.Version, primary.All, trigger, e.cfg.PaperTF, e.cfg.PaperFactor, now)
}
