package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/params"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"tipRelay/internal/chain"
	"tipRelay/internal/config"
	"tipRelay/internal/intake"
	"tipRelay/internal/ledger"
	"tipRelay/internal/metrics"
	"tipRelay/internal/model"
	"tipRelay/internal/notify"
	"tipRelay/internal/queue"
	"tipRelay/internal/reconcile"
	"tipRelay/internal/settle"
	"tipRelay/internal/storage"
	"tipRelay/internal/storage/postgres"
	"tipRelay/internal/token"
	"tipRelay/internal/validator"
)

func main() {
	root := &cobra.Command{
		Use:          "settler",
		Short:        "Batch tip settlement service",
		SilenceUsage: true,
	}

	root.PersistentFlags().String("config", "", "config file path")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the settlement daemon",
		RunE:  runSettler,
	}

	runCmd.Flags().StringSlice("rpc", nil, "ordered RPC endpoint URLs (comma-separated)")
	runCmd.Flags().Float64("rpc-rate-limit", 10.0, "max RPC requests per second per endpoint")
	runCmd.Flags().String("contract", "", "payment relay contract address")
	runCmd.Flags().String("private-key", "", "submitter private key (hex)")
	runCmd.Flags().Duration("batch-interval", 30*time.Second, "settlement timer interval")
	runCmd.Flags().Int("max-batch-size", 10, "max candidates per settlement window")
	runCmd.Flags().Int("max-attempts", 5, "max retry attempts per chain operation")
	runCmd.Flags().Int("max-window-attempts", 3, "settlement attempts before a window is dead-lettered")
	runCmd.Flags().Int64("fee-ceiling-gwei", 50, "hard gas fee cap ceiling in gwei")
	runCmd.Flags().Duration("confirm-timeout", 2*time.Minute, "max wait for transaction inclusion")
	runCmd.Flags().Duration("poll-interval", 3*time.Second, "receipt poll interval")
	runCmd.Flags().String("pg-dsn", "", "Postgres DSN (in-memory store when empty)")
	runCmd.Flags().String("history", "./data/tips.jsonl", "tip history JSONL path")
	runCmd.Flags().String("dead-letter", "./data/dead_letter.jsonl", "dead-letter JSONL path")
	runCmd.Flags().String("webhook-url", "", "low-balance notification webhook URL")
	runCmd.Flags().String("metrics-addr", "", "Prometheus listen address (disabled when empty)")
	runCmd.Flags().String("backfill", "", "JSONL file of candidates to replay at startup")
	runCmd.Flags().String("log-level", "info", "log level (debug, info, warn, error)")

	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSettler(cmd *cobra.Command, _ []string) error {
	cfgFile, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(cfgFile, cmd.Flags())
	if err != nil {
		return err
	}

	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	if len(cfg.RPCURLs) == 0 {
		return fmt.Errorf("at least one rpc url is required")
	}
	if !common.IsHexAddress(cfg.Contract) {
		return fmt.Errorf("valid contract address is required")
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("private key is required")
	}
	contract := common.HexToAddress(cfg.Contract)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	m := metrics.New()

	endpoints := make([]chain.Endpoint, 0, len(cfg.RPCURLs))
	for _, url := range cfg.RPCURLs {
		client, err := chain.Dial(ctx, url, cfg.RPCRateLimit)
		if err != nil {
			return fmt.Errorf("connect rpc %s: %w", url, err)
		}
		defer client.Close()
		endpoints = append(endpoints, chain.Endpoint{URL: url, Backend: client})
	}

	providers, err := chain.NewManager(endpoints, logger,
		chain.WithFailoverHook(func(_, _ string) { m.ProviderFailovers.Inc() }),
	)
	if err != nil {
		return err
	}

	var chainID *big.Int
	err = providers.Execute(ctx, cfg.MaxAttempts, func(ctx context.Context, backend chain.Backend) error {
		var err error
		chainID, err = backend.ChainID(ctx)
		return err
	})
	if err != nil {
		return fmt.Errorf("get chain id: %w", err)
	}

	var store storage.Store
	if cfg.PGDSN != "" {
		pgStore, err := postgres.NewStore(ctx, cfg.PGDSN)
		if err != nil {
			return fmt.Errorf("connect postgres: %w", err)
		}
		defer pgStore.Close()
		store = pgStore
	} else {
		logger.Warn("no pg-dsn configured, using in-memory store")
		store = storage.NewMemory()
	}

	history := storage.NewJsonl(cfg.HistoryPath)
	deadLetters := storage.NewJsonl(cfg.DeadLetterPath)
	tee := &historyTee{Store: store, sink: history}

	decimals := token.NewCache(providers, cfg.MaxAttempts)
	spending := ledger.NewSpendingLedger()
	active := ledger.NewActiveSet()

	seeds, err := store.ActiveAuthorConfigs(ctx)
	if err != nil {
		return fmt.Errorf("seed active set: %w", err)
	}
	for _, seed := range seeds {
		spending.Seed(seed.Payer, seed.TotalSpent)
		active.Add(seed.Payer)
	}

	executor, err := settle.NewExecutor(settle.Config{
		Contract:       contract,
		PrivateKeyHex:  cfg.PrivateKey,
		ChainID:        chainID,
		FeeCeiling:     new(big.Int).Mul(big.NewInt(cfg.FeeCeilingGwei), big.NewInt(params.GWei)),
		MaxAttempts:    cfg.MaxAttempts,
		ConfirmTimeout: cfg.ConfirmTimeout,
		PollInterval:   cfg.PollInterval,
	}, providers, decimals, logger)
	if err != nil {
		return err
	}

	var notifier notify.Notifier = notify.NewLogNotifier(logger)
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhookNotifier(cfg.WebhookURL, logger)
	}

	reconciler := reconcile.New(providers, tee, spending, active, decimals, contract, cfg.MaxAttempts, notifier, logger)

	settleFn := func(ctx context.Context, window []model.TipCandidate) error {
		report, err := executor.SettleWindow(ctx, window)
		if err != nil {
			m.SettlementsTotal.WithLabelValues("failed").Inc()
			return err
		}
		m.SettlementsTotal.WithLabelValues("confirmed").Inc()
		m.GasUsed.Observe(float64(report.GasUsed))
		for _, leg := range report.Legs {
			outcome := "failed"
			if leg.Success {
				outcome = "succeeded"
			}
			m.LegsTotal.WithLabelValues(outcome).Inc()
		}
		reconciler.Process(ctx, report)
		return nil
	}

	scheduler := queue.NewScheduler(queue.SchedulerConfig{
		Interval:          cfg.BatchInterval,
		MaxBatchSize:      cfg.MaxBatchSize,
		MaxWindowAttempts: cfg.MaxWindowAttempts,
	}, queue.New(), settleFn, deadLetters, logger, func(depth int) {
		m.QueueDepth.Set(float64(depth))
	})

	v := validator.New(providers, store, spending, active, intake.PermissiveProfiles{}, intake.PermissiveGraph{}, decimals, contract, cfg.MaxAttempts, logger)
	service := intake.NewService(store, v, scheduler, logger)

	logger.Info("settler start",
		zap.Int("endpoints", len(endpoints)),
		zap.String("chain_id", chainID.String()),
		zap.String("contract", contract.Hex()),
		zap.String("sender", executor.Sender().Hex()),
		zap.Duration("batch_interval", cfg.BatchInterval),
		zap.Int("max_batch_size", cfg.MaxBatchSize),
		zap.Int("active_payers", active.Len()),
	)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error { return scheduler.Run(ctx) })

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", m.Handler())
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: mux}
		eg.Go(func() error {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	if backfill, _ := cmd.Flags().GetString("backfill"); backfill != "" {
		eg.Go(func() error { return replayCandidates(ctx, backfill, service, logger) })
	}

	if err := eg.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// historyTee writes tip history to both the primary store and the local
// JSONL sink.
type historyTee struct {
	storage.Store
	sink *storage.Jsonl
}

func (t *historyTee) AppendTipRecords(ctx context.Context, records []model.TipRecord) error {
	if err := t.Store.AppendTipRecords(ctx, records); err != nil {
		return err
	}
	return t.sink.AppendTipRecords(ctx, records)
}

// replayCandidates feeds a JSONL file of candidates through intake, used to
// backfill events captured while the service was down.
func replayCandidates(ctx context.Context, path string, service *intake.Service, logger *zap.Logger) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open backfill file: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	handled := 0
	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var candidate model.TipCandidate
		if err := json.Unmarshal(line, &candidate); err != nil {
			logger.Warn("skipping malformed backfill line", zap.Error(err))
			continue
		}
		service.Handle(ctx, candidate)
		handled++
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read backfill file: %w", err)
	}
	logger.Info("backfill complete", zap.Int("candidates", handled))
	return nil
}

func newLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevel()
	if err := cfg.Level.UnmarshalText([]byte(level)); err != nil {
		return nil, err
	}

	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	return cfg.Build()
}
