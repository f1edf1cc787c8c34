package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/lockwatch/lockwatch/internal/chain"
	"github.com/lockwatch/lockwatch/internal/common"
	"github.com/lockwatch/lockwatch/internal/config"
	"github.com/lockwatch/lockwatch/internal/contract"
	"github.com/lockwatch/lockwatch/internal/db"
	"github.com/lockwatch/lockwatch/internal/dedup"
	"github.com/lockwatch/lockwatch/internal/logger"
	"github.com/lockwatch/lockwatch/internal/metrics"
	"github.com/lockwatch/lockwatch/internal/reorg"
	"github.com/lockwatch/lockwatch/internal/scanner"
	"github.com/lockwatch/lockwatch/internal/scheduler"
	"github.com/lockwatch/lockwatch/internal/store"
	storemig "github.com/lockwatch/lockwatch/internal/store/migrations"
	"github.com/spf13/cobra"
)

const version = "1.0.0"

const (
	taskIndexLockingEvents = "indexLockingEvents"
	taskCheckReorgs        = "checkReorgs"
)

const (
	exitCodeError       = 1
	exitCodeInvalidArgs = 2
)

var (
	configPath string

	reindexFromBlock         int64
	reindexBlockProcessLimit uint64
)

// invalidArgsError marks argument validation failures so main can exit 2.
type invalidArgsError struct {
	msg string
}

func (e *invalidArgsError) Error() string {
	return e.msg
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		var argErr *invalidArgsError
		if errors.As(err, &argErr) {
			os.Exit(exitCodeInvalidArgs)
		}
		os.Exit(exitCodeError)
	}
}

var rootCmd = &cobra.Command{
	Use:   "lockwatch",
	Short: "Locking-contract event indexing service",
	Long: `lockwatch indexes the Locked, Unlocked and Withdrawn events of an on-chain
locking contract into a relational store, derives per-holder totals and a
leaderboard, and keeps the indexed state consistent across chain
reorganizations.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runService,
}

var reindexCmd = &cobra.Command{
	Use:   "reindex",
	Short: "Force reindexing of locking contract events",
	Long: `Reindex runs the scanner from the given block without updating the stored
cursor. Rows are inserted idempotently, so overlapping a previously indexed
range is safe.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runReindex,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file")
	reindexCmd.Flags().Int64Var(&reindexFromBlock, "from-block", -1, "block to start reindexing from")
	reindexCmd.Flags().Uint64Var(&reindexBlockProcessLimit, "block-process-limit", 0,
		"fixed number of blocks to query each window (disables auto-tuning)")
	rootCmd.AddCommand(reindexCmd)
}

// service bundles everything the commands wire together.
type service struct {
	cfg      *config.Config
	log      *logger.Logger
	rpc      *chain.Client
	store    *store.Store
	scanner  *scanner.Scanner
	reorg    *reorg.Service
	shutdown func()
}

// buildService loads configuration and constructs every component once.
// Components are passed explicit references; there is no global state.
func buildService(ctx context.Context) (*service, error) {
	cfg, err := config.LoadFromFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.NewLogger(cfg.Logging.Level, cfg.Logging.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}

	rpcClient, err := chain.NewClient(ctx, cfg.Indexer.RPCURL, cfg.Retry)
	if err != nil {
		return nil, fmt.Errorf("failed to create RPC client: %w", err)
	}
	log.Infof("connected to Ethereum node: %s", cfg.Indexer.RPCURL)

	if err := storemig.RunMigrations(cfg.DB.Path); err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	database, err := db.NewSQLiteDBFromConfig(cfg.DB)
	if err != nil {
		rpcClient.Close()
		return nil, fmt.Errorf("failed to create database: %w", err)
	}

	st := store.New(database, log)

	registry, err := contract.NewRegistry(log)
	if err != nil {
		rpcClient.Close()
		database.Close()
		return nil, fmt.Errorf("failed to build event registry: %w", err)
	}

	cache, err := dedup.NewCache(dedup.DefaultCapacity)
	if err != nil {
		rpcClient.Close()
		database.Close()
		return nil, fmt.Errorf("failed to create dedup cache: %w", err)
	}

	sc := scanner.New(cfg.Indexer, rpcClient, st, cache, registry, log)
	rs := reorg.NewService(cfg.Indexer, rpcClient, st, cache, log)

	return &service{
		cfg:     cfg,
		log:     log,
		rpc:     rpcClient,
		store:   st,
		scanner: sc,
		reorg:   rs,
		shutdown: func() {
			rpcClient.Close()
			database.Close()
			_ = log.Close()
		},
	}, nil
}

func runService(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Println("\nShutting down gracefully...")
		cancel()
	}()

	svc, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer svc.shutdown()

	log := svc.log.WithComponent(common.ComponentScheduler)

	var metricsServer *metrics.Server
	if svc.cfg.Metrics != nil && svc.cfg.Metrics.Enabled {
		metricsServer = metrics.NewServer(svc.cfg.Metrics)
		if err := metricsServer.Start(ctx); err != nil {
			return fmt.Errorf("failed to start metrics server: %w", err)
		}
		defer func() {
			if err := metricsServer.Stop(context.Background()); err != nil {
				log.Warnf("failed to stop metrics server: %v", err)
			}
		}()
		log.Infof("metrics server started on %s%s", svc.cfg.Metrics.ListenAddress, svc.cfg.Metrics.Path)
	}

	lock, err := buildRunnerLock(svc.cfg)
	if err != nil {
		return err
	}

	sched := scheduler.New(
		lock,
		svc.cfg.Indexer.SoftTimeout.Duration,
		svc.cfg.Indexer.LockTimeout.Duration,
		svc.log,
	)

	// Scanner and reorg recovery share the lock key so they never run
	// concurrently for the same contract.
	lockKey := "locking-indexer:" + svc.cfg.Indexer.Contract().Hex()

	sched.Register(scheduler.Task{
		Name:     taskIndexLockingEvents,
		LockKey:  lockKey,
		Interval: svc.cfg.Indexer.ScanInterval.Duration,
		Run: func(ctx context.Context) error {
			return svc.scanner.IndexUntilHead(ctx, scanner.Options{UpdateCursor: true})
		},
	})
	sched.Register(scheduler.Task{
		Name:     taskCheckReorgs,
		LockKey:  lockKey,
		Interval: svc.cfg.Indexer.ReorgInterval.Duration,
		Run:      svc.reorg.Check,
	})

	metrics.ComponentHealthSet(common.ComponentScanner, true)
	metrics.ComponentHealthSet(common.ComponentReorgDetector, true)
	defer func() {
		metrics.ComponentHealthSet(common.ComponentScanner, false)
		metrics.ComponentHealthSet(common.ComponentReorgDetector, false)
	}()

	log.Infof("starting lockwatch v%s, watching contract %s", version, svc.cfg.Indexer.ContractAddress)
	sched.Start(ctx)
	log.Info("lockwatch stopped")

	return nil
}

func buildRunnerLock(cfg *config.Config) (scheduler.RunnerLock, error) {
	if cfg.Indexer.RedisURL == "" {
		return scheduler.NewLocalLock(), nil
	}
	return scheduler.NewRedisLock(cfg.Indexer.RedisURL)
}

func runReindex(cmd *cobra.Command, args []string) error {
	if reindexFromBlock < 0 {
		return &invalidArgsError{msg: "--from-block is required and must be >= 0"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	svc, err := buildService(ctx)
	if err != nil {
		return err
	}
	defer svc.shutdown()

	if reindexBlockProcessLimit > 0 {
		svc.log.Infof("setting block-process-limit to %d", reindexBlockProcessLimit)
		svc.scanner.SetWindowSize(reindexBlockProcessLimit)
		svc.scanner.SetAutoTune(false)
	}

	fromBlock := uint64(reindexFromBlock)
	svc.log.Infof("reindexing from-block %d", fromBlock)

	if err := svc.scanner.IndexUntilHead(ctx, scanner.Options{
		FromBlock:    &fromBlock,
		UpdateCursor: false,
	}); err != nil {
		return fmt.Errorf("reindex failed: %w", err)
	}

	return nil
}
