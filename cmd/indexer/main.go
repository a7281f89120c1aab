package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/checkpoint"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/common"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/decoder"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/fetcher"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/metrics"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/poller"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/reorg"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/rpc"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/store/postgres"
	"github.com/gordonmurray/eth-blockchain-pipeline/internal/store/sqlite"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/api"
	pkgconfig "github.com/gordonmurray/eth-blockchain-pipeline/pkg/config"
	"github.com/gordonmurray/eth-blockchain-pipeline/pkg/store"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const (
	version = "1.0.0"
	banner  = `
╔═══════════════════════════════════════════╗
║       Purchase Indexer v%s             ║
║   PurchaseMade events into SQL storage    ║
╚═══════════════════════════════════════════╝
`
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "indexer",
	Short: "Indexes PurchaseMade events from an EVM chain",
	Long: `indexer polls an Ethereum JSON-RPC endpoint for PurchaseMade events emitted
by a single contract, decodes them and stores both the raw logs and the decoded
purchases. Progress is kept in a checkpoint so restarts resume where they left off.`,
	Version:      version,
	SilenceUsage: true,
	RunE:         runIndexer,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintln(cmd.OutOrStdout(), version)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to configuration file (.yaml, .json or .toml); environment only when empty")
	rootCmd.AddCommand(versionCmd, checkpointCmd, schemaCmd)
}

// openStore opens the storage backend selected by the configuration.
// start is non-nil for stores that run background work.
func openStore(
	ctx context.Context, cfg *pkgconfig.Config, m *metrics.Metrics,
) (st store.Store, start func(context.Context) error, err error) {
	log := logger.NewComponentLoggerFromConfig(common.ComponentStore, cfg.Logging)

	switch cfg.Storage.Backend() {
	case pkgconfig.BackendPostgres:
		pg, err := postgres.New(ctx, cfg.Storage, log, m)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open postgres store: %w", err)
		}
		return pg, nil, nil
	default:
		lite, err := sqlite.New(cfg.Storage.SQLitePath(), cfg.Storage, log, m)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open sqlite store: %w", err)
		}
		return lite, lite.Start, nil
	}
}

func runIndexer(cmd *cobra.Command, args []string) error {
	fmt.Printf(banner, version)

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log := logger.NewComponentLoggerFromConfig(common.ComponentPoller, cfg.Logging)
	logger.SetDefaultLogger(log)

	contract, err := common.ParseAddress(cfg.Indexer.ContractAddress)
	if err != nil {
		return fmt.Errorf("invalid contract address: %w", err)
	}

	m := metrics.New()

	log.Info("Connecting to Ethereum node...")
	ethClient, err := rpc.NewClient(ctx, cfg.RPC.URL, cfg.RPC.RequestTimeout.Duration, m)
	if err != nil {
		return fmt.Errorf("failed to create RPC client: %w", err)
	}
	defer ethClient.Close()

	st, startStore, err := openStore(ctx, cfg, m)
	if err != nil {
		return err
	}
	defer func() {
		if err := st.Close(); err != nil {
			log.Warnw("failed to close store", "error", err)
		}
	}()

	checkpoints := checkpoint.New(
		st,
		cfg.Indexer.CheckpointName,
		cfg.Indexer.StartBlock,
		logger.NewComponentLoggerFromConfig(common.ComponentCheckpoint, cfg.Logging),
	)

	guard := reorg.NewGuard(
		cfg.Reorg,
		cfg.Indexer.CheckpointName,
		st,
		ethClient,
		logger.NewComponentLoggerFromConfig(common.ComponentReorg, cfg.Logging),
		m,
	)

	logFetcher := fetcher.NewLogFetcher(
		fetcher.Config{Address: contract, Topic: decoder.EventTopic},
		logger.NewComponentLoggerFromConfig(common.ComponentLogFetcher, cfg.Logging),
		ethClient,
	)

	p := poller.New(
		poller.ConfigFrom(cfg),
		logFetcher,
		decoder.New(logger.NewComponentLoggerFromConfig(common.ComponentDecoder, cfg.Logging)),
		st,
		checkpoints,
		guard,
		log,
		m,
	)

	g, gctx := errgroup.WithContext(ctx)

	if startStore != nil {
		if err := startStore(gctx); err != nil {
			return fmt.Errorf("failed to start store maintenance: %w", err)
		}
	}

	if cfg.Metrics != nil {
		metricsServer := metrics.NewServer(
			cfg.Metrics, m, logger.NewComponentLoggerFromConfig(common.ComponentMetrics, cfg.Logging))
		g.Go(func() error { return metricsServer.Run(gctx) })
	}

	if cfg.API != nil {
		apiServer := api.NewServer(
			cfg.API, p, st, logger.NewComponentLoggerFromConfig(common.ComponentAPI, cfg.Logging))
		g.Go(func() error { return apiServer.Start(gctx) })
	}

	log.Infow("starting indexer",
		"contract", contract.Hex(),
		"backend", cfg.Storage.Backend(),
		"confirmations", cfg.Indexer.ConfirmationDepth,
		"reorg_policy", cfg.Reorg.Policy,
	)

	g.Go(func() error {
		if err := p.Run(gctx); err != nil {
			return fmt.Errorf("poller stopped: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Errorw("indexer stopped with error", "error", err)
		return err
	}

	log.Info("indexer stopped")
	return nil
}
