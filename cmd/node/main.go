package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/uhyunpark/bundlesettle/params"
	"github.com/uhyunpark/bundlesettle/pkg/api"
	"github.com/uhyunpark/bundlesettle/pkg/hook"
	"github.com/uhyunpark/bundlesettle/pkg/metrics"
	"github.com/uhyunpark/bundlesettle/pkg/p2p"
	"github.com/uhyunpark/bundlesettle/pkg/settle"
	"github.com/uhyunpark/bundlesettle/pkg/storage"
	"github.com/uhyunpark/bundlesettle/pkg/token"
	"github.com/uhyunpark/bundlesettle/pkg/util"
	"github.com/uhyunpark/bundlesettle/pkg/venue"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory
	if err := cfg.Validate(); err != nil {
		log.Fatalf("config: %v", err)
	}

	// Setup logging (console, plus file when LOG_FILE is set)
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Node.LogFile != "" {
		logger, err = util.NewLoggerWithFile(cfg.Node.LogFile, cfg.Node.LogLevel)
	} else {
		logger, err = util.NewLogger(cfg.Node.LogLevel)
	}
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	if err := run(cfg, sugar); err != nil {
		sugar.Fatalw("node_failed", "err", err)
	}
	sugar.Info("node_stopped")
}

func run(cfg params.Config, sugar *zap.SugaredLogger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	if err := os.MkdirAll(cfg.Node.DataDir, 0o755); err != nil {
		return err
	}
	store, err := storage.Open(cfg.Node.DataDir)
	if err != nil {
		return err
	}
	defer store.Close()

	var wal storage.WAL = storage.NewNopWAL()
	if cfg.Node.WALFile != "" {
		fw, err := storage.NewFileWAL(cfg.Node.WALFile)
		if err != nil {
			return err
		}
		defer fw.Close()
		wal = fw
	}

	// ---- Devnet collaborators: token bank and venue ----
	custody, venueAddr := cfg.Node.Custody(), cfg.Node.Venue()
	bank := token.NewBank()
	seeds, err := cfg.Node.SeedAssets()
	if err != nil {
		return err
	}
	for _, s := range seeds {
		bank.Mint(venueAddr, s.Asset, s.Amount)
		sugar.Infow("venue_seeded", "asset", s.Asset.Hex(), "amount", s.Amount.Dec())
	}
	pool := venue.NewPool(venueAddr, custody, bank)
	hooks := hook.NewRegistry()
	m := metrics.New()

	// ---- Settlement ----
	var apiServer *api.Server
	settlement := settle.New(store, pool, bank.Account(custody), hooks, custody,
		settle.WithLogger(sugar.Named("settle")),
		settle.WithMetrics(m),
		settle.WithClock(util.RealClock{}),
		settle.WithWAL(wal),
		settle.WithArenaSize(cfg.Node.ArenaInitialBytes),
		settle.WithJournals(bank, pool),
		settle.OnCommit(func(r *storage.Receipt) { apiServer.BroadcastReceipt(r) }),
	)

	apiServer = api.NewServer(settlement, store, api.Config{
		AllowedOrigins: cfg.API.AllowedOrigins,
		Metrics:        m.Handler(),
		Logger:         sugar.Named("api"),
	})

	sugar.Infow("node_starting",
		"data_dir", cfg.Node.DataDir,
		"custody", custody.Hex(),
		"venue", venueAddr.Hex(),
		"last_sequence", store.LastSequence(),
		"p2p", cfg.P2P.Enabled)

	g, ctx := errgroup.WithContext(ctx)

	// ---- API Server ----
	g.Go(func() error {
		return apiServer.Run(ctx, cfg.API.Addr)
	})

	// ---- Bundle gossip (optional) ----
	if cfg.P2P.Enabled {
		verifier, err := p2p.NewVerifier(cfg.P2P.AttesterPubkeys)
		if err != nil {
			return err
		}
		net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
			ListenAddr: cfg.P2P.Listen,
			Bootstrap:  cfg.P2P.Bootstrap,
			Verifier:   verifier,
			Handler: func(ctx context.Context, raw []byte) (uint64, error) {
				rcpt, err := settlement.Execute(ctx, raw)
				if err != nil {
					return 0, err
				}
				return rcpt.Sequence, nil
			},
			Metrics: m,
			Logger:  sugar.Named("p2p"),
		})
		if err != nil {
			return err
		}
		sugar.Infow("p2p_started", "peer_id", net.Host().ID().String(), "attesters", len(cfg.P2P.AttesterPubkeys))
		g.Go(func() error {
			<-ctx.Done()
			return net.Close()
		})
	}

	// Progress logging loop
	g.Go(func() error {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		last := store.LastSequence()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				seq := store.LastSequence()
				if seq != last {
					sugar.Infow("settlement_progress",
						"last_sequence", seq,
						"committed_since_last_log", seq-last,
						"arena_peak_bytes", settlement.ArenaPeak())
					last = seq
				}
			}
		}
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
