package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"otcledger/config"
	"otcledger/history"
	"otcledger/native/credit"
	"otcledger/native/escrow"
	"otcledger/native/otc"
	"otcledger/observability/logging"
	"otcledger/rpc"
	"otcledger/state"
	"otcledger/storage"
)

// staticMakerRegistry treats every maker as active with a fixed capacity. It
// is the stand-in until the maker registry service is wired.
type staticMakerRegistry struct {
	capacity *big.Int
}

func (r staticMakerRegistry) IsActive(string) bool { return true }

func (r staticMakerRegistry) ListedCapacity(string) *big.Int {
	return new(big.Int).Set(r.capacity)
}

// staticPricing serves a fixed 10^6 scaled USD price per token unit. It is
// the stand-in until the quoting service is wired.
type staticPricing struct {
	price uint64
}

func (p staticPricing) CurrentPrice() uint64 { return p.price }

func main() {
	configPath := flag.String("config", "./config.toml", "path to the configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "otcd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var log *slog.Logger
	if cfg.LogFile != "" {
		log = logging.SetupWithWriter(&lumberjack.Logger{
			Filename:   cfg.LogFile,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}, "otcd", cfg.Env)
	} else {
		log = logging.Setup("otcd", cfg.Env)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := storage.NewLevelDB(filepath.Join(cfg.DataDir, "ledger"))
	if err != nil {
		return fmt.Errorf("open ledger db: %w", err)
	}
	defer db.Close()

	manager := state.NewManager(db)

	ledger := escrow.NewLedger()
	ledger.SetState(manager)

	creditEngine := credit.NewEngine()
	creditEngine.SetState(manager)

	orders := otc.NewEngine()
	orders.SetState(manager)
	orders.SetEscrow(ledger)
	orders.SetCredit(creditEngine)
	orders.SetMakerRegistry(staticMakerRegistry{capacity: new(big.Int).Lsh(big.NewInt(1), 62)})
	orders.SetPricing(staticPricing{price: cfg.StaticPriceUSD})
	orders.SetRateLimits(otc.NewRateLimits(cfg.OpenPerMinute, cfg.PaidPerMinute))
	orders.SetParams(otc.Params{
		PaymentWindowSecs:     cfg.PaymentWindowSecs,
		EvidenceWindowSecs:    cfg.EvidenceWindowSecs,
		MaxOrdersPerAccount:   cfg.MaxOrdersPerAccount,
		FirstPurchasePerMaker: cfg.FirstPurchasePerMaker,
		FirstPurchaseMinUSD:   cfg.FirstPurchaseMinUSD,
		FirstPurchaseMaxUSD:   cfg.FirstPurchaseMaxUSD,
		RetentionSecs:         cfg.RetentionDays * 24 * 60 * 60,
	})

	if cfg.HistoryDSN != "" {
		archive, err := history.Open(cfg.HistoryDSN)
		if err != nil {
			return fmt.Errorf("open history store: %w", err)
		}
		orders.SetHistory(archive)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go runSweeps(ctx, orders, cfg, log)

	server := &http.Server{
		Addr:              cfg.RPCAddress,
		Handler:           rpc.NewServer(orders, creditEngine, log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Info("otcd started", "rpc", cfg.RPCAddress, "dataDir", cfg.DataDir)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.Info("otcd stopped")
	return nil
}

// runSweeps drives the expiry and archival passes on a fixed interval until
// the context is cancelled.
func runSweeps(ctx context.Context, orders *otc.Engine, cfg *config.Config, log *slog.Logger) {
	ticker := time.NewTicker(time.Duration(cfg.SweepIntervalSecs) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if report, err := orders.ExpirySweep(cfg.ExpiryBatch); err != nil {
				log.Error("expiry sweep failed", "err", err)
			} else if report.Processed > 0 || report.Retried > 0 {
				log.Info("expiry sweep", "processed", report.Processed, "retried", report.Retried)
			}
			if report, err := orders.ArchiveSweep(cfg.ArchiveBatch); err != nil {
				log.Error("archive sweep failed", "err", err)
			} else if report.Processed > 0 {
				log.Info("archive sweep", "processed", report.Processed)
			}
		}
	}
}
