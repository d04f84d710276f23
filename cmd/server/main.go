package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/havenmh/haven/internal/anchor"
	"github.com/havenmh/haven/internal/api"
	"github.com/havenmh/haven/internal/notify"
	"github.com/havenmh/haven/internal/seal"
	"github.com/havenmh/haven/internal/services"
	"github.com/havenmh/haven/internal/store"
	"github.com/havenmh/haven/internal/utils"
	"github.com/havenmh/haven/internal/zk"
)

func openStore() (store.Store, error) {
	driver := utils.SafeEnv("HAVEN_DB_DRIVER", "memory")
	dsn := os.Getenv("HAVEN_DB_DSN")
	switch driver {
	case "memory":
		return store.NewMemoryStore(), nil
	case "sqlite3":
		if dsn == "" {
			dsn = "haven.db"
		}
		return store.OpenSQLite(dsn)
	case "postgres":
		return store.OpenPostgres(dsn)
	default:
		return nil, errors.New("unknown HAVEN_DB_DRIVER " + driver)
	}
}

func newNotifier(cipher seal.Cipher) (*notify.Dispatcher, error) {
	escrow := os.Getenv("HAVEN_ESCROW_SECRET")
	if escrow == "" {
		slog.Warn("HAVEN_ESCROW_SECRET unset, emergency contact delivery disabled")
		return nil, nil
	}
	var sender notify.SMSSender
	if os.Getenv("HAVEN_TWILIO_ACCOUNT_SID") != "" {
		tw, err := notify.NewTwilioSender()
		if err != nil {
			return nil, err
		}
		sender = tw
	} else {
		slog.Info("twilio not configured, emergency notifications log only")
		sender = &notify.LogSender{}
	}
	return notify.NewDispatcher(sender, cipher, escrow), nil
}

func run() error {
	_ = godotenv.Load()
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, nil)))

	st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	var registry *anchor.Registry
	if dir := utils.SafeEnv("HAVEN_ANCHOR_DIR", "anchors"); dir != "off" {
		registry, err = anchor.Open(dir)
		if err != nil {
			return err
		}
		defer registry.Close()
	}

	cipher := seal.NewSecretBox()
	dispatcher, err := newNotifier(cipher)
	if err != nil {
		return err
	}
	var notifier services.EmergencyNotifier
	if dispatcher != nil {
		notifier = dispatcher
		defer dispatcher.Close()
	}

	prover := zk.NewHashProver()
	privacy := services.NewPrivacyService(st)
	srv := api.NewServer(
		services.NewCredentialService(st, prover, prover),
		services.NewMoodService(st, prover),
		services.NewAssessmentService(st, prover),
		services.NewFeedbackService(st),
		privacy,
		services.NewCrisisService(st, cipher, notifier),
		registry,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Expired disclosures flip to expired lazily on access; the sweeper
	// keeps the stored status honest for audit reads too.
	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if n, err := privacy.SweepExpired(); err != nil {
					slog.Error("disclosure sweep failed", "error", err)
				} else if n > 0 {
					slog.Info("disclosures expired", "count", n)
				}
			}
		}
	}()

	addr := utils.SafeEnv("HAVEN_ADDR", ":8080")
	httpSrv := &http.Server{Addr: addr, Handler: srv.Handler(), ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("haven listening", "addr", addr)
		errCh <- httpSrv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

func main() {
	if err := run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("server exited", "error", err)
		os.Exit(1)
	}
}
