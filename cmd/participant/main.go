package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-participant/internal/api"
	"github.com/stemsi/exstem-participant/internal/config"
	"github.com/stemsi/exstem-participant/internal/database"
	"github.com/stemsi/exstem-participant/internal/logger"
	"github.com/stemsi/exstem-participant/internal/session"
	"github.com/stemsi/exstem-participant/internal/store"
)

func main() {
	os.Exit(run())
}

func run() int {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)
	log.Info().
		Str("api", cfg.APIBaseURL).
		Str("store", cfg.StoreDriver).
		Str("timezone", cfg.ExamTimezone).
		Msg("Starting ExStem participant")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ─── Open Session Store ────────────────────────────────────────────
	st, closeStore, err := openStore(ctx, cfg, log)
	if err != nil {
		log.Error().Err(err).Msg("Failed to open session store")
		return 1
	}
	defer closeStore()

	// ─── API Client ────────────────────────────────────────────────────
	client := api.New(api.Options{
		BaseURL:       cfg.APIBaseURL,
		Timeout:       cfg.HTTPTimeout,
		BeaconTimeout: cfg.BeaconTimeout,
	}, log)
	defer func() {
		// Let the last draft beacon land before the process exits.
		drainCtx, cancel := context.WithTimeout(context.Background(), cfg.BeaconTimeout+time.Second)
		defer cancel()
		client.Drain(drainCtx)
	}()

	con := newConsole(os.Stdin, os.Stdout)

	// ─── Exam Loop ─────────────────────────────────────────────────────
	// Losing the identity mid-exam sends the participant back to login.
	for {
		if err := ensureLogin(ctx, con, client, st); err != nil {
			if ctx.Err() != nil || errors.Is(err, errInputClosed) {
				return 0
			}
			con.printf("Login gagal: %v\n", err)
			log.Warn().Err(err).Msg("Login failed")
			continue
		}

		outcome, err := runExam(ctx, cfg, log, con, client, st)
		switch outcome {
		case outcomeLoginAgain:
			con.printf("\n%v\nSilakan login ulang.\n\n", err)
			continue
		case outcomeFailed:
			con.fullScreenError(err)
			return 1
		default:
			return 0
		}
	}
}

func openStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (store.SessionStore, func(), error) {
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		log.Warn().Msg("Using in-memory session store, progress will not survive a restart")
		return store.NewMemoryStore(), func() {}, nil

	case config.StoreDriverRedis:
		rdb, err := database.NewRedisClient(ctx, cfg.RedisURL, log)
		if err != nil {
			return nil, nil, err
		}
		return store.NewRedisStore(rdb), func() { _ = rdb.Close() }, nil

	case config.StoreDriverPostgres:
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		return store.NewPostgresStore(pool), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown STORE_DRIVER %q", cfg.StoreDriver)
}

// ensureLogin exchanges a login code unless an identity is already stored.
func ensureLogin(ctx context.Context, con *console, client *api.Client, st store.SessionStore) error {
	if _, err := session.LoadIdentity(ctx, st); err == nil {
		return nil
	}

	code, err := con.readSecret(ctx, "Kode login: ")
	if err != nil {
		return err
	}
	if code == "" {
		return errors.New("kode login kosong")
	}

	identity, err := client.Login(ctx, code)
	if err != nil {
		var apiErr *api.Error
		if errors.As(err, &apiErr) {
			return errors.New(apiErr.Message)
		}
		return err
	}
	if err := session.SaveIdentity(ctx, st, identity); err != nil {
		return fmt.Errorf("simpan identitas: %w", err)
	}
	con.printf("Selamat datang, %s.\n", identity.Name)
	return nil
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
