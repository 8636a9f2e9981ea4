package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/roniherschmann/go-pollguard/internal/config"
	"github.com/roniherschmann/go-pollguard/internal/httpapi"
	"github.com/roniherschmann/go-pollguard/internal/store"
	"github.com/roniherschmann/go-pollguard/internal/vote"
)

func main() {
	// Fast JSON logs by default; pretty if running in a TTY/dev
	if isatty() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		zerolog.TimeFieldFormat = time.RFC3339
	}

	// .env is optional; real environment wins
	_ = godotenv.Load()
	cfg := config.Load()

	var dsnFlag, storeFlag string
	flag.StringVar(&dsnFlag, "dsn", "", "SQLite DSN (overrides env DB_DSN)")
	flag.StringVar(&storeFlag, "store", "", "store backend: sqlite or redis (overrides env STORE_BACKEND)")
	flag.Parse()
	if dsnFlag != "" {
		cfg.DBDSN = dsnFlag
	}
	if storeFlag != "" {
		cfg.StoreBackend = storeFlag
	}
	if cfg.CandidatesFile != "" {
		ids, err := config.LoadCandidates(cfg.CandidatesFile)
		if err != nil {
			log.Fatal().Err(err).Msg("load candidates")
		}
		cfg.Candidates = ids
	}
	if err := cfg.Validate(); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	st, err := openStore(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.StoreBackend).Msg("open store")
	}
	defer st.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), cfg.StoreTimeout)
	if err := st.Ping(pingCtx); err != nil {
		log.Warn().Err(err).Msg("store not reachable yet")
	}
	cancelPing()

	svc := vote.NewService(st, vote.NewCandidates(cfg.Candidates...), vote.Options{
		GlobalCap:      cfg.GlobalVoteCap,
		GlobalWindow:   cfg.GlobalWindow,
		AddressLockTTL: cfg.AddressLockTTL,
		LogCap:         cfg.VoteLogCap,
		TestModeSecret: cfg.TestModeSecret,
		StoreTimeout:   cfg.StoreTimeout,
	})
	if cfg.TestModeSecret != "" {
		log.Warn().Msg("test mode enabled")
	}

	// HTTP server
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           httpapi.NewRouter(svc),
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Graceful shutdown
	go func() {
		log.Info().
			Int("port", cfg.Port).
			Str("backend", cfg.StoreBackend).
			Strs("candidates", cfg.Candidates).
			Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info().Msg("shutdown signal")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server shutdown")
	}
	log.Info().Msg("bye")
}

func openStore(cfg config.Config) (store.Store, error) {
	if cfg.StoreBackend == "redis" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return store.NewRedis(client), nil
	}

	db, err := sql.Open("sqlite3", cfg.DBDSN)
	if err != nil {
		return nil, err
	}

	// Connection pool tuning
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(25)
	db.SetConnMaxLifetime(5 * time.Minute)

	// Migrate schema
	if err := store.Migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return store.NewSQLite(db), nil
}

func isatty() bool {
	fi, err := os.Stderr.Stat()
	if err != nil {
		return false
	}
	return (fi.Mode() & os.ModeCharDevice) != 0
}
