package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"rmcerp.io/internal/migrate"
	"rmcerp.io/internal/obs"
	"rmcerp.io/internal/store/db"
)

func main() {
	var (
		dsn     = flag.String("dsn", os.Getenv("RMCERP_PG_DSN"), "PostgreSQL DSN")
		timeout = flag.Duration("timeout", 60*time.Second, "overall timeout")
	)
	flag.Parse()

	log := obs.NewLogger(os.Stderr, "info", "text")
	if *dsn == "" {
		log.Fatal().Msg("missing DSN: provide via -dsn or RMCERP_PG_DSN")
	}
	if flag.NArg() == 0 {
		log.Fatal().Msg("usage: migrate [up|down|seed|status]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	gw, err := db.Open(*dsn, db.PoolOptions{MaxOpenConns: 1})
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer gw.Close()

	mgr := migrate.NewManager(gw.DB(), migrate.Bundled(), migrate.WithLogger(log))

	switch cmd := flag.Arg(0); cmd {
	case "up":
		applied, err := mgr.Up(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate up")
		}
		log.Info().Int("applied", len(applied)).Msg("migrations up to date")
	case "down":
		name, err := mgr.Down(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("migrate down")
		}
		log.Info().Str("migration", name).Msg("rolled back")
	case "seed":
		applied, err := mgr.Seed(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("seed")
		}
		log.Info().Int("applied", len(applied)).Msg("seeds up to date")
	case "status":
		history, err := mgr.Status(ctx)
		if err != nil {
			log.Fatal().Err(err).Msg("status")
		}
		for _, item := range history {
			fmt.Println(item)
		}
	default:
		log.Fatal().Str("command", cmd).Msg("unknown command")
	}
}
