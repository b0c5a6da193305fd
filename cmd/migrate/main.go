package main

import (
	"database/sql"
	"flag"
	"os"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/config"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/log"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/repository"
)

var (
	flags = flag.NewFlagSet("migrate", flag.ExitOnError)
	dsn   = flags.String("dsn", "", "postgres DSN (defaults to YP_POSTGRES_DSN)")
)

func main() {
	flags.Parse(os.Args[1:])
	args := flags.Args()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	logger, err := log.NewSugar(cfg.Env, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer logger.Sync()

	if len(args) < 1 {
		logger.Fatal("usage: migrate [-dsn DSN] up|down|status")
	}

	target := *dsn
	if target == "" {
		target = cfg.Journal.PostgresDSN
	}
	if target == "" {
		logger.Fatal("no postgres DSN: set YP_POSTGRES_DSN or pass -dsn")
	}

	db, err := sql.Open("pgx", target)
	if err != nil {
		logger.Fatalw("open database", "error", err)
	}
	defer db.Close()

	if err := repository.Migrate(db, args[0]); err != nil {
		logger.Fatalw("migration failed", "command", args[0], "error", err)
	}
	logger.Infow("migration complete", "command", args[0])
}
