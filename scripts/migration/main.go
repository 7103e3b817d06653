package main

import (
	"context"
	"flag"
	"os"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jayykioh/TRAVYY-touring-website-sub000/config"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/dao"
	"github.com/jayykioh/TRAVYY-touring-website-sub000/db"
)

// Applies the thread store schema to the database selected by
// STORE_DRIVER. Safe to run repeatedly.
func main() {
	timeout := flag.Duration("timeout", 30*time.Second, "overall migration timeout")
	flag.Parse()

	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load config")
	}

	var (
		dialect dao.Dialect
		dsn     string
	)
	switch cfg.StoreDriver {
	case "mysql":
		dialect, dsn = dao.MySQL, cfg.MySQLDSN()
	case "sqlite":
		dialect, dsn = dao.SQLite, cfg.SQLiteDSN()
	default:
		log.Fatal().Str("driver", cfg.StoreDriver).Msg("Nothing to migrate for this store driver")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	conn, err := sqlx.ConnectContext(ctx, dialect.DriverName, dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to DB")
	}
	defer conn.Close()

	log.Info().Str("driver", dialect.DriverName).Msg("Applying schema...")
	if err := db.Migrate(ctx, conn); err != nil {
		log.Fatal().Err(err).Msg("Migration failed")
	}
	log.Info().Msg("Migration Done.")
}
