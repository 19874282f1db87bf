package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	migratemysql "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	"github.com/iliyamo/lmeve2/internal/settings"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Migrate applies every pending embedded migration to cfg.Database and
// returns the resulting schema version.
func Migrate(ctx context.Context, cfg settings.DBConfig) (uint, error) {
	mc := Config(cfg)
	mc.DBName = cfg.Database
	mc.MultiStatements = true
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return 0, AsError(StageConnect, err)
	}
	db := sql.OpenDB(connector)
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		return 0, AsError(StageConnect, err)
	}

	driver, err := migratemysql.WithInstance(db, &migratemysql.Config{DatabaseName: cfg.Database})
	if err != nil {
		return 0, AsError(StageSelectDB, err)
	}
	src, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return 0, fmt.Errorf("load migrations: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "mysql", driver)
	if err != nil {
		return 0, fmt.Errorf("init migrate: %w", err)
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return 0, AsError(StageQuery, err)
	}
	v, _, err := m.Version()
	if err != nil && !errors.Is(err, migrate.ErrNilVersion) {
		return 0, err
	}
	return v, nil
}
