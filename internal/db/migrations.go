package db

import (
	"database/sql"
	"embed"
	"fmt"

	"github.com/gordonmurray/eth-blockchain-pipeline/internal/logger"
	migrate "github.com/rubenv/sql-migrate"
)

const (
	NoLimitMigrations = 0 // indicate that there is no limit on the number of migrations to run

	DialectSQLite = "sqlite3"
)

// Migrations is a directory of annotated .sql files embedded in a binary.
// Files are applied in name order; each must carry "-- +migrate Up" and
// "-- +migrate Down" sections.
type Migrations struct {
	FS   embed.FS
	Root string
}

func (m Migrations) source() *migrate.EmbedFileSystemMigrationSource {
	return &migrate.EmbedFileSystemMigrationSource{FileSystem: m.FS, Root: m.Root}
}

// RunMigrationsDB applies every pending migration upwards.
func RunMigrationsDB(log *logger.Logger, db *sql.DB, dialect string, migrations Migrations) error {
	return RunMigrationsDBExtended(log, db, dialect, migrations, migrate.Up, NoLimitMigrations)
}

// RunMigrationsDBExtended is an extended version of RunMigrationsDB that allows
// dir: can be migrate.Up or migrate.Down
// maxMigrations: Will apply at most `max` migrations. Pass 0 for no limit (or use Exec)
func RunMigrationsDBExtended(log *logger.Logger,
	db *sql.DB,
	dialect string,
	migrations Migrations,
	dir migrate.MigrationDirection,
	maxMigrations int) error {
	src := migrations.source()

	found, err := src.FindMigrations()
	if err != nil {
		return fmt.Errorf("error loading migrations from %s: %w", migrations.Root, err)
	}

	log.Debugf("running migrations: (max %d/%d) direction: %d", maxMigrations, len(found), dir)
	nMigrations, err := migrate.ExecMax(db, dialect, src, dir, maxMigrations)
	if err != nil {
		return fmt.Errorf("error executing migration (max %d/%d): %w", maxMigrations, len(found), err)
	}

	log.Infof("successfully ran %d of %d migrations", nMigrations, len(found))
	return nil
}
