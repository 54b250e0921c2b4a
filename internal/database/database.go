package database

import (
	"fmt"
	"strings"

	sqlite "github.com/glebarez/sqlite"
	"github.com/magidekt/backend/internal/decks"
	"github.com/magidekt/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

const (
	// DriverSQLite opens the DSN as a SQLite file path.
	DriverSQLite = "sqlite"
	// DriverPostgres opens the DSN as a PostgreSQL connection string.
	DriverPostgres = "postgres"

	sqliteForeignKeysPragma = "_pragma=foreign_keys(1)"
)

// SQLiteDSN returns the SQLite DSN for path with foreign key enforcement turned on.
// SQLite leaves it off per connection unless asked.
func SQLiteDSN(path string) string {
	if strings.Contains(path, sqliteForeignKeysPragma) {
		return path
	}
	separator := "?"
	if strings.Contains(path, "?") {
		separator = "&"
	}
	return path + separator + sqliteForeignKeysPragma
}

// Open establishes a database connection for the given driver and performs schema migrations.
func Open(driver, dsn string, logger *zap.Logger) (*gorm.DB, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	var dialector gorm.Dialector
	switch driver {
	case DriverSQLite:
		dialector = sqlite.Open(SQLiteDSN(dsn))
	case DriverPostgres:
		dialector = postgres.Open(dsn)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{TranslateError: true})
	if err != nil {
		return nil, err
	}

	if driver == DriverSQLite {
		sqlDB, err := db.DB()
		if err != nil {
			return nil, err
		}
		sqlDB.SetMaxOpenConns(1)
	}

	if err := Migrate(db, logger); err != nil {
		return nil, err
	}

	if logger != nil {
		logger.Info("database initialized", zap.String("driver", driver))
	}

	return db, nil
}

// Migrate creates the schema and applies pending named migrations.
func Migrate(db *gorm.DB, logger *zap.Logger) error {
	if err := db.AutoMigrate(&users.User{}, &decks.Deck{}, &decks.DeckCard{}, &decks.DeckFormat{}, &migrationRecord{}); err != nil {
		return err
	}
	return applyMigrations(db, logger)
}
