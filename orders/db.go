package orders

import (
	"fmt"
	"strings"

	"github.com/glebarez/sqlite"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"paymebridge/storage"
)

const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
)

// Open connects to the order database and migrates its schema. SQLite paths
// are resolved the same way as the transaction store.
func Open(driver, dsn string) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverPostgres:
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("orders: postgres dsn required")
		}
		dialector = postgres.Open(dsn)
	case DriverSQLite, "":
		resolved, err := storage.FileDSN(dsn)
		if err != nil {
			return nil, fmt.Errorf("orders: %w", err)
		}
		dialector = sqlite.Open(resolved)
	default:
		return nil, fmt.Errorf("orders: unsupported driver %q", driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("orders: open %s: %w", driver, err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("orders: migrate: %w", err)
	}
	return db, nil
}
