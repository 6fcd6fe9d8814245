package storage

import (
	"fmt"
	"strings"
)

// Supported Database drivers.
const (
	DriverMemory  = "memory"
	DriverLevelDB = "leveldb"
	DriverSQLite  = "sqlite"
)

// Open returns the Database selected by driver. The in-memory driver ignores
// path.
func Open(driver, path string) (Database, error) {
	switch strings.ToLower(strings.TrimSpace(driver)) {
	case DriverMemory:
		return NewMemDB(), nil
	case DriverLevelDB:
		return NewLevelDB(path)
	case "", DriverSQLite:
		return OpenSQLite(path)
	default:
		return nil, fmt.Errorf("storage: unknown driver %q", driver)
	}
}
