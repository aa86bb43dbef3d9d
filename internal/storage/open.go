package storage

import "fmt"

// Storage drivers.
const (
	DriverFile   = "file"
	DriverSQLite = "sqlite"
)

// Open returns the Provider for driver. For DriverFile path is a directory,
// for DriverSQLite it is the database file.
func Open(driver, path string) (Provider, error) {
	switch driver {
	case DriverFile, "":
		return NewFS(path)
	case DriverSQLite:
		return OpenSQLite(path)
	}
	return nil, fmt.Errorf("storage: unknown driver %q", driver)
}
