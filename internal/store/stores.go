package store

// StoreConfig selects and configures the persistence backend.
type StoreConfig struct {
	Driver      string // "file" (default), "sqlite", "postgres"
	Path        string // directory for file, database file for sqlite
	PostgresDSN string
}

const (
	DriverFile     = "file"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)
