package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// RequiredSchemaVersion is the migrations/ version this binary reads and writes.
const RequiredSchemaVersion uint = 1

// SchemaStatus is the result of comparing schema_migrations against RequiredSchemaVersion.
type SchemaStatus struct {
	CurrentVersion  uint
	RequiredVersion uint
	Dirty           bool
	Compatible      bool
	NeedsMigration  bool
}

var ErrSchemaIncompatible = errors.New("postgres schema is not compatible with this binary")

// CheckSchema reads the golang-migrate bookkeeping table. A missing table
// or empty row set means no migration has run yet.
func CheckSchema(ctx context.Context, db *sql.DB) (*SchemaStatus, error) {
	var version uint
	var dirty bool

	err := db.QueryRowContext(ctx, "SELECT version, dirty FROM schema_migrations LIMIT 1").Scan(&version, &dirty)
	if err != nil {
		return &SchemaStatus{RequiredVersion: RequiredSchemaVersion, NeedsMigration: true}, nil
	}
	return evaluateSchema(version, dirty), nil
}

func evaluateSchema(version uint, dirty bool) *SchemaStatus {
	s := &SchemaStatus{
		CurrentVersion:  version,
		RequiredVersion: RequiredSchemaVersion,
		Dirty:           dirty,
	}
	if dirty {
		return s
	}
	switch {
	case version == RequiredSchemaVersion:
		s.Compatible = true
	case version < RequiredSchemaVersion:
		s.NeedsMigration = true
	}
	return s
}

// FormatError explains how to recover from an incompatible status.
func FormatError(s *SchemaStatus) string {
	switch {
	case s.Dirty:
		return fmt.Sprintf(
			"context store schema is dirty at v%d (a migration failed partway).\n"+
				"  Fix:  chimein migrate force %d\n"+
				"  Then: chimein migrate up\n",
			s.CurrentVersion, s.CurrentVersion-1)
	case s.CurrentVersion > s.RequiredVersion:
		return fmt.Sprintf(
			"context store schema v%d is newer than this binary (requires v%d).\n"+
				"  Fix: upgrade chimein.\n",
			s.CurrentVersion, s.RequiredVersion)
	default:
		return fmt.Sprintf(
			"context store schema is outdated: current v%d, required v%d.\n"+
				"  Run: chimein migrate up\n",
			s.CurrentVersion, s.RequiredVersion)
	}
}

// EnsureSchema returns ErrSchemaIncompatible, wrapped with recovery
// instructions, unless the schema is at RequiredSchemaVersion.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	s, err := CheckSchema(ctx, db)
	if err != nil {
		return err
	}
	if s.Compatible {
		return nil
	}
	return fmt.Errorf("%w\n%s", ErrSchemaIncompatible, FormatError(s))
}
