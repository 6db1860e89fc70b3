package database

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	apperrors "ppm/src/errors"
)

// ImportInfo describes a database file offered for import.
type ImportInfo struct {
	Path          string `json:"path"`
	SchemaVersion int    `json:"schema_version"`
	Personas      int    `json:"personas"`
}

// Export checkpoints the write-ahead log and copies the database to dest.
func (s *Store) Export(ctx context.Context, dest string) error {
	if samePath(dest, s.path) {
		return apperrors.NewValidationError("dest", dest, "cannot export over the live database")
	}

	// wal_checkpoint returns a result row, so it must go through Query
	rows, err := s.db.QueryContext(ctx, "PRAGMA wal_checkpoint(TRUNCATE)")
	if err != nil {
		return apperrors.NewDatabaseError("checkpoint", "wal", err)
	}
	for rows.Next() {
		// drain the busy/log/checkpointed row
	}
	_ = rows.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	if err := copyFile(s.path, dest); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}

	s.logger.Info("database exported", zap.String("dest", dest))
	return nil
}

// InspectImport validates src as a database this build can load and counts
// its personas.
func (s *Store) InspectImport(ctx context.Context, src string) (ImportInfo, error) {
	return inspect(ctx, src)
}

func inspect(ctx context.Context, src string) (ImportInfo, error) {
	if _, err := os.Stat(src); err != nil {
		return ImportInfo{}, fmt.Errorf("failed to read import file: %w", err)
	}

	db, err := openFile(ctx, src)
	if err != nil {
		return ImportInfo{}, err
	}
	defer db.Close()

	version, ok, err := readSchemaVersion(ctx, db)
	if err != nil {
		return ImportInfo{}, err
	}
	if !ok {
		return ImportInfo{}, fmt.Errorf("%w: missing schema version", apperrors.ErrIncompatibleSchema)
	}
	if version > SchemaVersion {
		return ImportInfo{}, fmt.Errorf("%w: schema version %d is newer than supported %d",
			apperrors.ErrIncompatibleSchema, version, SchemaVersion)
	}

	var personas int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM personas`).Scan(&personas); err != nil {
		return ImportInfo{}, fmt.Errorf("%w: %v", apperrors.ErrIncompatibleSchema, err)
	}

	return ImportInfo{Path: src, SchemaVersion: version, Personas: personas}, nil
}

// Import replaces the live database with src after validating it. Older
// schemas are migrated on reopen. Import must not run concurrently with
// other store calls.
func (s *Store) Import(ctx context.Context, src string) (ImportInfo, error) {
	if samePath(src, s.path) {
		return ImportInfo{}, apperrors.NewValidationError("src", src, "cannot import the live database onto itself")
	}

	info, err := inspect(ctx, src)
	if err != nil {
		return ImportInfo{}, err
	}

	if err := s.db.Close(); err != nil {
		return ImportInfo{}, fmt.Errorf("failed to close database: %w", err)
	}
	for _, suffix := range []string{"-wal", "-shm"} {
		_ = os.Remove(s.path + suffix)
	}

	copyErr := copyFile(src, s.path)
	// Reopen either way so the store stays usable.
	if err := s.connect(ctx); err != nil {
		return ImportInfo{}, fmt.Errorf("failed to reopen database: %w", err)
	}
	if copyErr != nil {
		return ImportInfo{}, fmt.Errorf("failed to import database: %w", copyErr)
	}

	s.logger.Info("database imported",
		zap.String("src", src),
		zap.Int("personas", info.Personas))
	return info, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	tmp := dest + ".tmp"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, dest)
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	return errA == nil && errB == nil && absA == absB
}
