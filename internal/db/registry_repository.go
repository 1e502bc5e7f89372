package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/unklstewy/flightscope/internal/metadata"
)

// RegistryRepository reads and writes the aircraft_registry table.
type RegistryRepository struct {
	db *DB
}

// NewRegistryRepository creates a new registry repository.
func NewRegistryRepository(db *DB) *RegistryRepository {
	return &RegistryRepository{db: db}
}

// Load reads the whole table into an in-memory registry.
func (r *RegistryRepository) Load(ctx context.Context) (*metadata.Registry, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT icao24, registration, typecode, manufacturer_icao, manufacturer_name, model
		 FROM aircraft_registry`)
	if err != nil {
		return nil, fmt.Errorf("failed to query registry: %w", err)
	}
	defer rows.Close()

	reg := metadata.NewRegistry()
	for rows.Next() {
		var row metadata.Row
		if err := rows.Scan(&row.ICAO24, &row.Registration, &row.TypeCode,
			&row.ManufacturerICAO, &row.ManufacturerName, &row.Model); err != nil {
			return nil, fmt.Errorf("failed to scan registry row: %w", err)
		}
		reg.Add(row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read registry: %w", err)
	}

	return reg, nil
}

// Upsert inserts or replaces rows in one transaction. Values are stored
// normalized; rows without an icao24 are skipped. Returns the number of
// rows written.
func (r *RegistryRepository) Upsert(ctx context.Context, rows []metadata.Row) (int, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO aircraft_registry
		   (icao24, registration, typecode, manufacturer_icao, manufacturer_name, model, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, NOW())
		 ON CONFLICT (icao24) DO UPDATE SET
		   registration = EXCLUDED.registration,
		   typecode = EXCLUDED.typecode,
		   manufacturer_icao = EXCLUDED.manufacturer_icao,
		   manufacturer_name = EXCLUDED.manufacturer_name,
		   model = EXCLUDED.model,
		   updated_at = NOW()`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	written := 0
	for _, row := range rows {
		n := normalizeRow(row)
		if n.ICAO24 == "" {
			continue
		}
		if _, err := stmt.ExecContext(ctx, n.ICAO24, n.Registration, n.TypeCode,
			n.ManufacturerICAO, n.ManufacturerName, n.Model); err != nil {
			return 0, fmt.Errorf("failed to upsert %s: %w", n.ICAO24, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit: %w", err)
	}
	return written, nil
}

// Count returns the number of registry rows.
func (r *RegistryRepository) Count(ctx context.Context) (int, error) {
	var n int
	if err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM aircraft_registry`).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count registry: %w", err)
	}
	return n, nil
}

// normalizeRow applies the registry's storage form: quotes stripped and the
// address lower-cased.
func normalizeRow(row metadata.Row) metadata.Row {
	n := metadata.Row{
		ICAO24:           metadata.Normalize(row.ICAO24),
		Registration:     metadata.Normalize(row.Registration),
		TypeCode:         metadata.Normalize(row.TypeCode),
		ManufacturerICAO: metadata.Normalize(row.ManufacturerICAO),
		ManufacturerName: metadata.Normalize(row.ManufacturerName),
		Model:            metadata.Normalize(row.Model),
	}
	n.ICAO24 = strings.ToLower(n.ICAO24)
	return n
}
