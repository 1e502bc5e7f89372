// Package metadata maps ICAO24 transponder addresses to aircraft registry
// data (registration, type designator, manufacturer and model).
package metadata

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
)

// Aircraft is the registry data attached to a flight record.
type Aircraft struct {
	Registration string
	TypeCode     string
	Model        string
}

// Directory looks up registry data by ICAO24 address.
type Directory interface {
	Lookup(icao24 string) (Aircraft, bool)
}

// Row is one raw registry entry, before normalization.
type Row struct {
	ICAO24           string
	Registration     string
	TypeCode         string
	ManufacturerICAO string
	ManufacturerName string
	Model            string
}

// Normalize strips single quotes and surrounding whitespace, as found in
// the OpenSky aircraft database export.
func Normalize(s string) string {
	return strings.TrimSpace(strings.ReplaceAll(s, "'", ""))
}

// NewAircraft builds the display record for a row. The model string is
// prefixed with the manufacturer ICAO code and name unless the model (or,
// for the code, the name) already starts with them, so "BOEING" +
// "Boeing 737-8AS" reads "Boeing 737-8AS" rather than repeating the maker.
func NewAircraft(row Row) Aircraft {
	mfrICAO := Normalize(row.ManufacturerICAO)
	mfrName := Normalize(row.ManufacturerName)
	model := Normalize(row.Model)

	lowerModel := strings.ToLower(model)
	var parts []string
	if mfrICAO != "" {
		lowerICAO := strings.ToLower(mfrICAO)
		if !strings.HasPrefix(strings.ToLower(mfrName), lowerICAO) && !strings.HasPrefix(lowerModel, lowerICAO) {
			parts = append(parts, mfrICAO)
		}
	}
	if mfrName != "" && !strings.HasPrefix(lowerModel, strings.ToLower(mfrName)) {
		parts = append(parts, mfrName)
	}
	parts = append(parts, model)

	return Aircraft{
		Registration: Normalize(row.Registration),
		TypeCode:     Normalize(row.TypeCode),
		Model:        Normalize(strings.Join(parts, " ")),
	}
}

// Registry is an in-memory Directory. It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	planes map[string]Aircraft
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{planes: make(map[string]Aircraft)}
}

// Add stores a row under its normalized, lower-cased ICAO24 address.
// Rows without an address are ignored.
func (r *Registry) Add(row Row) {
	key := strings.ToLower(Normalize(row.ICAO24))
	if key == "" {
		return
	}
	aircraft := NewAircraft(row)

	r.mu.Lock()
	r.planes[key] = aircraft
	r.mu.Unlock()
}

// Lookup returns the registry data for icao24, case-insensitively.
func (r *Registry) Lookup(icao24 string) (Aircraft, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.planes[strings.ToLower(strings.TrimSpace(icao24))]
	return a, ok
}

// Len returns the number of aircraft in the registry.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.planes)
}

// csvColumns are the header names LoadCSV reads.
var csvColumns = []string{"icao24", "registration", "typecode", "manufacturericao", "manufacturername", "model"}

// LoadCSV reads a registry CSV into a new Registry. Malformed rows are
// skipped and counted in the returned error alongside the loaded registry.
func LoadCSV(r io.Reader) (*Registry, error) {
	reg := NewRegistry()
	skipped, err := ReadCSV(r, reg.Add)
	if err != nil {
		if reg.Len() == 0 {
			return nil, err
		}
		return reg, err
	}
	if skipped > 0 {
		return reg, fmt.Errorf("skipped %d malformed csv rows", skipped)
	}
	return reg, nil
}

// ReadCSV streams the rows of a registry CSV with a header row to fn.
// Header names are matched case-insensitively after normalization; columns
// other than icao24 may be missing. Rows the csv reader rejects are skipped
// and counted.
func ReadCSV(r io.Reader, fn func(Row)) (skipped int, err error) {
	cr := csv.NewReader(r)
	cr.ReuseRecord = true
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return 0, fmt.Errorf("read csv header: %w", err)
	}

	index := make(map[string]int, len(csvColumns))
	for i, h := range header {
		index[strings.ToLower(Normalize(h))] = i
	}
	if _, ok := index["icao24"]; !ok {
		return 0, errors.New("csv header has no icao24 column")
	}

	field := func(rec []string, name string) string {
		i, ok := index[name]
		if !ok || i >= len(rec) {
			return ""
		}
		return rec[i]
	}

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			return skipped, nil
		}
		if err != nil {
			var pe *csv.ParseError
			if errors.As(err, &pe) {
				skipped++
				continue
			}
			return skipped, fmt.Errorf("read csv: %w", err)
		}

		fn(Row{
			ICAO24:           field(rec, "icao24"),
			Registration:     field(rec, "registration"),
			TypeCode:         field(rec, "typecode"),
			ManufacturerICAO: field(rec, "manufacturericao"),
			ManufacturerName: field(rec, "manufacturername"),
			Model:            field(rec, "model"),
		})
	}
}

// LoadCSVFile opens path and loads it with LoadCSV.
func LoadCSVFile(path string) (*Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open planes csv: %w", err)
	}
	defer f.Close()

	return LoadCSV(f)
}
