// Package datasource loads the air-quality rows a single process is
// responsible for and matches them against a query filter. Layout and
// matching rules are grounded on the reference loader in
// original_source/overlay_core/data_store.py: one CSV file per date
// under a dataset root, unreadable rows skipped rather than failing the
// whole load.
package datasource

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/aq-overlay/overlay/internal/model"
)

// Datasource answers local filter queries against whatever rows a
// process owns. Local is the only implementation; the interface exists
// so internal/orchestrator can be tested against a fake.
type Datasource interface {
	Query(filter model.QueryFilter) []model.Row
	Dates() []string
	FilesLoaded() int
}

// Local loads one CSV file per date from a directory tree and serves
// filter queries against the in-memory rows assigned to this process.
type Local struct {
	rows        []model.Row
	dates       []string
	filesLoaded int
}

// LoadLocal reads every "<date>.csv" file directly under root whose date
// stem falls within dates (an empty dates reads every file), and returns
// a Local serving exactly those rows. dates need not be sorted; the
// returned Local sorts them. A file that cannot be opened or whose
// header cannot be read is skipped; only an unreadable root is an error.
func LoadLocal(root string, dates []string) (*Local, error) {
	want := make(map[string]bool, len(dates))
	for _, d := range dates {
		want[d] = true
	}
	entries, err := os.ReadDir(root)
	if err != nil {
		return nil, fmt.Errorf("reading dataset root: %w", err)
	}
	l := &Local{}
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".csv" {
			continue
		}
		date := strings.TrimSuffix(e.Name(), ".csv")
		if len(want) > 0 && !want[date] {
			continue
		}
		rows, err := loadCSV(filepath.Join(root, e.Name()), date)
		if err != nil {
			continue
		}
		if len(rows) > 0 {
			l.dates = append(l.dates, date)
		}
		l.rows = append(l.rows, rows...)
		l.filesLoaded++
	}
	sort.Strings(l.dates)
	return l, nil
}

func loadCSV(path, date string) ([]model.Row, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, fmt.Errorf("reading header of %s: %w", path, err)
	}
	index := columnIndex(header)

	var rows []model.Row
	for {
		rec, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			// A malformed line is dropped, not fatal; the rest of the
			// file is still usable.
			continue
		}
		row, ok := parseRow(rec, index, date)
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func columnIndex(header []string) map[string]int {
	idx := make(map[string]int, len(header))
	for i, h := range header {
		idx[strings.ToLower(strings.TrimSpace(h))] = i
	}
	return idx
}

func field(rec []string, idx map[string]int, name string) (string, bool) {
	i, ok := idx[name]
	if !ok || i >= len(rec) {
		return "", false
	}
	return rec[i], true
}

func parseRow(rec []string, idx map[string]int, date string) (model.Row, bool) {
	var row model.Row
	row.Date = date

	lat, ok := field(rec, idx, "latitude")
	if !ok {
		return model.Row{}, false
	}
	latF, err := strconv.ParseFloat(strings.TrimSpace(lat), 64)
	if err != nil {
		return model.Row{}, false
	}
	row.Latitude = latF

	lon, ok := field(rec, idx, "longitude")
	if !ok {
		return model.Row{}, false
	}
	lonF, err := strconv.ParseFloat(strings.TrimSpace(lon), 64)
	if err != nil {
		return model.Row{}, false
	}
	row.Longitude = lonF

	val, ok := field(rec, idx, "value")
	if !ok {
		return model.Row{}, false
	}
	valF, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
	if err != nil {
		return model.Row{}, false
	}
	row.Value = valF

	if ts, ok := field(rec, idx, "timestamp"); ok {
		row.Timestamp = ts
	}
	if p, ok := field(rec, idx, "parameter"); ok {
		row.Parameter = p
	}
	if u, ok := field(rec, idx, "unit"); ok {
		row.Unit = u
	}
	if sn, ok := field(rec, idx, "site_name"); ok {
		row.SiteName = sn
	}
	if aqi, ok := field(rec, idx, "aqi"); ok && strings.TrimSpace(aqi) != "" {
		if v, err := strconv.Atoi(strings.TrimSpace(aqi)); err == nil {
			row.AQI = v
		}
	}
	return row, true
}

// Dates returns the sorted list of dates for which this Local actually
// holds at least one row.
func (l *Local) Dates() []string {
	return l.dates
}

// FilesLoaded reports how many CSV files were successfully opened,
// surfaced verbatim in GetMetrics responses.
func (l *Local) FilesLoaded() int {
	return l.filesLoaded
}

// Query returns every row in l matching filter. Dates are compared
// lexicographically, which is correct for the YYYY-MM-DD format used
// throughout.
func (l *Local) Query(filter model.QueryFilter) []model.Row {
	var out []model.Row
	for _, row := range l.rows {
		if matches(row, filter) {
			out = append(out, row)
		}
	}
	return out
}

func matches(row model.Row, f model.QueryFilter) bool {
	if f.Parameter != "" && !strings.EqualFold(row.Parameter, f.Parameter) {
		return false
	}
	if f.MinValue != nil && row.Value < *f.MinValue {
		return false
	}
	if f.MaxValue != nil && row.Value > *f.MaxValue {
		return false
	}
	if f.DateStart != "" && row.Date < f.DateStart {
		return false
	}
	if f.DateEnd != "" && row.Date > f.DateEnd {
		return false
	}
	if f.LatMin != nil && row.Latitude < *f.LatMin {
		return false
	}
	if f.LatMax != nil && row.Latitude > *f.LatMax {
		return false
	}
	if f.LonMin != nil && row.Longitude < *f.LonMin {
		return false
	}
	if f.LonMax != nil && row.Longitude > *f.LonMax {
		return false
	}
	return true
}
