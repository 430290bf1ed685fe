package output

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/casgen-dev/casgen/internal/types"
)

// Artifact filenames. patients.json is written for every job; the others
// depend on the requested formats.
const (
	PatientsJSON = "patients.json"
	PatientsCSV  = "patients.csv"
)

// BundleName returns the compressed bundle filename for a job.
func BundleName(jobID string) string { return "job_" + jobID + ".zip" }

// csvHeader is the fixed column order of patients.csv. Consumers parse by
// position, so the order is part of the wire contract.
var csvHeader = []string{
	"id",
	"nationality",
	"triage",
	"injury_type",
	"final_status",
	"last_facility",
	"injury_timestamp",
	"hours_to_outcome",
	"facilities_visited",
	"total_timeline_events",
}

// JSONWriter streams patients into a JSON array one element at a time, so
// peak memory stays proportional to the batch size rather than the cohort.
type JSONWriter struct {
	f     *os.File
	buf   *bufio.Writer
	count int
	done  bool
}

// NewJSONWriter creates (or truncates) the target file and writes the array
// opener.
func NewJSONWriter(path string) (*JSONWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	w := &JSONWriter{f: f, buf: bufio.NewWriterSize(f, 1<<16)}
	if _, err := w.buf.WriteString("[\n"); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Append writes one patient. Elements are emitted in call order; the caller
// feeds patients in id order to keep output deterministic.
func (w *JSONWriter) Append(p *types.Patient) error {
	raw, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("marshal patient %d: %w", p.ID, err)
	}
	if w.count > 0 {
		if _, err := w.buf.WriteString(",\n"); err != nil {
			return err
		}
	}
	if _, err := w.buf.Write(raw); err != nil {
		return err
	}
	w.count++
	return nil
}

// Finish closes the array and the file, returning artifact metadata.
func (w *JSONWriter) Finish() (types.OutputFile, error) {
	w.done = true
	if _, err := w.buf.WriteString("\n]\n"); err != nil {
		return types.OutputFile{}, err
	}
	if err := w.buf.Flush(); err != nil {
		return types.OutputFile{}, err
	}
	info, err := w.f.Stat()
	if err != nil {
		w.f.Close()
		return types.OutputFile{}, err
	}
	if err := w.f.Close(); err != nil {
		return types.OutputFile{}, err
	}
	return types.OutputFile{
		Name:        filepath.Base(w.f.Name()),
		Format:      "json",
		ContentType: "application/json",
		SizeBytes:   info.Size(),
	}, nil
}

// Close releases the file without finalizing; safe to defer alongside
// Finish.
func (w *JSONWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.f.Close()
}

// CSVWriter streams the flat per-patient summary rows.
type CSVWriter struct {
	f     *os.File
	cw    *csv.Writer
	count int
	done  bool
}

// NewCSVWriter creates the target file and writes the header row.
func NewCSVWriter(path string) (*CSVWriter, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", filepath.Base(path), err)
	}
	w := &CSVWriter{f: f, cw: csv.NewWriter(f)}
	if err := w.cw.Write(csvHeader); err != nil {
		f.Close()
		return nil, err
	}
	return w, nil
}

// Append writes one patient row.
func (w *CSVWriter) Append(p *types.Patient) error {
	visited := p.FacilitiesVisited()
	names := make([]string, len(visited))
	for i, f := range visited {
		names[i] = string(f)
	}
	row := []string{
		strconv.Itoa(p.ID),
		p.Nationality,
		string(p.Triage),
		string(p.InjuryType),
		string(p.FinalStatus),
		string(p.LastFacility),
		p.InjuryTimestamp.UTC().Format(time.RFC3339Nano),
		strconv.FormatFloat(p.HoursToOutcome, 'f', 2, 64),
		strings.Join(names, ";"),
		strconv.Itoa(len(p.Timeline)),
	}
	if err := w.cw.Write(row); err != nil {
		return fmt.Errorf("write patient %d row: %w", p.ID, err)
	}
	w.count++
	return nil
}

// Finish flushes and closes the file, returning artifact metadata.
func (w *CSVWriter) Finish() (types.OutputFile, error) {
	w.done = true
	w.cw.Flush()
	if err := w.cw.Error(); err != nil {
		w.f.Close()
		return types.OutputFile{}, err
	}
	info, err := w.f.Stat()
	if err != nil {
		w.f.Close()
		return types.OutputFile{}, err
	}
	if err := w.f.Close(); err != nil {
		return types.OutputFile{}, err
	}
	return types.OutputFile{
		Name:        filepath.Base(w.f.Name()),
		Format:      "csv",
		ContentType: "text/csv",
		SizeBytes:   info.Size(),
	}, nil
}

// Close releases the file without finalizing; safe to defer alongside
// Finish.
func (w *CSVWriter) Close() error {
	if w.done {
		return nil
	}
	w.done = true
	return w.f.Close()
}
