// Package importer loads historical fixes from CSV exports.
package importer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/gocarina/gocsv"
	"github.com/rs/zerolog/log"

	"github.com/jengzang/commute-trips-backend/internal/models"
)

// DefaultBatchSize is the number of rows ingested per transaction
const DefaultBatchSize = 500

// Ingester stores fix batches
type Ingester interface {
	IngestBatch(ctx context.Context, inputs []models.FixInput) (*models.BatchResult, error)
}

// fixRow is one CSV record, kept as text so a bad cell rejects its row
// instead of the file. recorded_at is RFC 3339 or unix milliseconds; speed
// and accuracy may be empty.
type fixRow struct {
	SubjectID  string `csv:"subject_id"`
	Latitude   string `csv:"latitude"`
	Longitude  string `csv:"longitude"`
	Speed      string `csv:"speed"`
	Accuracy   string `csv:"accuracy"`
	RecordedAt string `csv:"recorded_at"`
	Source     string `csv:"source"`
}

// Importer feeds CSV rows through ingestion, so imported fixes obey the
// same validation and dedup rules as live ones
type Importer struct {
	ingest    Ingester
	BatchSize int
}

// New creates an importer
func New(ingest Ingester) *Importer {
	return &Importer{ingest: ingest, BatchSize: DefaultBatchSize}
}

// ImportFile imports the CSV file at path
func (im *Importer) ImportFile(ctx context.Context, path string) (*models.BatchResult, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open import file: %w", err)
	}
	defer f.Close()

	log.Info().Str("component", "importer").Str("file", path).Msg("Loading file")
	return im.Import(ctx, f)
}

// Import reads fixes from r. Result indexes are 0-based data rows.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*models.BatchResult, error) {
	// Allow records with missing trailing columns
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	var rows []*fixRow
	if err := gocsv.UnmarshalCSV(reader, &rows); err != nil {
		return nil, fmt.Errorf("failed to parse csv file: %w", err)
	}

	total := &models.BatchResult{Results: make([]models.FixResult, 0, len(rows))}
	batchSize := im.BatchSize
	if batchSize < 1 {
		batchSize = DefaultBatchSize
	}

	var (
		inputs  []models.FixInput
		indexes []int
	)
	flush := func() error {
		if len(inputs) == 0 {
			return nil
		}
		res, err := im.ingest.IngestBatch(ctx, inputs)
		if err != nil {
			return err
		}
		for _, item := range res.Results {
			item.Index = indexes[item.Index]
			total.Results = append(total.Results, item)
		}
		total.Accepted += res.Accepted
		total.Duplicates += res.Duplicates
		total.Rejected += res.Rejected
		inputs, indexes = inputs[:0], indexes[:0]
		return nil
	}

	for i, row := range rows {
		input, err := row.toInput()
		if err != nil {
			total.Rejected++
			total.Results = append(total.Results, models.FixResult{Index: i, Status: models.FixStatusRejected, Reason: err.Error()})
			continue
		}
		inputs = append(inputs, input)
		indexes = append(indexes, i)

		if len(inputs) >= batchSize {
			if err := flush(); err != nil {
				return total, err
			}
		}
	}
	if err := flush(); err != nil {
		return total, err
	}

	log.Info().
		Str("component", "importer").
		Int("rows", len(rows)).
		Int("accepted", total.Accepted).
		Int("duplicates", total.Duplicates).
		Int("rejected", total.Rejected).
		Msg("Import complete")

	return total, nil
}

func (row *fixRow) toInput() (models.FixInput, error) {
	input := models.FixInput{
		SubjectID: strings.TrimSpace(row.SubjectID),
		Source:    models.FixSource(strings.TrimSpace(row.Source)),
	}
	if input.Source == "" {
		input.Source = models.FixSourceImported
	}

	var err error
	if input.Latitude, err = parseNumber(row.Latitude); err != nil {
		return input, &models.ValidationError{Field: "latitude", Reason: "not a number"}
	}
	if input.Longitude, err = parseNumber(row.Longitude); err != nil {
		return input, &models.ValidationError{Field: "longitude", Reason: "not a number"}
	}

	recordedAt, err := parseTimestamp(row.RecordedAt)
	if err != nil {
		return input, &models.ValidationError{Field: "recorded_at", Reason: err.Error()}
	}
	input.RecordedAt = recordedAt

	if input.Speed, err = parseNumber(row.Speed); err != nil {
		return input, &models.ValidationError{Field: "speed", Reason: "not a number"}
	}
	if input.Accuracy, err = parseNumber(row.Accuracy); err != nil {
		return input, &models.ValidationError{Field: "accuracy", Reason: "not a number"}
	}
	return input, nil
}

func parseTimestamp(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		t := time.UnixMilli(ms).UTC()
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return nil, fmt.Errorf("expected RFC 3339 or unix milliseconds, got %q", s)
	}
	return &t, nil
}

// parseNumber returns nil for an empty cell. NaN and Inf parse and are left
// for ingestion validation to reject.
func parseNumber(s string) (*float64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
