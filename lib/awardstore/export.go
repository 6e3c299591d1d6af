package awardstore

import (
	"context"
	"database/sql"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
)

// exportColumns is every awards column except the internal row id and the
// opaque raw_data payload.
var exportColumns = append(
	append([]string{}, awardColumns[:len(awardColumns)-1]...),
	"created_at", "updated_at",
)

// ExportCSV writes a flat snapshot of the awards table ordered by
// proposal_award_date descending. A limit <= 0 exports everything.
func (s Store) ExportCSV(ctx context.Context, path string, limit int) error {
	ctx, span := tracer.Start(ctx, "ExportCSV")
	defer span.End()
	span.SetAttributes(attribute.String("path", path))

	query := fmt.Sprintf(
		"SELECT %s FROM awards ORDER BY proposal_award_date DESC",
		strings.Join(exportColumns, ", "),
	)
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return recordErr(span, fmt.Errorf("query export rows: %w", err))
	}
	defer rows.Close()

	f, err := os.Create(path)
	if err != nil {
		return recordErr(span, fmt.Errorf("create export file: %w", err))
	}
	defer f.Close()

	w := csv.NewWriter(f)
	err = w.Write(exportColumns)
	if err != nil {
		return recordErr(span, fmt.Errorf("write export header: %w", err))
	}

	scanned := make([]sql.NullString, len(exportColumns))
	ptrs := make([]any, len(exportColumns))
	for i := range scanned {
		ptrs[i] = &scanned[i]
	}
	record := make([]string, len(exportColumns))

	var exported int64
	for rows.Next() {
		err := rows.Scan(ptrs...)
		if err != nil {
			return recordErr(span, fmt.Errorf("scan export row: %w", err))
		}
		for i, v := range scanned {
			record[i] = v.String
		}
		err = w.Write(record)
		if err != nil {
			return recordErr(span, fmt.Errorf("write export row: %w", err))
		}
		exported++
	}
	if err := rows.Err(); err != nil {
		return recordErr(span, fmt.Errorf("iterate export rows: %w", err))
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return recordErr(span, fmt.Errorf("flush export: %w", err))
	}

	span.SetAttributes(attribute.Int64("exported", exported))
	return nil
}

// ExportSummary is the small JSON companion written next to the CSV dump.
type ExportSummary struct {
	ExportDate      string `json:"export_date"`
	TotalRecords    int64  `json:"total_records"`
	LatestAwardDate string `json:"latest_award_date,omitempty"`
	CsvPath         string `json:"csv_path"`
}

func (s Store) WriteSummary(ctx context.Context, path, csvPath string) (ExportSummary, error) {
	count, err := s.RecordCount(ctx)
	if err != nil {
		return ExportSummary{}, err
	}
	latest, _, err := s.LatestProposalDate(ctx)
	if err != nil {
		return ExportSummary{}, err
	}

	summary := ExportSummary{
		ExportDate:      time.Now().Format(time.RFC3339),
		TotalRecords:    count,
		LatestAwardDate: latest,
		CsvPath:         csvPath,
	}
	encoded, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return ExportSummary{}, fmt.Errorf("encode summary: %w", err)
	}
	err = os.WriteFile(path, encoded, 0666)
	if err != nil {
		return ExportSummary{}, fmt.Errorf("write summary: %w", err)
	}
	return summary, nil
}
