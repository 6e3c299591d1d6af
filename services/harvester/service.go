package harvester

import (
	"context"
	"time"

	"sbirharvest/lib/awardstore"
	"sbirharvest/lib/scrapers/sbir"

	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/harvester")

// metadata keys persisted through the store, these survive process restarts
const (
	keyLastDownloadOffset  = "last_download_offset"
	keyLastDownloadTime    = "last_download_time"
	keyDownloadCompleted   = "initial_download_completed"
	keyDownloadInterrupted = "download_interrupted"
	keyTotalDownloaded     = "total_records_downloaded"
	keyLastUpdateCheck     = "last_update_check"
	keyLastUpdateNewCount  = "last_update_new_records"
)

// Fetcher is the paginated source the controllers drive. *sbir.Client
// satisfies it.
type Fetcher interface {
	FetchPage(ctx context.Context, offset, rows int) (sbir.Page, error)
	RequestDelay() time.Duration
}

type Options struct {
	// records per page, source-capped at sbir.MaxPageSize
	BatchSize int
	// fallback progress denominator when the source reports no total
	EstimatedTotal int64
	// batches between progress reports
	ProgressInterval int
	// batches between persisted checkpoints
	CheckpointInterval int
	// minimum days between incremental checks
	UpdateCheckDays int
	// how far back the incremental window reaches, in days
	UpdateLookbackDays int
	// hard cap on records scanned per incremental check
	UpdateScanLimit int
	CsvExportPath   string
	SummaryPath     string
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 || o.BatchSize > sbir.MaxPageSize {
		o.BatchSize = sbir.MaxPageSize
	}
	if o.EstimatedTotal <= 0 {
		o.EstimatedTotal = 213000
	}
	if o.ProgressInterval <= 0 {
		o.ProgressInterval = 10
	}
	if o.CheckpointInterval <= 0 {
		o.CheckpointInterval = 50
	}
	if o.UpdateCheckDays <= 0 {
		o.UpdateCheckDays = 7
	}
	if o.UpdateLookbackDays <= 0 {
		o.UpdateLookbackDays = 30
	}
	if o.UpdateScanLimit <= 0 {
		o.UpdateScanLimit = 10000
	}
	if o.CsvExportPath == "" {
		o.CsvExportPath = "data/sbir_awards.csv"
	}
	if o.SummaryPath == "" {
		o.SummaryPath = "data/export_summary.json"
	}
	return o
}

// Service drives the full harvest and the incremental update check over
// one store and one fetcher. It is single threaded, there is exactly one
// outstanding request and one writer at any time.
type Service struct {
	store   awardstore.Store
	fetcher Fetcher
	opts    Options
}

func NewService(store awardstore.Store, fetcher Fetcher, opts Options) Service {
	return Service{
		store:   store,
		fetcher: fetcher,
		opts:    opts.withDefaults(),
	}
}

// RefreshExports rewrites the CSV snapshot and its JSON summary.
func (s Service) RefreshExports(ctx context.Context) (awardstore.ExportSummary, error) {
	err := s.store.ExportCSV(ctx, s.opts.CsvExportPath, 0)
	if err != nil {
		return awardstore.ExportSummary{}, err
	}
	return s.store.WriteSummary(ctx, s.opts.SummaryPath, s.opts.CsvExportPath)
}

func sleepContext(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
