package harvester

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"sbirharvest/lib/scrapers/sbir"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type HarvestStatus string

const (
	// the source reported end of data, everything is stored
	StatusCompleted HarvestStatus = "completed"
	// a page fetch or storage write failed, state saved up to the
	// last processed batch
	StatusAborted HarvestStatus = "aborted"
	// cancelled cooperatively, state saved, resumable
	StatusInterrupted HarvestStatus = "interrupted"
)

type HarvestResult struct {
	Status          HarvestStatus
	TotalDownloaded int64
	Offset          int
	Elapsed         time.Duration
}

// Run drives the full harvest across the source's offset range. With
// resume, the starting offset is the current stored record count: upserts
// are idempotent, so re-fetching an overlapping page is harmless, merely
// wasteful. Cancellation is observed once per batch boundary, an in-flight
// call runs to its own timeout first.
func (s Service) Run(ctx context.Context, resume bool) (HarvestResult, error) {
	ctx, span := tracer.Start(ctx, "Run")
	defer span.End()
	span.SetAttributes(attribute.Bool("resume", resume))

	start := time.Now()
	offset := 0
	var totalDownloaded int64

	if resume {
		count, err := s.store.RecordCount(ctx)
		if err != nil {
			return HarvestResult{}, err
		}
		if count > 0 {
			offset = int(count)
			totalDownloaded = count
			slog.InfoContext(ctx, "resuming harvest", "offset", offset)
		}
	}

	slog.InfoContext(ctx, "starting full harvest",
		"offset", offset, "batch_size", s.opts.BatchSize)

	estimatedTotal := s.opts.EstimatedTotal
	emptyStreak := 0
	batches := 0

	finish := func(status HarvestStatus) (HarvestResult, error) {
		result := HarvestResult{
			Status:          status,
			TotalDownloaded: totalDownloaded,
			Offset:          offset,
			Elapsed:         time.Since(start),
		}
		err := s.persistFinalState(context.WithoutCancel(ctx), result)
		if err != nil {
			return result, err
		}
		span.SetAttributes(attribute.String("status", string(status)))
		return result, nil
	}

	for {
		if ctx.Err() != nil {
			slog.InfoContext(ctx, "harvest interrupted", "offset", offset)
			return finish(StatusInterrupted)
		}

		page, err := s.fetcher.FetchPage(ctx, offset, s.opts.BatchSize)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				slog.InfoContext(ctx, "harvest interrupted mid-fetch", "offset", offset)
				return finish(StatusInterrupted)
			}
			slog.ErrorContext(ctx, "page fetch failed, aborting harvest",
				"offset", offset, "err", err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			result, ferr := finish(StatusAborted)
			if ferr != nil {
				return result, ferr
			}
			return result, err
		}
		if page.NumFound > 0 {
			estimatedTotal = page.NumFound
		}

		if len(page.Docs) == 0 {
			emptyStreak++
			// the source may return sparse fully-empty pages before it
			// is truly exhausted, tolerate two before accepting the end
			if emptyStreak >= 3 {
				slog.InfoContext(ctx, "end of data reached", "offset", offset)
				return finish(StatusCompleted)
			}
			slog.WarnContext(ctx, "empty page, trying next offset",
				"offset", offset, "empty_streak", emptyStreak)
			offset += s.opts.BatchSize
			continue
		}
		emptyStreak = 0

		valid := sbir.FilterValid(ctx, page.Docs)
		if len(valid) > 0 {
			inserted, err := s.store.UpsertAwards(ctx, valid)
			if err != nil {
				slog.ErrorContext(ctx, "storage fault, aborting harvest",
					"offset", offset, "err", err)
				span.RecordError(err)
				span.SetStatus(codes.Error, err.Error())
				result, ferr := finish(StatusAborted)
				if ferr != nil {
					return result, ferr
				}
				return result, err
			}
			totalDownloaded += inserted
		} else {
			slog.WarnContext(ctx, "no valid awards in page", "offset", offset)
		}

		// advance by the raw page length, not the valid count, so offset
		// tracking is never skewed by validation drops
		offset += len(page.Docs)
		batches++

		if batches%s.opts.ProgressInterval == 0 {
			s.logProgress(ctx, totalDownloaded, estimatedTotal, start)
		}
		if batches%s.opts.CheckpointInterval == 0 {
			err := s.persistCheckpoint(ctx, offset)
			if err != nil {
				result, ferr := finish(StatusAborted)
				if ferr != nil {
					return result, ferr
				}
				return result, err
			}
		}

		sleepContext(ctx, s.fetcher.RequestDelay())
	}
}

func (s Service) persistCheckpoint(ctx context.Context, offset int) error {
	err := s.store.SetMetadata(ctx, keyLastDownloadOffset, strconv.Itoa(offset))
	if err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	err = s.store.SetMetadata(ctx, keyLastDownloadTime, time.Now().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("persist checkpoint: %w", err)
	}
	slog.InfoContext(ctx, "checkpoint saved", "offset", offset)
	return nil
}

func (s Service) persistFinalState(ctx context.Context, result HarvestResult) error {
	err := s.persistCheckpoint(ctx, result.Offset)
	if err != nil {
		return err
	}
	err = s.store.SetMetadata(ctx, keyTotalDownloaded,
		strconv.FormatInt(result.TotalDownloaded, 10))
	if err != nil {
		return err
	}

	if result.Status == StatusCompleted {
		err = s.store.SetMetadata(ctx, keyDownloadCompleted, time.Now().Format(time.RFC3339))
		if err != nil {
			return err
		}
		return s.store.SetMetadata(ctx, keyDownloadInterrupted, "false")
	}
	return s.store.SetMetadata(ctx, keyDownloadInterrupted, "true")
}

func (s Service) logProgress(ctx context.Context, downloaded, estimatedTotal int64, start time.Time) {
	elapsed := time.Since(start).Seconds()
	if elapsed <= 0 {
		return
	}
	rate := float64(downloaded) / elapsed

	if estimatedTotal > 0 && rate > 0 {
		remaining := float64(estimatedTotal - downloaded)
		if remaining < 0 {
			remaining = 0
		}
		slog.InfoContext(ctx, "harvest progress",
			"downloaded", downloaded,
			"estimated_total", estimatedTotal,
			"percent", fmt.Sprintf("%.1f", float64(downloaded)/float64(estimatedTotal)*100),
			"records_per_sec", fmt.Sprintf("%.1f", rate),
			"eta_minutes", fmt.Sprintf("%.1f", remaining/rate/60),
		)
		return
	}
	slog.InfoContext(ctx, "harvest progress",
		"downloaded", downloaded,
		"records_per_sec", fmt.Sprintf("%.1f", rate),
	)
}
