package harvester

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"sbirharvest/lib/awardstore"
	"sbirharvest/lib/scrapers/sbir"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type UpdateResult struct {
	// false when the schedule gate decided a check was not due
	Checked    bool
	NewRecords int64
	Scanned    int
}

// CheckForUpdates walks the newest pages of the source looking for awards
// whose identity is not yet stored. Unless forced, it is a no-op when the
// last check is younger than the configured interval, and the no-op leaves
// the last-check metadata untouched so the gate stays effective.
func (s Service) CheckForUpdates(ctx context.Context, force bool) (UpdateResult, error) {
	ctx, span := tracer.Start(ctx, "CheckForUpdates")
	defer span.End()
	span.SetAttributes(attribute.Bool("force", force))

	if !force {
		due, err := s.updateDue(ctx)
		if err != nil {
			return UpdateResult{}, err
		}
		if !due {
			slog.InfoContext(ctx, "update check not due yet")
			return UpdateResult{Checked: false}, nil
		}
	}

	known, err := s.store.KnownIdentities(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return UpdateResult{}, err
	}
	slog.InfoContext(ctx, "snapshotted known identities", "known", len(known))

	recent, scanned, err := s.fetchRecent(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return UpdateResult{Checked: true, Scanned: scanned}, err
	}

	var newAwards []awardstore.Award
	for _, award := range sbir.FilterValid(ctx, recent) {
		if _, ok := known[award.IdentityKey()]; ok {
			continue
		}
		newAwards = append(newAwards, award)
	}
	slog.InfoContext(ctx, "identified new awards",
		"in_window", len(recent), "new", len(newAwards))

	var inserted int64
	if len(newAwards) > 0 {
		inserted, err = s.store.UpsertAwards(ctx, newAwards)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return UpdateResult{Checked: true, Scanned: scanned}, err
		}
		_, err = s.RefreshExports(ctx)
		if err != nil {
			slog.WarnContext(ctx, "failed to refresh exports", "err", err)
		}
	}

	result := UpdateResult{Checked: true, NewRecords: inserted, Scanned: scanned}
	err = s.persistUpdateState(ctx, result)
	if err != nil {
		return result, err
	}
	span.SetAttributes(attribute.Int64("new_records", inserted))
	return result, nil
}

func (s Service) updateDue(ctx context.Context) (bool, error) {
	raw, ok, err := s.store.GetMetadata(ctx, keyLastUpdateCheck)
	if err != nil {
		return false, err
	}
	if !ok {
		return true, nil
	}
	lastCheck, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		slog.WarnContext(ctx, "unreadable last-check timestamp, checking anyway",
			"value", raw, "err", err)
		return true, nil
	}
	interval := time.Duration(s.opts.UpdateCheckDays) * 24 * time.Hour
	return time.Since(lastCheck) >= interval, nil
}

// fetchRecent walks pages from offset zero and keeps the payloads whose
// proposal date falls inside the lookback window. The walk stops on an
// empty page, on a page that is entirely older than the window threshold,
// or at the scan cap, whichever comes first. The source has no native
// date filter, the cap bounds the worst case.
func (s Service) fetchRecent(ctx context.Context) ([]json.RawMessage, int, error) {
	threshold := time.Now().
		AddDate(0, 0, -s.opts.UpdateLookbackDays).
		Format("2006-01-02")
	slog.InfoContext(ctx, "scanning for recent awards", "threshold", threshold)

	var recent []json.RawMessage
	offset := 0

	for {
		if ctx.Err() != nil {
			return recent, offset, ctx.Err()
		}

		page, err := s.fetcher.FetchPage(ctx, offset, s.opts.BatchSize)
		if err != nil {
			return recent, offset, err
		}
		if len(page.Docs) == 0 {
			slog.InfoContext(ctx, "no more awards, stopping scan", "offset", offset)
			return recent, offset, nil
		}

		inWindow := 0
		newestInPage := ""
		for _, doc := range page.Docs {
			date := proposalDate(doc)
			if date > newestInPage {
				newestInPage = date
			}
			// ISO dates compare correctly as strings
			if date != "" && date >= threshold {
				recent = append(recent, doc)
				inWindow++
			}
		}

		offset += len(page.Docs)
		slog.DebugContext(ctx, "scanned page",
			"offset", offset, "in_window", inWindow, "total_recent", len(recent))

		if inWindow == 0 && newestInPage != "" && newestInPage < threshold {
			slog.InfoContext(ctx, "reached awards older than window, stopping scan",
				"offset", offset, "newest_in_page", newestInPage)
			return recent, offset, nil
		}
		if offset >= s.opts.UpdateScanLimit {
			slog.WarnContext(ctx, "reached scan safety limit",
				"offset", offset, "limit", s.opts.UpdateScanLimit)
			return recent, offset, nil
		}

		sleepContext(ctx, s.fetcher.RequestDelay())
	}
}

func proposalDate(doc json.RawMessage) string {
	var partial struct {
		ProposalAwardDate string `json:"proposal_award_date"`
	}
	err := json.Unmarshal(doc, &partial)
	if err != nil {
		return ""
	}
	return partial.ProposalAwardDate
}

func (s Service) persistUpdateState(ctx context.Context, result UpdateResult) error {
	err := s.store.SetMetadata(ctx, keyLastUpdateCheck, time.Now().Format(time.RFC3339))
	if err != nil {
		return err
	}
	return s.store.SetMetadata(ctx, keyLastUpdateNewCount,
		strconv.FormatInt(result.NewRecords, 10))
}
