package awardstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("lib/awardstore")

// Store owns the awards table and the scraper metadata table. It never
// retries on its own, storage faults are the caller's problem.
type Store struct {
	db *sql.DB
}

func NewStore(database *sql.DB) Store {
	return Store{db: database}
}

// Award is one harvested record. Identity is the
// (contract, agency, agency_tracking_number) triple.
type Award struct {
	Firm                              string
	AwardTitle                        string
	Agency                            string
	Branch                            string
	Phase                             string
	Program                           string
	AgencyTrackingNumber              string
	Contract                          string
	ProposalAwardDate                 string
	ContractEndDate                   string
	SolicitationNumber                string
	SolicitationYear                  sql.NullInt64
	TopicCode                         string
	AwardYear                         sql.NullInt64
	AwardAmount                       sql.NullFloat64
	Duns                              string
	Uei                               string
	HubzoneOwned                      string
	SociallyEconomicallyDisadvantaged string
	WomenOwned                        string
	NumberEmployees                   sql.NullInt64
	CompanyUrl                        string
	Address1                          string
	Address2                          string
	City                              string
	State                             string
	Zip                               string
	PocName                           string
	PocTitle                          string
	PocPhone                          string
	PocEmail                          string
	PiName                            string
	PiTitle                           string
	PiPhone                           string
	PiEmail                           string
	RiName                            string
	RiPocName                         string
	RiPocPhone                        string
	ResearchAreaKeywords              string
	Abstract                          string
	AwardLink                         sql.NullInt64
	// RawData carries the verbatim source payload, it is stored and
	// returned but never parsed again.
	RawData string
}

// IdentityKey returns a string form of the identity triple suitable
// for set membership tests.
func (a Award) IdentityKey() string {
	return a.Contract + "\x1f" + a.Agency + "\x1f" + a.AgencyTrackingNumber
}

// awardColumns is the insert column order, raw_data last.
var awardColumns = []string{
	"firm", "award_title", "agency", "branch", "phase", "program",
	"agency_tracking_number", "contract", "proposal_award_date", "contract_end_date",
	"solicitation_number", "solicitation_year", "topic_code", "award_year",
	"award_amount", "duns", "uei", "hubzone_owned", "socially_economically_disadvantaged",
	"women_owned", "number_employees", "company_url", "address1", "address2",
	"city", "state", "zip", "poc_name", "poc_title", "poc_phone", "poc_email",
	"pi_name", "pi_title", "pi_phone", "pi_email", "ri_name", "ri_poc_name",
	"ri_poc_phone", "research_area_keywords", "abstract", "award_link", "raw_data",
}

var upsertAwardSQL = buildUpsertAwardSQL()

func buildUpsertAwardSQL() string {
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(awardColumns)), ", ")

	var updates []string
	for _, col := range awardColumns {
		updates = append(updates, fmt.Sprintf("%s = excluded.%s", col, col))
	}
	updates = append(updates, "updated_at = CURRENT_TIMESTAMP")

	return fmt.Sprintf(
		`INSERT INTO awards (%s) VALUES (%s)
ON CONFLICT (contract, agency, agency_tracking_number) DO UPDATE SET %s`,
		strings.Join(awardColumns, ", "),
		placeholders,
		strings.Join(updates, ", "),
	)
}

func (a Award) insertArgs() []any {
	return []any{
		a.Firm, a.AwardTitle, a.Agency, a.Branch, a.Phase, a.Program,
		a.AgencyTrackingNumber, a.Contract, a.ProposalAwardDate, a.ContractEndDate,
		a.SolicitationNumber, a.SolicitationYear, a.TopicCode, a.AwardYear,
		a.AwardAmount, a.Duns, a.Uei, a.HubzoneOwned, a.SociallyEconomicallyDisadvantaged,
		a.WomenOwned, a.NumberEmployees, a.CompanyUrl, a.Address1, a.Address2,
		a.City, a.State, a.Zip, a.PocName, a.PocTitle, a.PocPhone, a.PocEmail,
		a.PiName, a.PiTitle, a.PiPhone, a.PiEmail, a.RiName, a.RiPocName,
		a.RiPocPhone, a.ResearchAreaKeywords, a.Abstract, a.AwardLink, a.RawData,
	}
}

// UpsertAwards writes a batch in one transaction. A record whose identity
// already exists replaces the stored row and refreshes its updated_at
// timestamp, it never produces a constraint error or a duplicate.
func (s Store) UpsertAwards(ctx context.Context, awards []Award) (int64, error) {
	ctx, span := tracer.Start(ctx, "UpsertAwards")
	defer span.End()
	span.SetAttributes(attribute.Int("batch_size", len(awards)))

	if len(awards) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, recordErr(span, fmt.Errorf("begin upsert tx: %w", err))
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, upsertAwardSQL)
	if err != nil {
		return 0, recordErr(span, fmt.Errorf("prepare upsert: %w", err))
	}
	defer stmt.Close()

	for _, award := range awards {
		_, err := stmt.ExecContext(ctx, award.insertArgs()...)
		if err != nil {
			return 0, recordErr(span, fmt.Errorf(
				"upsert award contract=%q agency=%q: %w",
				award.Contract, award.Agency, err,
			))
		}
	}
	err = tx.Commit()
	if err != nil {
		return 0, recordErr(span, fmt.Errorf("commit upsert tx: %w", err))
	}

	return int64(len(awards)), nil
}

func (s Store) RecordCount(ctx context.Context) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM awards").Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count awards: %w", err)
	}
	return count, nil
}

// LatestProposalDate returns the newest proposal_award_date in the store,
// ok is false when there are no dated rows.
func (s Store) LatestProposalDate(ctx context.Context) (date string, ok bool, err error) {
	var latest sql.NullString
	err = s.db.QueryRowContext(ctx, `
		SELECT MAX(proposal_award_date) FROM awards
		WHERE proposal_award_date IS NOT NULL AND proposal_award_date != ''
	`).Scan(&latest)
	if err != nil {
		return "", false, fmt.Errorf("latest proposal date: %w", err)
	}
	return latest.String, latest.Valid, nil
}

// KnownIdentities snapshots the identity keys of every stored award for
// cheap membership tests.
func (s Store) KnownIdentities(ctx context.Context) (map[string]struct{}, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT contract, agency, agency_tracking_number FROM awards
	`)
	if err != nil {
		return nil, fmt.Errorf("query identities: %w", err)
	}
	defer rows.Close()

	known := map[string]struct{}{}
	for rows.Next() {
		var a Award
		err := rows.Scan(&a.Contract, &a.Agency, &a.AgencyTrackingNumber)
		if err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		known[a.IdentityKey()] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate identities: %w", err)
	}
	return known, nil
}

func (s Store) GetMetadata(ctx context.Context, key string) (value string, ok bool, err error) {
	err = s.db.QueryRowContext(ctx,
		"SELECT value FROM scraper_metadata WHERE key = ?", key,
	).Scan(&value)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("get metadata %q: %w", key, err)
	}
	return value, true, nil
}

func (s Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scraper_metadata (key, value, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT (key) DO UPDATE SET value = excluded.value, updated_at = CURRENT_TIMESTAMP
	`, key, value)
	if err != nil {
		return fmt.Errorf("set metadata %q: %w", key, err)
	}
	return nil
}

func recordErr(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
