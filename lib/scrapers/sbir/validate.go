package sbir

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"strconv"
	"strings"

	"sbirharvest/lib/awardstore"
)

// RequiredFields must all be present on a raw payload for it to be kept.
var RequiredFields = []string{
	"firm", "award_title", "agency", "phase", "program",
	"award_amount", "proposal_award_date", "contract",
}

// FilterValid drops raw payloads that violate the required-field contract
// and normalizes the survivors into storable awards. Per-record problems
// are logged and skipped, they never fail the whole page.
func FilterValid(ctx context.Context, docs []json.RawMessage) []awardstore.Award {
	valid := make([]awardstore.Award, 0, len(docs))

	for _, doc := range docs {
		fields, err := decodeFields(doc)
		if err != nil {
			slog.WarnContext(ctx, "dropping undecodable award", "err", err)
			continue
		}

		missing := missingFields(fields)
		if len(missing) > 0 {
			slog.WarnContext(ctx, "dropping award with missing fields",
				"missing", missing, "contract", text(fields, "contract"))
			continue
		}
		if text(fields, "firm") == "" || text(fields, "award_title") == "" {
			slog.WarnContext(ctx, "dropping award with empty firm or title",
				"contract", text(fields, "contract"))
			continue
		}

		valid = append(valid, normalize(fields, doc))
	}

	return valid
}

func decodeFields(doc json.RawMessage) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(doc))
	dec.UseNumber()
	var fields map[string]any
	err := dec.Decode(&fields)
	if err != nil {
		return nil, err
	}
	return fields, nil
}

func missingFields(fields map[string]any) []string {
	var missing []string
	for _, f := range RequiredFields {
		if _, ok := fields[f]; !ok {
			missing = append(missing, f)
		}
	}
	return missing
}

func normalize(fields map[string]any, doc json.RawMessage) awardstore.Award {
	return awardstore.Award{
		Firm:                              text(fields, "firm"),
		AwardTitle:                        text(fields, "award_title"),
		Agency:                            text(fields, "agency"),
		Branch:                            text(fields, "branch"),
		Phase:                             text(fields, "phase"),
		Program:                           text(fields, "program"),
		AgencyTrackingNumber:              text(fields, "agency_tracking_number"),
		Contract:                          text(fields, "contract"),
		ProposalAwardDate:                 text(fields, "proposal_award_date"),
		ContractEndDate:                   text(fields, "contract_end_date"),
		SolicitationNumber:                text(fields, "solicitation_number"),
		SolicitationYear:                  nullInt(fields["solicitation_year"]),
		TopicCode:                         text(fields, "topic_code"),
		AwardYear:                         nullInt(fields["award_year"]),
		AwardAmount:                       nullAmount(fields["award_amount"]),
		Duns:                              text(fields, "duns"),
		Uei:                               text(fields, "uei"),
		HubzoneOwned:                      text(fields, "hubzone_owned"),
		SociallyEconomicallyDisadvantaged: text(fields, "socially_economically_disadvantaged"),
		WomenOwned:                        text(fields, "women_owned"),
		NumberEmployees:                   nullInt(fields["number_employees"]),
		CompanyUrl:                        text(fields, "company_url"),
		Address1:                          text(fields, "address1"),
		Address2:                          text(fields, "address2"),
		City:                              text(fields, "city"),
		State:                             text(fields, "state"),
		Zip:                               text(fields, "zip"),
		PocName:                           text(fields, "poc_name"),
		PocTitle:                          text(fields, "poc_title"),
		PocPhone:                          text(fields, "poc_phone"),
		PocEmail:                          text(fields, "poc_email"),
		PiName:                            text(fields, "pi_name"),
		PiTitle:                           text(fields, "pi_title"),
		PiPhone:                           text(fields, "pi_phone"),
		PiEmail:                           text(fields, "pi_email"),
		RiName:                            text(fields, "ri_name"),
		RiPocName:                         text(fields, "ri_poc_name"),
		RiPocPhone:                        text(fields, "ri_poc_phone"),
		ResearchAreaKeywords:              text(fields, "research_area_keywords"),
		Abstract:                          text(fields, "abstract"),
		AwardLink:                         nullInt(fields["award_link"]),
		RawData:                           string(doc),
	}
}

// text renders a payload field as a string, numbers included, so schema
// drift from string to number on the source side stays harmless.
func text(fields map[string]any, key string) string {
	switch v := fields[key].(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		return ""
	}
}

// nullAmount coerces a monetary value, stripping thousands separators
// from string forms. Parse failures become null, not rejections.
func nullAmount(v any) sql.NullFloat64 {
	switch v := v.(type) {
	case json.Number:
		f, err := v.Float64()
		if err != nil {
			return sql.NullFloat64{}
		}
		return sql.NullFloat64{Float64: f, Valid: true}
	case string:
		f, err := strconv.ParseFloat(strings.ReplaceAll(v, ",", ""), 64)
		if err != nil {
			return sql.NullFloat64{}
		}
		return sql.NullFloat64{Float64: f, Valid: true}
	default:
		return sql.NullFloat64{}
	}
}

func nullInt(v any) sql.NullInt64 {
	switch v := v.(type) {
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: n, Valid: true}
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return sql.NullInt64{}
		}
		return sql.NullInt64{Int64: n, Valid: true}
	default:
		return sql.NullInt64{}
	}
}
