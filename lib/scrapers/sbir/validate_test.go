package sbir

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"sbirharvest/lib/awardstore"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

const validDoc = `{
	"firm": "Acme Robotics",
	"award_title": "Autonomous Inspection Drone",
	"agency": "DOD",
	"phase": "Phase I",
	"program": "SBIR",
	"agency_tracking_number": "A18-123",
	"award_amount": "1,234.50",
	"proposal_award_date": "2025-01-15",
	"contract": "W31P4Q-25-C-0001",
	"award_year": 2025,
	"number_employees": "25"
}`

func TestFilterValidNormalizes(t *testing.T) {
	doc := json.RawMessage(validDoc)
	awards := FilterValid(context.Background(), []json.RawMessage{doc})
	require.Len(t, awards, 1)

	expected := awardstore.Award{
		Firm:                 "Acme Robotics",
		AwardTitle:           "Autonomous Inspection Drone",
		Agency:               "DOD",
		Phase:                "Phase I",
		Program:              "SBIR",
		AgencyTrackingNumber: "A18-123",
		Contract:             "W31P4Q-25-C-0001",
		ProposalAwardDate:    "2025-01-15",
		AwardYear:            sql.NullInt64{Int64: 2025, Valid: true},
		AwardAmount:          sql.NullFloat64{Float64: 1234.50, Valid: true},
		NumberEmployees:      sql.NullInt64{Int64: 25, Valid: true},
		RawData:              validDoc,
	}
	diff := cmp.Diff(expected, awards[0])
	require.Empty(t, diff)
}

func TestFilterValidDropsMissingFields(t *testing.T) {
	doc := json.RawMessage(`{"firm": "Acme Robotics", "award_title": "Drone"}`)
	awards := FilterValid(context.Background(), []json.RawMessage{doc})
	require.Empty(t, awards)
}

func TestFilterValidDropsEmptyFirmOrTitle(t *testing.T) {
	withField := func(key, value string) json.RawMessage {
		var fields map[string]any
		require.NoError(t, json.Unmarshal([]byte(validDoc), &fields))
		fields[key] = value
		out, err := json.Marshal(fields)
		require.NoError(t, err)
		return out
	}

	awards := FilterValid(context.Background(), []json.RawMessage{
		withField("firm", ""),
		withField("award_title", ""),
	})
	require.Empty(t, awards)
}

func TestFilterValidDropsUndecodable(t *testing.T) {
	awards := FilterValid(context.Background(), []json.RawMessage{
		json.RawMessage(`not json`),
		json.RawMessage(validDoc),
	})
	require.Len(t, awards, 1)
}

func TestFilterValidUnparseableNumbersBecomeNull(t *testing.T) {
	doc := json.RawMessage(`{
		"firm": "Acme Robotics",
		"award_title": "Drone",
		"agency": "DOD",
		"phase": "Phase I",
		"program": "SBIR",
		"award_amount": "not-a-number",
		"proposal_award_date": "2025-01-15",
		"contract": "C-0001",
		"award_year": "unknown"
	}`)

	awards := FilterValid(context.Background(), []json.RawMessage{doc})
	require.Len(t, awards, 1)
	require.False(t, awards[0].AwardAmount.Valid)
	require.False(t, awards[0].AwardYear.Valid)
}

func TestTextRendersNumbers(t *testing.T) {
	fields, err := decodeFields(json.RawMessage(`{"zip": 35801, "city": "Huntsville"}`))
	require.NoError(t, err)
	require.Equal(t, "35801", text(fields, "zip"))
	require.Equal(t, "Huntsville", text(fields, "city"))
	require.Equal(t, "", text(fields, "state"))
}
