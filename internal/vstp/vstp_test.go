package vstp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageUnmarshal(t *testing.T) {
	raw := `{
		"VSTPCIFMsgV1": {
			"schedule": {
				"transaction_type": "Create",
				"train_uid": "C12345",
				"stp_indicator": "N",
				"schedule_start_date": "2023-06-03",
				"schedule_end_date": "2023-06-10",
				"schedule_days_runs": "1111100",
				"signalling_id": "1A23",
				"schedule_segment_location": [
					{"location_type": "LO", "tiploc_code": "TONBDGE", "scheduled_departure_time": "1000H"},
					{"location_type": "LT", "tiploc_code": "LONDON", "scheduled_arrival_time": "1100"}
				]
			}
		}
	}`
	var msg Message
	require.NoError(t, json.Unmarshal([]byte(raw), &msg))
	body := msg.VSTPCIFMsgV1.Schedule
	assert.Equal(t, TxCreate, body.TransactionType)
	assert.Equal(t, "C12345", body.TrainUID)
	assert.Len(t, body.Locations, 2)
}

func TestTranslateLocationsHalfMinuteAndNextDay(t *testing.T) {
	bodies := []LocationBody{
		{RecordIdentity: "LO", TiplocCode: "A", Departure: "2330H"},
		{RecordIdentity: "LT", TiplocCode: "B", Arrival: "0030"},
	}
	rows, err := translateLocations(7, bodies)
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "2330H", rows[0].DepartureRaw)
	assert.False(t, rows[0].NextDay)
	assert.True(t, rows[1].NextDay, "a stop earlier in the day than the origin must be flagged next_day")
}

func TestTranslateLocationsVSTPThreeSuffixMapsToH(t *testing.T) {
	rows, err := translateLocations(1, []LocationBody{
		{RecordIdentity: "LO", TiplocCode: "A", Departure: "10003"},
	})
	require.NoError(t, err)
	assert.Equal(t, "1000H", rows[0].DepartureRaw)
}
