// Package vstp ingests VSTP (Very Short-Term Plan) JSON transactions,
// sharing the STP model the CIF loader uses but over the VSTP STOMP port
// (spec.md §4.D). Grounded on internal/cif's BS+LO/LI/LT handling, which
// this package's Create path mirrors, and on the teacher's JSON-over-AMQP
// message handling shape in queue/queue.go.
package vstp

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nrod/ingest/internal/railtime"
	"github.com/nrod/ingest/internal/store"
)

// TransactionType is the VSTP JSON transaction_type.
type TransactionType string

const (
	TxCreate TransactionType = "Create"
	TxUpdate TransactionType = "Update"
	TxDelete TransactionType = "Delete"
)

// DeductionWindow is spec.md §4.D's "last 64 days" lookback for overlay
// headcode deduction on VSTP Create.
const DeductionWindow = 64 * 24 * time.Hour

// Message is the top-level VSTP STOMP frame (spec.md §6).
type Message struct {
	VSTPCIFMsgV1 struct {
		Schedule ScheduleBody `json:"schedule"`
	} `json:"VSTPCIFMsgV1"`
}

// ScheduleBody is the JSON schedule payload carried by a VSTP message.
type ScheduleBody struct {
	TransactionType TransactionType `json:"transaction_type"`

	TrainUID     string `json:"train_uid"`
	STPIndicator string `json:"stp_indicator"`
	StartDate    string `json:"schedule_start_date"` // YYYY-MM-DD
	EndDate      string `json:"schedule_end_date"`   // YYYY-MM-DD
	DaysRun      string `json:"schedule_days_runs"`  // 7-char '0'/'1'

	ATOCCode     string `json:"atoc_code"`
	Category     string `json:"train_category"`
	SignallingID string `json:"signalling_id"`
	ServiceCode  string `json:"train_service_code"`
	PowerType    string `json:"power_type"`
	Speed        string `json:"speed"`

	Locations []LocationBody `json:"schedule_segment_location"`
}

// LocationBody is one VSTP JSON stop.
type LocationBody struct {
	RecordIdentity  string `json:"location_type"` // LO/LI/LT
	TiplocCode      string `json:"tiploc_code"`
	TiplocInstance  string `json:"tiploc_instance"`
	Arrival         string `json:"scheduled_arrival_time"`
	Departure       string `json:"scheduled_departure_time"`
	Pass            string `json:"scheduled_pass_time"`
	PublicArrival   string `json:"public_arrival"`
	PublicDeparture string `json:"public_departure"`
	Platform        string `json:"platform"`
	Line            string `json:"line"`
	Path            string `json:"path"`
	Activities      string `json:"activity"`
}

// Counters is the VSTP message tally (spec.md §4.D names these exactly).
type Counters struct {
	DeleteHit   int
	DeleteMiss  int
	DeleteMulti int

	UpdateDeleteMiss  int
	UpdateDeleteMulti int

	Created int
}

// Ingester applies VSTP JSON transactions to the store.
type Ingester struct{}

// NewIngester builds a VSTP Ingester.
func NewIngester() *Ingester { return &Ingester{} }

// Apply parses one STOMP frame body and applies its transaction inside tx.
func (i *Ingester) Apply(tx *gorm.DB, frame []byte, c *Counters) error {
	var msg Message
	if err := json.Unmarshal(frame, &msg); err != nil {
		return fmt.Errorf("vstp: decode frame: %w", err)
	}
	body := msg.VSTPCIFMsgV1.Schedule

	switch body.TransactionType {
	case TxDelete:
		return i.applyDelete(tx, body, c)
	case TxUpdate:
		return i.applyUpdate(tx, body, c)
	case TxCreate:
		return i.applyCreate(tx, body, c)
	default:
		return fmt.Errorf("vstp: unknown transaction_type %q", body.TransactionType)
	}
}

func parseDates(body ScheduleBody) (start, end time.Time, err error) {
	start, err = time.Parse("2006-01-02", body.StartDate)
	if err != nil {
		return start, end, fmt.Errorf("vstp: bad start date %q: %w", body.StartDate, err)
	}
	end, err = time.Parse("2006-01-02", body.EndDate)
	if err != nil {
		return start, end, fmt.Errorf("vstp: bad end date %q: %w", body.EndDate, err)
	}
	return start, end, nil
}

// applyDelete matches live VSTP schedules on (train_uid, start, end, stp)
// and soft-deletes all matches (spec.md §4.D).
func (i *Ingester) applyDelete(tx *gorm.DB, body ScheduleBody, c *Counters) error {
	start, end, err := parseDates(body)
	if err != nil {
		return err
	}
	stp := store.STPIndicator(body.STPIndicator)
	matches, err := store.FindLiveVSTPSchedules(tx, body.TrainUID, start, end, stp)
	if err != nil {
		return err
	}
	switch len(matches) {
	case 0:
		c.DeleteMiss++
		return nil
	case 1:
		c.DeleteHit++
	default:
		c.DeleteMulti++
	}
	ids := make([]uint64, len(matches))
	for idx, m := range matches {
		ids[idx] = m.ID
	}
	_, err = store.SoftDeleteSchedules(tx, ids)
	return err
}

// applyUpdate soft-deletes every matching live VSTP schedule (counting a
// miss or a multi-match), then performs Create regardless of match count
// (spec.md §4.D).
func (i *Ingester) applyUpdate(tx *gorm.DB, body ScheduleBody, c *Counters) error {
	start, end, err := parseDates(body)
	if err != nil {
		return err
	}
	stp := store.STPIndicator(body.STPIndicator)
	matches, err := store.FindLiveVSTPSchedules(tx, body.TrainUID, start, end, stp)
	if err != nil {
		return err
	}
	switch len(matches) {
	case 0:
		c.UpdateDeleteMiss++
	case 1:
		if _, err := store.SoftDeleteSchedules(tx, []uint64{matches[0].ID}); err != nil {
			return err
		}
	default:
		c.UpdateDeleteMulti++
		ids := make([]uint64, len(matches))
		for idx, m := range matches {
			ids[idx] = m.ID
		}
		if _, err := store.SoftDeleteSchedules(tx, ids); err != nil {
			return err
		}
	}
	return i.applyCreate(tx, body, c)
}

// applyCreate inserts a schedule and its locations, mirroring the CIF
// BS+LO/LI/LT path, with VSTP's 64-day overlay headcode deduction
// (spec.md §4.D).
func (i *Ingester) applyCreate(tx *gorm.DB, body ScheduleBody, c *Counters) error {
	start, end, err := parseDates(body)
	if err != nil {
		return err
	}
	stp := store.STPIndicator(body.STPIndicator)

	sched := &store.Schedule{
		TrainUID:          body.TrainUID,
		STPIndicator:      stp,
		ScheduleStartDate: start,
		ScheduleEndDate:   end,
		DaysRun:           body.DaysRun,
		ATOCCode:          body.ATOCCode,
		Category:          body.Category,
		SignallingID:      body.SignallingID,
		ServiceCode:       body.ServiceCode,
		PowerType:         body.PowerType,
		Speed:             body.Speed,
		UpdateID:          0, // spec.md §3: update_id == 0 denotes VSTP origin
	}

	if stp == store.STPOverlay && sched.SignallingID == "" {
		if hc, ok, err := store.DeduceHeadcodeForOverlay(tx, body.TrainUID, start, DeductionWindow); err != nil {
			return err
		} else if ok {
			sched.DeducedHeadcode = hc
			sched.DeducedHeadcodeStatus = store.DeducedCarried
		}
	}

	if err := store.InsertSchedule(tx, sched); err != nil {
		return err
	}
	c.Created++

	locs, err := translateLocations(sched.ID, body.Locations)
	if err != nil {
		return err
	}
	return store.InsertLocations(tx, locs)
}

// translateLocations converts VSTP location bodies into store rows, mapping
// VSTP's "H"/"3" half-minute suffix onto the canonical hhmmH form (spec.md
// §4.D) and computing sort_time/next_day the same way the CIF loader does.
func translateLocations(scheduleID uint64, bodies []LocationBody) ([]store.ScheduleLocation, error) {
	rows := make([]store.ScheduleLocation, 0, len(bodies))
	originSort := -1
	haveOrigin := false

	for seq, b := range bodies {
		arr, err := railtime.ParseVSTPTime(b.Arrival)
		if err != nil {
			return nil, err
		}
		dep, err := railtime.ParseVSTPTime(b.Departure)
		if err != nil {
			return nil, err
		}
		pass, err := railtime.ParseVSTPTime(b.Pass)
		if err != nil {
			return nil, err
		}

		sortTime := -1
		for _, t := range []railtime.CIFTime{arr, dep, pass} {
			if t.Valid {
				sortTime = t.SortTime()
				break
			}
		}

		arrivalSortTime, departureSortTime, passSortTime := -1, -1, -1
		if arr.Valid {
			arrivalSortTime = arr.SortTime()
		}
		if dep.Valid {
			departureSortTime = dep.SortTime()
		}
		if pass.Valid {
			passSortTime = pass.SortTime()
		}

		row := store.ScheduleLocation{
			ScheduleID:        scheduleID,
			Sequence:          seq,
			Kind:              store.ScheduleLocationKind(b.RecordIdentity),
			TiplocCode:        b.TiplocCode,
			TiplocInstance:    b.TiplocInstance,
			Activities:        b.Activities,
			ArrivalRaw:        arr.String(),
			DepartureRaw:      dep.String(),
			PassRaw:           pass.String(),
			PublicArrival:     b.PublicArrival,
			PublicDeparture:   b.PublicDeparture,
			SortTime:          sortTime,
			ArrivalSortTime:   arrivalSortTime,
			DepartureSortTime: departureSortTime,
			PassSortTime:      passSortTime,
			Platform:          b.Platform,
			Line:              b.Line,
			Path:              b.Path,
		}

		if !haveOrigin {
			originSort = sortTime
			haveOrigin = true
		} else if sortTime >= 0 && sortTime < originSort {
			row.NextDay = true
		}

		rows = append(rows, row)
	}
	return rows, nil
}
