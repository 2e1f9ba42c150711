package trust

import (
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nrod/ingest/internal/railtime"
	"github.com/nrod/ingest/internal/store"
)

// applyMovement handles msg_type 0003 (spec.md §4.E).
func (ing *Ingester) applyMovement(tx *gorm.DB, env Envelope, now time.Time, c *Counters) error {
	var body MovementBody
	if err := unmarshalBody(env, &body); err != nil {
		return err
	}

	planned, err := parseEpochMillis(body.PlannedTimestamp)
	if err != nil {
		return err
	}
	actual, err := parseEpochMillis(body.ActualTimestamp)
	if err != nil {
		return err
	}
	planned = ing.correctTimestamp(planned)
	actual = ing.correctTimestamp(actual)

	flags := store.MovementFlags{
		Event:      movementEventKind(body.EventType, body.TrainTerminated == "true"),
		Source:     movementSource(body.ManualInd),
		Variation:  movementVariationBucket(body.VariationStatus),
		OffRoute:   parseBool(body.OffRouteInd),
		Terminated: parseBool(body.TrainTerminated),
		Correction: parseBool(body.CorrectionInd),
	}

	var variationMinutes int
	if body.VariationMinutes != "" {
		if v, err := parseSignedInt(body.VariationMinutes); err == nil {
			variationMinutes = v
		}
	}
	var nextReportRunTime int
	if body.NextReportRunTime != "" {
		if v, err := parseSignedInt(body.NextReportRunTime); err == nil {
			nextReportRunTime = v
		}
	}

	activationID, err := ing.movementActivationID(tx, body.TrainID, body.LocStanox, body.EventType, planned, now, c)
	if err != nil {
		return err
	}

	m := &store.Movement{
		TrainID:           body.TrainID,
		ActivationID:      activationID,
		Flags:             flags.Encode(),
		PlannedTimestamp:  planned,
		ActualTimestamp:   actual,
		VariationMinutes:  variationMinutes,
		Platform:          body.Platform,
		Stanox:            body.LocStanox,
		NextReportStanox:  body.NextReportStanox,
		NextReportRunTime: nextReportRunTime,
	}
	if err := store.InsertMovement(tx, m); err != nil {
		return err
	}
	c.Movements++
	return nil
}

func movementEventKind(eventType string, terminated bool) store.EventKind {
	switch {
	case terminated:
		return store.EventArrivalDestination
	case eventType == "DEPARTURE":
		return store.EventDeparture
	default:
		return store.EventArrival
	}
}

func movementSource(manualInd string) store.MovementSource {
	if parseBool(manualInd) {
		return store.SourceManual
	}
	return store.SourceAuto
}

func movementVariationBucket(status string) store.VariationBucket {
	switch status {
	case "EARLY":
		return store.VariationEarly
	case "LATE":
		return store.VariationLate
	case "OFF ROUTE":
		return store.VariationOffRoute
	default:
		return store.VariationOnTime
	}
}

func parseSignedInt(s string) (int, error) {
	neg := false
	i := 0
	if len(s) > 0 && (s[0] == '+' || s[0] == '-') {
		neg = s[0] == '-'
		i = 1
	}
	n := 0
	for ; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, fmt.Errorf("trust: bad integer %q", s)
		}
		n = n*10 + int(s[i]-'0')
	}
	if neg {
		n = -n
	}
	return n, nil
}

// movementActivationID returns the activation id a movement should be
// attached to: the existing live activation if one exists within the last
// 4 days, or the result of a deduced-activation attempt, or 0 if neither
// succeeds (spec.md §3/§4.E).
func (ing *Ingester) movementActivationID(tx *gorm.DB, trainID, stanox, eventType string, planned, now time.Time, c *Counters) (uint64, error) {
	act, ok, err := store.LiveActivationWithinDays(tx, trainID, 4, now)
	if err != nil {
		return 0, err
	}
	if ok {
		return act.ID, nil
	}
	if ing.NoDeduceAct || stanox == "" {
		return 0, nil
	}
	id, _, err := ing.deduceActivationAt(tx, trainID, stanox, eventType, planned, planned.Weekday(), c)
	return id, err
}

// deduceActivationAt implements spec.md §4.E's deduced-activation matcher:
// STANOX -> TIPLOC, candidate schedules whose location list contains that
// TIPLOC within ±8 minutes of planned on the field matching eventType
// (arrival/pass for an ARRIVAL, departure/pass for a DEPARTURE), running on
// the planned weekday with next_day fallback (excluding buses), narrowed to
// a single unambiguous winner.
func (ing *Ingester) deduceActivationAt(tx *gorm.DB, trainID, stanox, eventType string, planned time.Time, weekday time.Weekday, c *Counters) (uint64, bool, error) {
	tiploc, err := store.LookupTiplocByStanox(tx, stanox)
	if err != nil {
		c.DeducedActRefused++
		return 0, false, nil
	}

	t, err := railtime.ParseVSTPTime(fmt.Sprintf("%02d%02d", planned.Hour(), planned.Minute()))
	if err != nil {
		return 0, false, err
	}
	sortTime := t.SortTime()

	candidates, err := store.CandidateSchedulesAtTiploc(tx, tiploc, eventType, sortTime, DeducedActivationTolerance, weekday)
	if err != nil {
		return 0, false, err
	}

	winner, ok := narrowToWinner(candidates, trainID)
	if !ok {
		c.DeducedActRefused++
		return 0, false, nil
	}

	cancelled := winner.STPIndicator == store.STPCancellation
	act := &store.Activation{TrainID: trainID, ScheduleID: winner.ID, Deduced: true, Cancelled: cancelled}
	if err := store.InsertActivation(tx, act, nil); err != nil {
		return 0, false, err
	}
	c.DeducedAct++
	c.Activations++
	if !cancelled {
		if err := ing.onActivationBound(tx, act, winner, trainID, "", c); err != nil {
			return 0, false, err
		}
	}
	return act.ID, true, nil
}

// narrowToWinner applies spec.md §4.E's acceptance rule: exactly one
// candidate, or multiple sharing a single UID (the first, highest-precedence
// one wins; candidates of equal precedence are not checked for ambiguity), or
// (after restricting to signalling id == train-id headcode) exactly one
// non-ambiguous winner.
func narrowToWinner(candidates []store.Schedule, trainID string) (*store.Schedule, bool) {
	if len(candidates) == 0 {
		return nil, false
	}
	if len(candidates) == 1 {
		return &candidates[0], true
	}

	if sameUID(candidates) {
		return &candidates[0], true // byPrecedenceCase already ordered O>N>P>C
	}

	headcode := store.ObfuscatedHeadcode(trainID)
	var byHeadcode []store.Schedule
	for _, s := range candidates {
		if s.SignallingID == headcode {
			byHeadcode = append(byHeadcode, s)
		}
	}
	if len(byHeadcode) == 1 {
		return &byHeadcode[0], true
	}
	return nil, false
}

func sameUID(scheds []store.Schedule) bool {
	if len(scheds) == 0 {
		return false
	}
	uid := scheds[0].TrainUID
	for _, s := range scheds[1:] {
		if s.TrainUID != uid {
			return false
		}
	}
	return true
}

// applyChangeOfOrigin handles msg_type 0006.
func (ing *Ingester) applyChangeOfOrigin(tx *gorm.DB, env Envelope, c *Counters) error {
	var body ChangeOfOriginBody
	if err := unmarshalBody(env, &body); err != nil {
		return err
	}
	depTS, err := parseEpochMillis(body.NewDepartureTimestamp)
	if err != nil {
		return err
	}
	row := &store.ChangeOfOrigin{
		TrainID:               body.TrainID,
		NewOrigin:             body.NewOrigin,
		NewDepartureTimestamp: ing.correctTimestamp(depTS),
		Reason:                body.Reason,
	}
	if err := store.InsertChangeOfOrigin(tx, row); err != nil {
		return err
	}
	c.ChangeOfOrigin++
	return nil
}

// applyChangeOfID handles msg_type 0007, additionally running obfuscation
// reverse-lookup using the new id bound to the existing activation's
// schedule (spec.md §4.E).
func (ing *Ingester) applyChangeOfID(tx *gorm.DB, env Envelope, c *Counters) error {
	var body ChangeOfIDBody
	if err := unmarshalBody(env, &body); err != nil {
		return err
	}
	row := &store.ChangeOfID{OldTrainID: body.TrainID, NewTrainID: body.NewTrainID}
	if err := store.InsertChangeOfID(tx, row); err != nil {
		return err
	}
	c.ChangeOfID++

	act, ok, err := store.LiveActivationWithinDays(tx, body.TrainID, 4, store.Now())
	if err != nil || !ok {
		return err
	}
	var sched store.Schedule
	if err := tx.First(&sched, act.ScheduleID).Error; err != nil {
		return nil
	}
	return ing.reverseLookupObfuscation(tx, body.NewTrainID, &sched)
}

// applyChangeOfLocation handles msg_type 0008.
func (ing *Ingester) applyChangeOfLocation(tx *gorm.DB, env Envelope, c *Counters) error {
	var body ChangeOfLocationBody
	if err := unmarshalBody(env, &body); err != nil {
		return err
	}
	row := &store.ChangeOfLocation{TrainID: body.TrainID, NewStanox: body.NewStanox}
	if err := store.InsertChangeOfLocation(tx, row); err != nil {
		return err
	}
	c.ChangeOfLocation++
	return nil
}
