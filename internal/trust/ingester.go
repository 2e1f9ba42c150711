package trust

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/nrod/ingest/internal/store"
)

// LiveActivationWindow is spec.md §3's "live activation within the last 4
// days" invariant window.
const LiveActivationWindow = 4 * 24 * time.Hour

// DeducedActivationTolerance is spec.md §4.E's "±8 minutes" matching
// tolerance, in quarter-minutes (railtime's sort-time unit).
const DeducedActivationTolerance = 8 * 4

// Counters is the TRUST message tally; names match spec.md §4.E exactly
// where it gives one (Mess1MissHit, Mess1Cape, DeducedHC, DeducedHCReplaced,
// DeducedTSC, DeducedAct).
type Counters struct {
	Activations     int
	Mess1MissHit    int // deferred activation matched on retry
	Mess1Cape       int // activation bound to a cancelled (STP 'C') schedule
	DeferredDropped int // deferred queue overflow or exhausted retry

	DeducedHC         int
	DeducedHCReplaced int
	DeducedTSC        int
	DeducedAct        int
	DeducedActRefused int

	Cancellations    int
	Reinstates       int
	Movements        int
	ChangeOfOrigin   int
	ChangeOfID       int
	ChangeOfLocation int
}

// Ingester applies TRUST messages to the store.
type Ingester struct {
	Deferred      *store.DeferredQueue
	Obfus         *store.ObfusLookup
	NoDeduceAct   bool                   // config key trustdb_no_deduce_act: disable §4.E deduced-activation matching
	DSTCorrection func(t time.Time) bool // returns true if t falls in local DST, for the -3600s correction
}

// NewIngester builds an Ingester with spec.md's default deferred-queue
// shape.
func NewIngester(obfus *store.ObfusLookup) *Ingester {
	return &Ingester{
		Deferred: store.NewDeferredQueue(store.DefaultDeferredCapacity, store.DefaultDeferredDelay),
		Obfus:    obfus,
	}
}

// ApplyFrame parses and applies every message in one STOMP frame, draining
// due deferred activations first (spec.md §4.E: "The top-level loop drains
// the queue before processing each new frame").
func (ing *Ingester) ApplyFrame(ctx context.Context, tx *gorm.DB, frame []byte, now time.Time, c *Counters) error {
	if err := ing.drainDeferred(tx, now, c); err != nil {
		return err
	}

	envs, err := ParseFrame(frame)
	if err != nil {
		return err
	}
	for _, env := range envs {
		if err := ing.apply(tx, env, now, c); err != nil {
			return err
		}
	}
	return nil
}

func (ing *Ingester) apply(tx *gorm.DB, env Envelope, now time.Time, c *Counters) error {
	switch env.MsgType {
	case MsgActivation:
		return ing.applyActivation(tx, env, now, c)
	case MsgCancellation:
		return ing.applyCancellation(tx, env, false, c)
	case MsgReinstate:
		return ing.applyCancellation(tx, env, true, c)
	case MsgMovement:
		return ing.applyMovement(tx, env, now, c)
	case MsgChangeOfOrigin:
		return ing.applyChangeOfOrigin(tx, env, c)
	case MsgChangeOfID:
		return ing.applyChangeOfID(tx, env, c)
	case MsgChangeOfLocation:
		return ing.applyChangeOfLocation(tx, env, c)
	default:
		return nil // unrecognised msg_type: tolerated per spec.md §6
	}
}

// correctTimestamp subtracts one hour when the receiving host is in DST
// (spec.md §4.E "Timestamp correction").
func (ing *Ingester) correctTimestamp(t time.Time) time.Time {
	if ing.DSTCorrection == nil || t.IsZero() {
		return t
	}
	if ing.DSTCorrection(t) {
		return t.Add(-1 * time.Hour)
	}
	return t
}

// applyActivation handles msg_type 0001 (spec.md §4.E).
func (ing *Ingester) applyActivation(tx *gorm.DB, env Envelope, now time.Time, c *Counters) error {
	var body ActivationBody
	if err := unmarshalBody(env, &body); err != nil {
		return err
	}
	start, err := time.Parse("2006-01-02", body.ScheduleStartDate)
	if err != nil {
		return fmt.Errorf("trust: bad activation start date %q: %w", body.ScheduleStartDate, err)
	}
	end, err := time.Parse("2006-01-02", body.ScheduleEndDate)
	if err != nil {
		return fmt.Errorf("trust: bad activation end date %q: %w", body.ScheduleEndDate, err)
	}

	return ing.bindActivation(tx, body.TrainID, body.TrainUID, start, end, body.OriginStanox, body.TSC, body.WTTIDCode, now, c)
}

// bindActivation resolves the schedule for a train-id/uid/window and records
// the activation, or defers it (spec.md §4.E).
func (ing *Ingester) bindActivation(tx *gorm.DB, trainID, trainUID string, start, end time.Time, originStanox, tsc, wttID string, now time.Time, c *Counters) error {
	sched, err := store.ResolveActivationSchedule(tx, trainUID, start, end)
	if errors.Is(err, store.ErrNoMatch) {
		if !ing.Deferred.Push(trainID, trainUID, start, end, now) {
			c.DeferredDropped++
		}
		return nil
	}
	if err != nil {
		return err
	}

	cancelled := sched.STPIndicator == store.STPCancellation
	act := &store.Activation{TrainID: trainID, ScheduleID: sched.ID, Cancelled: cancelled}
	extra := &store.ActivationExtra{OriginStanox: originStanox, TSC: tsc, WTTIDCode: wttID}
	if err := store.InsertActivation(tx, act, extra); err != nil {
		return err
	}
	c.Activations++
	if cancelled {
		c.Mess1Cape++
		return nil
	}

	return ing.onActivationBound(tx, act, sched, trainID, tsc, c)
}

// onActivationBound runs headcode obfuscation reverse-lookup, deduced
// headcode, and deduced TSC for a newly-bound activation (spec.md §4.E).
func (ing *Ingester) onActivationBound(tx *gorm.DB, act *store.Activation, sched *store.Schedule, trainID, tsc string, c *Counters) error {
	if sched.SignallingID == "" {
		status := store.DeducedActivation
		// The headcode lives in chars 3..6 of the train-id regardless of
		// whether it's genuine or obfuscated (spec.md §4.E); obfuscation only
		// changes whether a reverse-lookup entry can later be learned for it.
		hc := store.ObfuscatedHeadcode(trainID)
		replaced := sched.DeducedHeadcode != "" && sched.DeducedHeadcode != hc
		if err := store.SetDeducedHeadcode(tx, sched.ID, hc, status); err != nil {
			return err
		}
		if replaced {
			c.DeducedHCReplaced++
		} else {
			c.DeducedHC++
		}
	}

	if sched.ServiceCode == "" && tsc != "" {
		if err := store.SetDeducedTSC(tx, sched.ID, tsc); err != nil {
			return err
		}
		c.DeducedTSC++
	}

	return ing.reverseLookupObfuscation(tx, trainID, sched)
}

// reverseLookupObfuscation implements spec.md §4.E's "Headcode obfuscation
// reverse-lookup": if trainID is obfuscated-shaped and the bound schedule
// carries a genuine or 'A'-status headcode whose class letter matches,
// learn the mapping.
func (ing *Ingester) reverseLookupObfuscation(tx *gorm.DB, trainID string, sched *store.Schedule) error {
	if ing.Obfus == nil || !store.IsObfuscatedTrainID(trainID) {
		return nil
	}
	trueHC := sched.SignallingID
	if trueHC == "" && sched.DeducedHeadcodeStatus == store.DeducedActivation {
		trueHC = sched.DeducedHeadcode
	}
	obfusHC := store.ObfuscatedHeadcode(trainID)
	if trueHC == "" || len(obfusHC) == 0 || trueHC[0] != obfusHC[0] {
		return nil
	}
	return ing.Obfus.Insert(context.Background(), trueHC, obfusHC)
}

// drainDeferred retries every due deferred activation (spec.md §4.E: "each
// deferred entry is retried once and either matched ... or recorded as an
// activation with schedule_id=0 and dropped").
func (ing *Ingester) drainDeferred(tx *gorm.DB, now time.Time, c *Counters) error {
	due := ing.Deferred.Due(now)
	for _, d := range due {
		sched, err := store.ResolveActivationSchedule(tx, d.TrainUID, d.Start, d.End)
		if errors.Is(err, store.ErrNoMatch) {
			act := &store.Activation{TrainID: d.TrainID, ScheduleID: 0}
			if err := store.InsertActivation(tx, act, nil); err != nil {
				return err
			}
			c.DeferredDropped++
			continue
		}
		if err != nil {
			return err
		}
		c.Mess1MissHit++
		cancelled := sched.STPIndicator == store.STPCancellation
		act := &store.Activation{TrainID: d.TrainID, ScheduleID: sched.ID, Cancelled: cancelled}
		if err := store.InsertActivation(tx, act, nil); err != nil {
			return err
		}
		c.Activations++
		if cancelled {
			c.Mess1Cape++
			continue
		}
		if err := ing.onActivationBound(tx, act, sched, d.TrainID, "", c); err != nil {
			return err
		}
	}
	return nil
}

// applyCancellation handles msg_type 0002 and 0005 (spec.md §4.E).
func (ing *Ingester) applyCancellation(tx *gorm.DB, env Envelope, reinstate bool, c *Counters) error {
	var body CancellationBody
	if err := unmarshalBody(env, &body); err != nil {
		return err
	}
	row := &store.Cancellation{TrainID: body.TrainID, Reinstate: reinstate, Reason: body.Reason, Stanox: body.Stanox}
	if err := store.InsertCancellation(tx, row); err != nil {
		return err
	}
	if reinstate {
		c.Reinstates++
	} else {
		c.Cancellations++
	}
	return nil
}

func unmarshalBody(env Envelope, out any) error {
	if len(env.Body) == 0 {
		return fmt.Errorf("trust: %s message has no body", env.MsgType)
	}
	if err := json.Unmarshal(env.Body, out); err != nil {
		return fmt.Errorf("trust: decode %s body: %w", env.MsgType, err)
	}
	return nil
}
