// Package reconcile implements the full-timetable reconciler (spec.md
// §4.F): snapshot the live schedule ids into a bitmap, walk an
// authoritative full CIF extract group-by-group, match each group against
// the store, clear matched bits, create missing schedules, demote
// mismatched ones for re-application, and report whatever is left live in
// the store but absent from the extract. Grounded on internal/cif's
// per-card apply style (card parsing, schedule insert/soft-delete) and the
// teacher's pgx-based transactional db package for the advisory-lock-free
// read/compare pass this needs.
package reconcile

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nrod/ingest/internal/cif"
	"github.com/nrod/ingest/internal/railtime"
	"github.com/nrod/ingest/internal/store"
)

// Counters is the reconciler tally, named exactly as spec.md §4.F gives
// them.
type Counters struct {
	ScheduleExamined  int
	ScheduleOld       int
	ScheduleMissing   int
	ScheduleMatch1    int
	ScheduleMatchM    int
	ScheduleUnmatched int

	Created int // ScheduleMissing groups turned into new schedule rows
	Demoted int // ScheduleUnmatched groups written to the revise-output file
	Stray   int // bits still set after the walk
	Deleted int // stray schedules soft-deleted, when Repair is set
}

// Options configures one reconciliation run.
type Options struct {
	// Repair, when true, creates the schedules missing from the store
	// (spec.md §4.F step 5) and soft-deletes schedules whose bit is still
	// set after the walk (step 7 "optionally deleted"). Without it the run
	// only counts and reports; demote cards are written to the revise file
	// either way. This is the reconciler CLI's -m flag.
	Repair bool
	// Now fixes "now" for the schedule_end_date > now liveness check;
	// defaults to time.Now.
	Now func() time.Time
}

// Reconciler runs spec.md §4.F's full-timetable reconciliation pass.
type Reconciler struct {
	DB  *store.Store
	Log *logrus.Entry
}

// Run reconciles the live store against the full extract at path, writing
// any demote-to-revise cards to reviseOut.
func (r *Reconciler) Run(ctx context.Context, path, reviseOut string, opts Options) (*Counters, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("reconcile: open %s: %w", path, err)
	}
	defer f.Close()

	revise, err := os.Create(reviseOut)
	if err != nil {
		return nil, fmt.Errorf("reconcile: create %s: %w", reviseOut, err)
	}
	defer revise.Close()

	counters := &Counters{}
	var bitmap *Bitmap

	err = r.DB.Tx(ctx, func(tx *gorm.DB) error {
		ids, err := store.LiveNonVSTPScheduleIDs(tx)
		if err != nil {
			return err
		}
		bitmap = snapshotBitmap(ids)

		return walkGroups(f, func(g Group) error {
			return r.reconcileGroup(tx, bitmap, g, revise, now(), opts.Repair, counters)
		})
	})
	if err != nil {
		return counters, err
	}

	return counters, r.finish(ctx, bitmap, opts, counters)
}

// snapshotBitmap sizes a bitmap tightly around the observed id range rather
// than always allocating DefaultSize, which would be wasteful for a small
// store (e.g. in tests or a fresh deployment); production id ranges fit
// comfortably inside DefaultSize either way.
func snapshotBitmap(ids []uint64) *Bitmap {
	if len(ids) == 0 {
		return NewBitmap(0, 0)
	}
	min, max := ids[0], ids[0]
	for _, id := range ids {
		if id < min {
			min = id
		}
		if id > max {
			max = id
		}
	}
	size := int(max-min) + 1
	b := NewBitmap(min, size)
	for _, id := range ids {
		b.Set(id)
	}
	return b
}

// reconcileGroup implements spec.md §4.F steps 3-6 for one card group.
func (r *Reconciler) reconcileGroup(tx *gorm.DB, bitmap *Bitmap, g Group, revise io.Writer, now time.Time, repair bool, c *Counters) error {
	c.ScheduleExamined++

	startDate, err := railtime.ParseCIFDate(g.BS.StartDateRaw)
	if err != nil {
		return err
	}
	var endDate time.Time
	if railtime.IsNeverDeleted(g.BS.EndDateRaw) {
		endDate = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
	} else {
		endDate, err = railtime.ParseCIFDate(g.BS.EndDateRaw)
		if err != nil {
			return err
		}
	}
	if !endDate.After(now) {
		c.ScheduleOld++
		return nil
	}

	stp := store.STPIndicator(g.BS.STPIndicator)
	matches, err := store.FindLiveSchedulesByNaturalKey(tx, g.BS.TrainUID, startDate, stp, true)
	if err != nil {
		return err
	}

	switch len(matches) {
	case 0:
		c.ScheduleMissing++
		if !repair {
			return nil
		}
		return r.createMissing(tx, g, startDate, endDate, stp, c)
	case 1:
		match := matches[0]
		bitmap.Clear(match.ID)
		identical, err := locationsMatch(tx, match.ID, g.Locations)
		if err != nil {
			return err
		}
		if identical {
			c.ScheduleMatch1++
			return nil
		}
		c.ScheduleUnmatched++
		c.Demoted++
		return writeDemote(revise, g)
	default:
		c.ScheduleMatchM++
		for _, m := range matches {
			bitmap.Clear(m.ID)
		}
		return nil
	}
}

// createMissing inserts a schedule exactly as the VSTP/CIF path would
// (spec.md §4.F step 5).
func (r *Reconciler) createMissing(tx *gorm.DB, g Group, startDate, endDate time.Time, stp store.STPIndicator, c *Counters) error {
	sched := &store.Schedule{
		TrainUID:          g.BS.TrainUID,
		STPIndicator:      stp,
		ScheduleStartDate: startDate,
		ScheduleEndDate:   endDate,
		DaysRun:           g.BS.DaysRun,
		Category:          g.BS.Category,
		SignallingID:      g.BS.SignallingID,
		Headcode:          g.BS.Headcode,
		ServiceCode:       g.BS.ServiceCode,
		PowerType:         g.BS.PowerType,
		TimingLoad:        g.BS.TimingLoad,
		Speed:             g.BS.Speed,
		OperatingChars:    g.BS.OpCharacteristics,
		TrainClass:        g.BS.TrainClass,
		Sleepers:          g.BS.Sleepers,
		Reservations:      g.BS.Reservations,
		ConnectionInd:     g.BS.ConnectionInd,
		Catering:          g.BS.Catering,
		Branding:          g.BS.Branding,
		UpdateID:          0, // the reconciler has no UpdateBatch of its own; these rows read as VSTP-origin until the next bulk load supersedes them
	}
	if g.HasBX {
		sched.ATOCCode = g.BX.ATOCCode
		sched.UICCode = g.BX.UICCode
		sched.ApplicableTimetable = g.BX.ApplicableTimetable
	}
	if err := store.InsertSchedule(tx, sched); err != nil {
		return err
	}
	c.Created++

	locs := make([]store.ScheduleLocation, 0, len(g.Locations))
	var originSortTime int
	haveOrigin := false
	for seq, loc := range g.Locations {
		sortTime, err := loc.SortTime()
		if err != nil {
			return err
		}
		arrivalSortTime, departureSortTime, passSortTime, err := loc.FieldSortTimes()
		if err != nil {
			return err
		}
		row := store.ScheduleLocation{
			ScheduleID:           sched.ID,
			Sequence:             seq,
			Kind:                 store.ScheduleLocationKind(loc.Kind),
			TiplocCode:           loc.TiplocCode,
			TiplocInstance:       loc.TiplocInstance,
			Activities:           loc.Activities,
			ArrivalRaw:           loc.ArrivalRaw,
			DepartureRaw:         loc.DepartureRaw,
			PassRaw:              loc.PassRaw,
			PublicArrival:        loc.PublicArrival,
			PublicDeparture:      loc.PublicDeparture,
			SortTime:             sortTime,
			ArrivalSortTime:      arrivalSortTime,
			DepartureSortTime:    departureSortTime,
			PassSortTime:         passSortTime,
			Platform:             loc.Platform,
			Line:                 loc.Line,
			Path:                 loc.Path,
			EngineeringAllowance: loc.EngineeringAllowance,
			PathingAllowance:     loc.PathingAllowance,
			PerformanceAllowance: loc.PerformanceAllowance,
		}
		if !haveOrigin {
			originSortTime = sortTime
			haveOrigin = true
		} else if sortTime >= 0 && sortTime < originSortTime {
			row.NextDay = true
		}
		locs = append(locs, row)
	}
	if err := store.InsertLocations(tx, locs); err != nil {
		return err
	}

	changes := make([]store.ChangeEnRoute, 0, len(g.Changes))
	for seq, cr := range g.Changes {
		changes = append(changes, store.ChangeEnRoute{
			ScheduleID:   sched.ID,
			Sequence:     seq,
			TiplocCode:   cr.TiplocCode,
			Category:     cr.Category,
			SignallingID: cr.SignallingID,
			ServiceCode:  cr.ServiceCode,
			PowerType:    cr.PowerType,
			TimingLoad:   cr.TimingLoad,
		})
	}
	return store.InsertChangesEnRoute(tx, changes)
}

// locationsMatch reports whether the store's current location list for
// scheduleID is identical record-for-record to the incoming group's
// locations (spec.md §4.F step 3 "identical record-for-record").
func locationsMatch(tx *gorm.DB, scheduleID uint64, incoming []cif.Location) (bool, error) {
	stored, err := store.ScheduleLocations(tx, scheduleID)
	if err != nil {
		return false, err
	}
	if len(stored) != len(incoming) {
		return false, nil
	}
	for i, loc := range incoming {
		s := stored[i]
		if string(s.Kind) != string(loc.Kind) ||
			s.TiplocCode != loc.TiplocCode ||
			s.TiplocInstance != loc.TiplocInstance ||
			s.ArrivalRaw != loc.ArrivalRaw ||
			s.DepartureRaw != loc.DepartureRaw ||
			s.PassRaw != loc.PassRaw ||
			s.PublicArrival != loc.PublicArrival ||
			s.PublicDeparture != loc.PublicDeparture ||
			s.Platform != loc.Platform ||
			s.Line != loc.Line ||
			s.Path != loc.Path ||
			s.Activities != loc.Activities {
			return false, nil
		}
	}
	return true, nil
}

// writeDemote appends the group's raw cards, with the BS transaction byte
// forced to 'R', to the revise-output file (spec.md §4.F step 6): applying
// that file through the ordinary bulk loader soft-deletes the stale match,
// clearing the way for the next load to re-insert the corrected row.
func writeDemote(w io.Writer, g Group) error {
	for i, line := range g.RawLines {
		out := line
		if i == 0 && len(out) >= 2 {
			out = out[:1] + "R" + out[2:]
		}
		if _, err := fmt.Fprintln(w, out); err != nil {
			return err
		}
	}
	return nil
}

// finish applies spec.md §4.F step 7: report (and optionally repair) any
// schedule still live in the store but absent from the extract.
func (r *Reconciler) finish(ctx context.Context, bitmap *Bitmap, opts Options, c *Counters) error {
	stray := bitmap.StillSet()
	c.Stray = len(stray)
	if len(stray) == 0 {
		return nil
	}
	if r.Log != nil {
		r.Log.WithField("count", len(stray)).Warn("reconcile: schedules live in store but absent from extract")
	}
	if !opts.Repair {
		return nil
	}
	return r.DB.Tx(ctx, func(tx *gorm.DB) error {
		n, err := store.SoftDeleteSchedules(tx, stray)
		if err != nil {
			return err
		}
		c.Deleted = int(n)
		return nil
	})
}
