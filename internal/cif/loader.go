package cif

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/nrod/ingest/internal/railtime"
	"github.com/nrod/ingest/internal/store"
)

// Counters is the card-processing tally spec.md §4.C names by name
// (ScheduleDeleteMulti, ScheduleDeleteMiss) plus the analogous ones this
// loader needs for associations and TIPLOCs.
type Counters struct {
	CardsProcessed int

	SchedulesCreated    int
	SchedulesDeleted    int
	ScheduleDeleteMulti int
	ScheduleDeleteMiss  int

	LocationsCreated int
	ChangesCreated   int

	AssociationsCreated    int
	AssociationDeleteMulti int
	AssociationDeleteMiss  int

	TiplocsInserted int
	TiplocsAmended  int
	TiplocsDeleted  int
}

// DefaultProgressInterval is spec.md §4.C's "every 10 minutes" progress log.
const DefaultProgressInterval = 10 * time.Minute

// VerboseProgressInterval is the "1 minute with verbose option" variant.
const VerboseProgressInterval = 1 * time.Minute

// ErrAlreadyLoaded is returned when the header's extract timestamp is not
// newer than the latest applied UpdateBatch (spec.md §4.C idempotent load).
var ErrAlreadyLoaded = fmt.Errorf("cif: file already loaded")

// ErrUnexpectedFull is returned when an 'F' header arrives but the caller
// expected update-only (spec.md §4.C).
var ErrUnexpectedFull = fmt.Errorf("cif: unexpected full extract")

// Loader drives the CIF per-record state machine over a single transaction
// per file, per spec.md §4.C: "A single transaction covers the whole file."
type Loader struct {
	DB               *store.Store
	Log              *logrus.Entry
	ProgressInterval time.Duration
}

// NewLoader builds a Loader with spec.md's default progress cadence.
func NewLoader(db *store.Store, log *logrus.Entry) *Loader {
	return &Loader{DB: db, Log: log, ProgressInterval: DefaultProgressInterval}
}

// loaderState tracks the "current schedule" the state machine is
// accumulating LO/LI/LT/CR/BX cards for.
type loaderState struct {
	updateID uint64

	scheduleID     uint64
	scheduleStp    store.STPIndicator
	scheduleUID    string
	originSortTime int
	sequence       int
	haveOrigin     bool
	pendingLocs    []store.ScheduleLocation
	pendingChanges []store.ChangeEnRoute
}

// LoadFile parses path and applies it inside one transaction. expectUpdate
// true means a full ('F') header is rejected (spec.md §4.C).
func (l *Loader) LoadFile(ctx context.Context, path string, expectUpdate bool) (*Counters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cif: open %s: %w", path, err)
	}
	defer f.Close()

	counters := &Counters{}
	lastProgress := time.Now()

	err = l.DB.Tx(ctx, func(tx *gorm.DB) error {
		scanner := bufio.NewScanner(f)
		scanner.Buffer(make([]byte, 4096), 4096)

		if !scanner.Scan() {
			return fmt.Errorf("cif: empty file")
		}
		header, err := ParseHeader(scanner.Text())
		if err != nil {
			return err
		}
		if expectUpdate && header.UpdateIndicator == 'F' {
			return ErrUnexpectedFull
		}
		extractTS, err := parseHeaderTimestamp(header.ExtractTimestampRaw)
		if err != nil {
			return err
		}
		already, err := store.HeaderAlreadyLoaded(tx, extractTS)
		if err != nil {
			return err
		}
		if already {
			return ErrAlreadyLoaded
		}

		sourceKind := 1
		if header.UpdateIndicator == 'F' {
			sourceKind = 2
		}
		updateID, err := store.InsertUpdateBatch(tx, extractTS, sourceKind)
		if err != nil {
			return err
		}

		st := &loaderState{updateID: updateID}

		for scanner.Scan() {
			line := scanner.Text()
			counters.CardsProcessed++

			if err := l.applyCard(tx, st, line, counters); err != nil {
				return err
			}

			if time.Since(lastProgress) >= l.ProgressInterval {
				l.Log.WithFields(logrus.Fields{
					"cards":     counters.CardsProcessed,
					"schedules": counters.SchedulesCreated,
					"locations": counters.LocationsCreated,
				}).Info("cif load progress")
				lastProgress = time.Now()
			}
		}
		if err := scanner.Err(); err != nil && err != io.EOF {
			return fmt.Errorf("cif: scan: %w", err)
		}

		return l.flushCurrentSchedule(tx, st, counters)
	})
	if err != nil {
		return counters, err
	}
	return counters, nil
}

func (l *Loader) applyCard(tx *gorm.DB, st *loaderState, line string, c *Counters) error {
	switch identity(line) {
	case RecordBasicSchedule:
		if err := l.flushCurrentSchedule(tx, st, c); err != nil {
			return err
		}
		return l.applyBasicSchedule(tx, st, line, c)
	case RecordBasicExtra:
		return l.applyBasicExtra(tx, st, line)
	case RecordOrigin, RecordIntermediate, RecordTerminus:
		return l.applyLocation(tx, st, line, c)
	case RecordChangeEnRoute:
		return l.applyChangeEnRoute(st, line)
	case RecordAssociation:
		return l.applyAssociation(tx, line, c)
	case RecordTiplocInsert, RecordTiplocAmend, RecordTiplocDelete:
		return l.applyTiploc(tx, line, c)
	case RecordTrailer:
		return nil
	default:
		l.Log.WithField("record", identity(line)).Debug("cif: ignoring unrecognised card")
		return nil
	}
}

// applyBasicSchedule handles a BS card: spec.md §4.C.
func (l *Loader) applyBasicSchedule(tx *gorm.DB, st *loaderState, line string, c *Counters) error {
	bs, err := ParseBasicSchedule(line)
	if err != nil {
		return err
	}
	startDate, err := railtime.ParseCIFDate(bs.StartDateRaw)
	if err != nil {
		return err
	}
	stp := store.STPIndicator(bs.STPIndicator)

	if bs.Transaction == TxRevise || bs.Transaction == TxDelete {
		matches, err := store.FindLiveSchedulesByNaturalKey(tx, bs.TrainUID, startDate, stp, true)
		if err != nil {
			return err
		}
		switch len(matches) {
		case 0:
			if bs.Transaction == TxDelete {
				c.ScheduleDeleteMiss++
			}
			// an R matching nothing is a silent no-op: expired schedule.
		case 1:
			ids := []uint64{matches[0].ID}
			if _, err := store.SoftDeleteSchedules(tx, ids); err != nil {
				return err
			}
			c.SchedulesDeleted++
		default:
			c.ScheduleDeleteMulti++
			ids := make([]uint64, len(matches))
			for i, m := range matches {
				ids[i] = m.ID
			}
			n, err := store.SoftDeleteSchedules(tx, ids)
			if err != nil {
				return err
			}
			c.SchedulesDeleted += int(n)
		}
	}

	if bs.Transaction == TxNew || bs.Transaction == TxRevise {
		endDate := railtime.NeverDeleted == bs.EndDateRaw
		var end time.Time
		if endDate {
			end = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
		} else {
			end, err = railtime.ParseCIFDate(bs.EndDateRaw)
			if err != nil {
				return err
			}
		}

		sched := &store.Schedule{
			TrainUID:          bs.TrainUID,
			STPIndicator:      stp,
			ScheduleStartDate: startDate,
			ScheduleEndDate:   end,
			DaysRun:           bs.DaysRun,
			Category:          bs.Category,
			SignallingID:      bs.SignallingID,
			Headcode:          bs.Headcode,
			ServiceCode:       bs.ServiceCode,
			PowerType:         bs.PowerType,
			TimingLoad:        bs.TimingLoad,
			Speed:             bs.Speed,
			OperatingChars:    bs.OpCharacteristics,
			TrainClass:        bs.TrainClass,
			Sleepers:          bs.Sleepers,
			Reservations:      bs.Reservations,
			ConnectionInd:     bs.ConnectionInd,
			Catering:          bs.Catering,
			Branding:          bs.Branding,
			UpdateID:          st.updateID,
		}

		if stp != store.STPPermanent {
			if hc, ok, err := store.DeduceHeadcodeForOverlay(tx, bs.TrainUID, startDate, 0); err != nil {
				return err
			} else if ok {
				sched.DeducedHeadcode = hc
				sched.DeducedHeadcodeStatus = store.DeducedCarried
			}
		}

		if err := store.InsertSchedule(tx, sched); err != nil {
			return err
		}
		c.SchedulesCreated++

		st.scheduleID = sched.ID
		st.scheduleStp = stp
		st.scheduleUID = bs.TrainUID
		st.sequence = 0
		st.haveOrigin = false
		st.pendingLocs = nil
		st.pendingChanges = nil
	} else {
		st.scheduleID = 0
	}
	return nil
}

// applyBasicExtra handles a BX card, updating the schedule just inserted.
func (l *Loader) applyBasicExtra(tx *gorm.DB, st *loaderState, line string) error {
	if st.scheduleID == 0 {
		return nil // BX following a delete-only BS: nothing to update.
	}
	bx, err := ParseBasicExtra(line)
	if err != nil {
		return err
	}
	return tx.Model(&store.Schedule{}).Where("id = ?", st.scheduleID).
		Updates(map[string]any{
			"atoc_code":            bx.ATOCCode,
			"uic_code":             bx.UICCode,
			"applicable_timetable": bx.ApplicableTimetable,
		}).Error
}

// applyLocation handles LO/LI/LT, buffering the row until the schedule is
// flushed so next_day can be computed against the origin's sort time.
func (l *Loader) applyLocation(tx *gorm.DB, st *loaderState, line string, c *Counters) error {
	if st.scheduleID == 0 {
		return nil
	}
	loc, err := ParseLocation(line)
	if err != nil {
		return err
	}
	sortTime, err := loc.SortTime()
	if err != nil {
		return err
	}
	arrivalSortTime, departureSortTime, passSortTime, err := loc.FieldSortTimes()
	if err != nil {
		return err
	}

	row := store.ScheduleLocation{
		ScheduleID:           st.scheduleID,
		Sequence:             st.sequence,
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
	st.sequence++

	if !st.haveOrigin {
		st.originSortTime = sortTime
		st.haveOrigin = true
	} else if sortTime >= 0 && sortTime < st.originSortTime {
		row.NextDay = true
	}

	st.pendingLocs = append(st.pendingLocs, row)
	c.LocationsCreated++
	return nil
}

func (l *Loader) applyChangeEnRoute(st *loaderState, line string) error {
	if st.scheduleID == 0 {
		return nil
	}
	cr, err := ParseChangeEnRoute(line)
	if err != nil {
		return err
	}
	st.pendingChanges = append(st.pendingChanges, store.ChangeEnRoute{
		ScheduleID:   st.scheduleID,
		Sequence:     len(st.pendingChanges),
		TiplocCode:   cr.TiplocCode,
		Category:     cr.Category,
		SignallingID: cr.SignallingID,
		ServiceCode:  cr.ServiceCode,
		PowerType:    cr.PowerType,
		TimingLoad:   cr.TimingLoad,
	})
	return nil
}

// flushCurrentSchedule writes the buffered locations/changes for whatever
// schedule is in progress, called before moving to the next BS and at
// end-of-file.
func (l *Loader) flushCurrentSchedule(tx *gorm.DB, st *loaderState, c *Counters) error {
	if st.scheduleID == 0 {
		return nil
	}
	if err := store.InsertLocations(tx, st.pendingLocs); err != nil {
		return err
	}
	if err := store.InsertChangesEnRoute(tx, st.pendingChanges); err != nil {
		return err
	}
	c.ChangesCreated += len(st.pendingChanges)
	st.pendingLocs = nil
	st.pendingChanges = nil
	st.scheduleID = 0
	return nil
}

// applyAssociation handles an AA card: spec.md §4.C, "same N/R/D rules as
// BS" matching on (main_uid, assoc_uid, assoc_start_date, location,
// stp_indicator) among rows not yet soft-deleted; the stored end date is
// not compared.
func (l *Loader) applyAssociation(tx *gorm.DB, line string, c *Counters) error {
	aa, err := ParseAssociation(line)
	if err != nil {
		return err
	}
	startDate, err := railtime.ParseCIFDate(aa.AssocStartRaw)
	if err != nil {
		return err
	}
	stp := store.STPIndicator(aa.STPIndicator)

	if aa.Transaction == TxRevise || aa.Transaction == TxDelete {
		matches, err := store.FindLiveAssociations(tx, aa.MainUID, aa.AssocUID, startDate, aa.Location, stp)
		if err != nil {
			return err
		}
		switch len(matches) {
		case 0:
			if aa.Transaction == TxDelete {
				c.AssociationDeleteMiss++
			}
		case 1:
			if _, err := store.SoftDeleteAssociations(tx, []uint64{matches[0].ID}); err != nil {
				return err
			}
		default:
			c.AssociationDeleteMulti++
			ids := make([]uint64, len(matches))
			for i, m := range matches {
				ids[i] = m.ID
			}
			if _, err := store.SoftDeleteAssociations(tx, ids); err != nil {
				return err
			}
		}
	}

	if aa.Transaction == TxNew || aa.Transaction == TxRevise {
		endDate := time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)
		if !railtime.IsNeverDeleted(aa.AssocEndRaw) {
			endDate = startDate
			if d, err := railtime.ParseCIFDate(aa.AssocEndRaw); err == nil {
				endDate = d
			}
		}
		assoc := &store.Association{
			MainUID:        aa.MainUID,
			AssocUID:       aa.AssocUID,
			AssocStartDate: startDate,
			AssocEndDate:   endDate,
			DaysRun:        aa.DaysRun,
			Location:       aa.Location,
			Category:       aa.Category,
			STPIndicator:   stp,
			CreatedAt:      store.Now(),
		}
		if err := tx.Create(assoc).Error; err != nil {
			return err
		}
		c.AssociationsCreated++
	}
	return nil
}

// applyTiploc handles TI/TA/TD cards (spec.md §4.C).
func (l *Loader) applyTiploc(tx *gorm.DB, line string, c *Counters) error {
	t, err := ParseTiploc(line)
	if err != nil {
		return err
	}
	switch t.Kind {
	case RecordTiplocInsert:
		row := &store.Tiploc{Code: t.Code, Nalco: t.Nalco, Description: t.Description, Stanox: t.Stanox, CRS: t.CRS}
		if err := store.UpsertTiploc(tx, row, ""); err != nil {
			return err
		}
		c.TiplocsInserted++
	case RecordTiplocAmend:
		code := t.Code
		rename := ""
		if t.NewCode != "" && t.NewCode != t.Code {
			rename = t.Code
			code = t.NewCode
		}
		row := &store.Tiploc{Code: code, Nalco: t.Nalco, Description: t.Description, Stanox: t.Stanox, CRS: t.CRS}
		if err := store.UpsertTiploc(tx, row, rename); err != nil {
			return err
		}
		c.TiplocsAmended++
	case RecordTiplocDelete:
		if _, err := store.SoftDeleteTiploc(tx, t.Code); err != nil {
			return err
		}
		c.TiplocsDeleted++
	}
	return nil
}

// parseHeaderTimestamp turns the HD card's "ddmmyyhhmi" raw field into a
// time.Time (spec.md §6: "dd at 22..23, mm at 24..25, yy at 26..27, hh at
// 28..29, mi at 30..31").
func parseHeaderTimestamp(raw string) (time.Time, error) {
	if len(raw) != 10 {
		return time.Time{}, fmt.Errorf("cif: bad header timestamp %q", raw)
	}
	yymmdd := raw[4:6] + raw[2:4] + raw[0:2]
	date, err := railtime.ParseCIFDate(yymmdd)
	if err != nil {
		return time.Time{}, err
	}
	hh, err := parseDigits(raw[6:8])
	if err != nil {
		return time.Time{}, err
	}
	mi, err := parseDigits(raw[8:10])
	if err != nil {
		return time.Time{}, err
	}
	return date.Add(time.Duration(hh)*time.Hour + time.Duration(mi)*time.Minute), nil
}

func parseDigits(s string) (int, error) {
	n := 0
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("cif: bad digits %q", s)
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}
