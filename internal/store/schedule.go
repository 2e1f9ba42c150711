package store

import (
	"errors"
	"time"

	"gorm.io/gorm"
)

// ErrNoMatch is returned by queries that found zero candidate rows, where
// the caller needs to distinguish "zero" from "one" from "many" (spec.md's
// DeleteHit/DeleteMiss/DeleteMulti counter vocabulary).
var ErrNoMatch = errors.New("store: no matching row")

// HeaderAlreadyLoaded implements spec.md §4.C's idempotent-load guard: reject
// a bulk CIF file if an UpdateBatch with an equal or greater extract
// timestamp already exists.
func HeaderAlreadyLoaded(tx *gorm.DB, extractTimestamp time.Time) (bool, error) {
	var count int64
	err := tx.Model(&UpdateBatch{}).
		Where("source_kind IN (1,2) AND extract_timestamp >= ?", extractTimestamp).
		Count(&count).Error
	return count > 0, err
}

// InsertUpdateBatch records the header row for a newly-applied feed file and
// returns its id, used as update_id on every row written from that file.
func InsertUpdateBatch(tx *gorm.DB, extractTimestamp time.Time, sourceKind int) (uint64, error) {
	b := UpdateBatch{ExtractTimestamp: extractTimestamp, SourceKind: sourceKind, CreatedAt: Now()}
	if err := tx.Create(&b).Error; err != nil {
		return 0, err
	}
	return b.ID, nil
}

// byPrecedenceCase orders rows by STP precedence (O > N > P > C) per spec.md §3
// Invariants and §8 property 1. It's applied via a raw CASE expression so it
// composes with further ordering (e.g. "then by newest created").
func byPrecedenceCase(column string) string {
	return "CASE " + column +
		" WHEN 'O' THEN 0 WHEN 'N' THEN 1 WHEN 'P' THEN 2 WHEN 'C' THEN 3 ELSE 4 END"
}

// FindLiveSchedulesByNaturalKey returns live, non-VSTP-excluded-as-requested
// schedules sharing (train_uid, schedule_start_date, stp_indicator). Used by
// the CIF BS R/D handling (spec.md §4.C).
func FindLiveSchedulesByNaturalKey(tx *gorm.DB, trainUID string, startDate time.Time, stp STPIndicator, nonVSTPOnly bool) ([]Schedule, error) {
	q := tx.Where("train_uid = ? AND schedule_start_date = ? AND stp_indicator = ? AND deleted_at IS NULL",
		trainUID, startDate, stp)
	if nonVSTPOnly {
		q = q.Where("update_id != 0")
	} else {
		q = q.Where("update_id = 0")
	}
	var rows []Schedule
	if err := q.Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// FindLiveVSTPSchedules returns live VSTP-origin schedules matching
// (train_uid, start_date, end_date, stp_indicator), spec.md §4.D's Create/
// Update/Delete matching key.
func FindLiveVSTPSchedules(tx *gorm.DB, trainUID string, start, end time.Time, stp STPIndicator) ([]Schedule, error) {
	var rows []Schedule
	err := tx.Where("train_uid = ? AND schedule_start_date = ? AND schedule_end_date = ? AND stp_indicator = ? AND update_id = 0 AND deleted_at IS NULL",
		trainUID, start, end, stp).Find(&rows).Error
	return rows, err
}

// SoftDeleteSchedules marks every given id as deleted at now and returns the
// count, implementing spec.md's soft-deletion-is-never-rewritten discipline
// (§3 Invariants, §8 property 2).
func SoftDeleteSchedules(tx *gorm.DB, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&Schedule{}).Where("id IN ? AND deleted_at IS NULL", ids).Update("deleted_at", Now())
	return res.RowsAffected, res.Error
}

// InsertSchedule creates a new live schedule row.
func InsertSchedule(tx *gorm.DB, sched *Schedule) error {
	sched.CreatedAt = Now()
	sched.DeletedAt = nil
	return tx.Create(sched).Error
}

// LiveNonVSTPScheduleIDs returns the id of every live, non-VSTP-origin
// schedule, the snapshot the full-timetable reconciler loads into its
// in-memory bitmap before walking the authoritative extract (spec.md
// §4.F step 1).
func LiveNonVSTPScheduleIDs(tx *gorm.DB) ([]uint64, error) {
	var ids []uint64
	err := tx.Model(&Schedule{}).
		Where("update_id != 0 AND deleted_at IS NULL").
		Pluck("id", &ids).Error
	return ids, err
}

// ResolveActivationSchedule implements the TRUST 0001 matcher (spec.md §4.E,
// §8 property 1): live, non-VSTP schedules on (train_uid, start, end),
// ordered O > N > P > C then newest created first. Returns the winner, or
// ErrNoMatch if none.
func ResolveActivationSchedule(tx *gorm.DB, trainUID string, start, end time.Time) (*Schedule, error) {
	var rows []Schedule
	err := tx.Where("train_uid = ? AND schedule_start_date = ? AND schedule_end_date = ? AND update_id != 0 AND deleted_at IS NULL",
		trainUID, start, end).
		Order(byPrecedenceCase("stp_indicator")).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, ErrNoMatch
	}
	return &rows[0], nil
}

// DeduceHeadcodeForOverlay implements spec.md §4.C's "Headcode deduction on
// load": when inserting a non-permanent schedule, copy the most recent
// earlier schedule's non-empty deduced_headcode onto the new row (status
// carried forward = 'D'). since is the new schedule's start date; window,
// when non-zero, additionally bounds how far back to look (spec.md §4.D's
// VSTP variant looks back 64 days).
func DeduceHeadcodeForOverlay(tx *gorm.DB, trainUID string, since time.Time, window time.Duration) (string, bool, error) {
	q := tx.Model(&Schedule{}).
		Where("train_uid = ? AND schedule_start_date < ? AND deduced_headcode != ''", trainUID, since)
	if window > 0 {
		q = q.Where("schedule_start_date >= ?", since.Add(-window))
	}
	var sched Schedule
	err := q.Order("schedule_start_date DESC").Order("created_at DESC").First(&sched).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return sched.DeducedHeadcode, true, nil
}

// SetDeducedHeadcode applies a headcode + status onto a schedule, but never
// overwrites a genuine signalling id (spec.md §4.E: "Never overwrite a
// genuine schedule headcode").
func SetDeducedHeadcode(tx *gorm.DB, scheduleID uint64, headcode string, status DeducedHeadcodeStatus) error {
	return tx.Model(&Schedule{}).
		Where("id = ? AND signalling_id = ''", scheduleID).
		Updates(map[string]any{"deduced_headcode": headcode, "deduced_headcode_status": status}).Error
}

// SetDeducedTSC copies a TRUST-supplied train service code onto a schedule
// whose CIF service_code is blank (spec.md §4.E "Deduced TSC").
func SetDeducedTSC(tx *gorm.DB, scheduleID uint64, tsc string) error {
	return tx.Model(&Schedule{}).
		Where("id = ? AND service_code = ''", scheduleID).
		Update("service_code", tsc).Error
}

// FindLiveAssociations matches spec.md §4.C's AA key:
// (main_uid, assoc_uid, assoc_start_date, location, stp_indicator) among
// rows with deleted_at NULL. AssocEndDate is not compared.
func FindLiveAssociations(tx *gorm.DB, mainUID, assocUID string, start time.Time, location string, stp STPIndicator) ([]Association, error) {
	var rows []Association
	err := tx.Where("main_uid = ? AND assoc_uid = ? AND assoc_start_date = ? AND location = ? AND stp_indicator = ? AND deleted_at IS NULL",
		mainUID, assocUID, start, location, stp).Find(&rows).Error
	return rows, err
}

// SoftDeleteAssociations mirrors SoftDeleteSchedules for association rows.
func SoftDeleteAssociations(tx *gorm.DB, ids []uint64) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	res := tx.Model(&Association{}).Where("id IN ? AND deleted_at IS NULL", ids).Update("deleted_at", Now())
	return res.RowsAffected, res.Error
}

// UpsertTiploc inserts a new TIPLOC, or — for a TA rename — soft-deletes the
// old code and inserts the new one atomically (spec.md §4.C: "TA may carry a
// renamed TIPLOC ... implement as soft-delete-old-then-insert-new").
func UpsertTiploc(tx *gorm.DB, t *Tiploc, renameFrom string) error {
	if renameFrom != "" && renameFrom != t.Code {
		if err := tx.Model(&Tiploc{}).
			Where("tiploc_code = ? AND deleted_at IS NULL", renameFrom).
			Update("deleted_at", Now()).Error; err != nil {
			return err
		}
	}
	t.CreatedAt = Now()
	return tx.Create(t).Error
}

// SoftDeleteTiploc handles a TD (TIPLOC delete) card.
func SoftDeleteTiploc(tx *gorm.DB, code string) (int64, error) {
	res := tx.Model(&Tiploc{}).Where("tiploc_code = ? AND deleted_at IS NULL", code).Update("deleted_at", Now())
	return res.RowsAffected, res.Error
}

// LookupTiplocByStanox resolves a STANOX to its live TIPLOC code, used by
// the TRUST deduced-activation path (spec.md §4.E).
func LookupTiplocByStanox(tx *gorm.DB, stanox string) (string, error) {
	var t Tiploc
	err := tx.Where("stanox = ? AND deleted_at IS NULL", stanox).First(&t).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", ErrNoMatch
	}
	return t.Code, err
}
