package store

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

// InsertLocations bulk-inserts a schedule's ordered stops in one statement.
func InsertLocations(tx *gorm.DB, locs []ScheduleLocation) error {
	if len(locs) == 0 {
		return nil
	}
	return tx.Create(&locs).Error
}

// InsertChangesEnRoute bulk-inserts a schedule's CR cards.
func InsertChangesEnRoute(tx *gorm.DB, crs []ChangeEnRoute) error {
	if len(crs) == 0 {
		return nil
	}
	return tx.Create(&crs).Error
}

// ScheduleLocations returns every stop for a schedule, in sequence order.
func ScheduleLocations(tx *gorm.DB, scheduleID uint64) ([]ScheduleLocation, error) {
	var rows []ScheduleLocation
	err := tx.Where("schedule_id = ?", scheduleID).Order("sequence").Find(&rows).Error
	return rows, err
}

// weekdayIndex returns the 1-indexed column position (Mon=1..Sun=7) into
// Schedule.DaysRun for w, converting from Go's Sunday=0 weekday numbering.
// w may be out of the normal 0..6 range (the next_day fallback passes
// weekday-1, which goes negative for Sunday); the +6 offset keeps the
// modulo non-negative for any w in -1..6.
func weekdayIndex(w time.Weekday) int {
	return int(w+6)%7 + 1
}

// CandidateSchedulesAtTiploc implements the location half of spec.md §4.E's
// deduced-activation matcher: live, non-VSTP, non-bus schedules whose
// location list contains tiplocCode with a working time, for the event's own
// field (arrival or departure, pass always checked as a fallback) within
// toleranceQuarterMinutes of sortTime, running on the planned weekday. A stop
// whose next_day flag is set is matched against the day before weekday
// instead, per the original system's branch on event_type and next_day
// (trustdb.c). Results are ordered by STP precedence.
func CandidateSchedulesAtTiploc(tx *gorm.DB, tiplocCode, eventType string, sortTime, toleranceQuarterMinutes int, weekday time.Weekday) ([]Schedule, error) {
	var rows []Schedule
	lo, hi := sortTime-toleranceQuarterMinutes, sortTime+toleranceQuarterMinutes

	timeCol := "l.arrival_sort_time"
	if eventType == "DEPARTURE" {
		timeCol = "l.departure_sort_time"
	}
	timeCond := fmt.Sprintf(
		"((%s >= 0 AND %s BETWEEN ? AND ?) OR (l.pass_sort_time >= 0 AND l.pass_sort_time BETWEEN ? AND ?))",
		timeCol, timeCol)

	normalIdx := weekdayIndex(weekday)
	fallbackIdx := weekdayIndex(weekday - 1)

	err := tx.Table("schedule AS s").
		Joins("JOIN schedule_location AS l ON l.schedule_id = s.id").
		Where("l.tiploc_code = ? AND s.update_id != 0 AND s.deleted_at IS NULL AND s.category NOT LIKE 'B%'", tiplocCode).
		Where(timeCond, lo, hi, lo, hi).
		Where("substr(s.days_run, CASE WHEN l.next_day THEN ? ELSE ? END, 1) = '1'", fallbackIdx, normalIdx).
		Order(byPrecedenceCase("s.stp_indicator")).
		Select("s.*").
		Find(&rows).Error
	return rows, err
}
