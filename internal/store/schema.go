// Package store implements the relational schema and transactional access
// described in spec.md §3/§4.A: schedules, locations, changes-en-route,
// associations, TIPLOCs, activations, movements, cancellations, update
// batches, status, and the obfuscation lookup. It is built on gorm with the
// postgres driver, the same stack the teacher repo uses for its relational
// tables, migrated with AutoMigrate behind a session-level advisory lock.
package store

import (
	"time"
)

// STPIndicator is the Short-Term-Plan classification of a schedule or
// association row. Precedence when several rows share a natural key:
// Overlay > New > Permanent > Cancellation (spec.md §3 Invariants, §8
// property 1).
type STPIndicator string

const (
	STPPermanent    STPIndicator = "P"
	STPOverlay      STPIndicator = "O"
	STPNew          STPIndicator = "N"
	STPCancellation STPIndicator = "C"
)

// precedenceRank ranks STP indicators for ORDER BY; lower sorts first.
func (s STPIndicator) precedenceRank() int {
	switch s {
	case STPOverlay:
		return 0
	case STPNew:
		return 1
	case STPPermanent:
		return 2
	case STPCancellation:
		return 3
	default:
		return 4
	}
}

// DeducedHeadcodeStatus is the single-char status of Schedule.DeducedHeadcode.
type DeducedHeadcodeStatus string

const (
	DeducedNone       DeducedHeadcodeStatus = ""
	DeducedActivation DeducedHeadcodeStatus = "A" // deduced from an activation
	DeducedCarried    DeducedHeadcodeStatus = "D" // carried forward to a later overlay
)

// Live is never rewritten once soft-deleted: DeletedAt == nil means the row
// is live, any non-nil value means it was soft-deleted at that instant.
// This mirrors the CIF "deleted = 0xFFFFFFFF means live" sentinel using Go's
// nullable *time.Time instead, per spec.md §9 "Nullable timestamps by
// sentinel" design note: a live row holds NULL in deleted_at, and the
// sentinel value itself is never stored.

// UpdateBatch is the header row for each applied feed file (spec.md §3).
type UpdateBatch struct {
	ID               uint64 `gorm:"primaryKey"`
	ExtractTimestamp time.Time
	// SourceKind: 1 = daily CIF update, 2 = full CIF extract, 0 = VSTP origin.
	SourceKind int
	CreatedAt  time.Time
}

func (UpdateBatch) TableName() string { return "update_batch" }

// Tiploc is a location reference (spec.md §3).
type Tiploc struct {
	ID          uint64 `gorm:"primaryKey"`
	Code        string `gorm:"column:tiploc_code;uniqueIndex:,where:deleted_at IS NULL"`
	Nalco       string
	Description string
	Stanox      string `gorm:"index"`
	CRS         string `gorm:"column:crs_code"`
	CreatedAt   time.Time
	DeletedAt   *time.Time
}

func (Tiploc) TableName() string { return "tiploc" }

// Schedule is a planned train (spec.md §3).
type Schedule struct {
	ID       uint64 `gorm:"primaryKey"`
	TrainUID string `gorm:"column:train_uid;index:idx_schedule_uid_window"`

	STPIndicator      STPIndicator `gorm:"column:stp_indicator;index:idx_schedule_uid_window"`
	ScheduleStartDate time.Time    `gorm:"column:schedule_start_date;index:idx_schedule_uid_window"`
	ScheduleEndDate   time.Time    `gorm:"column:schedule_end_date"`
	DaysRun           string       `gorm:"column:days_run"` // 7 chars, Mon..Sun, '0'/'1'

	ATOCCode            string
	UICCode             string
	Category            string
	SignallingID        string `gorm:"column:signalling_id"` // BS cols 32-35
	Headcode            string `gorm:"column:headcode"`      // BS cols 36-39, CIF "headcode" field
	ServiceCode         string
	PowerType           string
	TimingLoad          string
	Speed               string
	OperatingChars      string
	TrainClass          string
	Sleepers            string
	Reservations        string
	ConnectionInd       string
	Catering            string
	Branding            string
	ApplicableTimetable string

	DeducedHeadcode       string                `gorm:"column:deduced_headcode"`
	DeducedHeadcodeStatus DeducedHeadcodeStatus `gorm:"column:deduced_headcode_status"`

	// UpdateID links to the UpdateBatch that introduced this row. Zero means
	// VSTP origin (spec.md §3).
	UpdateID uint64 `gorm:"column:update_id;index"`

	CreatedAt time.Time
	DeletedAt *time.Time `gorm:"index"` // nil == live
}

func (Schedule) TableName() string { return "schedule" }

// IsLive reports whether the schedule has not been soft-deleted.
func (s Schedule) IsLive() bool { return s.DeletedAt == nil }

// IsVSTPOrigin reports whether this schedule was created by the VSTP
// ingester rather than the CIF loader (spec.md §3: "update_id == 0 denotes
// VSTP origin").
func (s Schedule) IsVSTPOrigin() bool { return s.UpdateID == 0 }

// ScheduleLocationKind is the CIF record identity of a stop.
type ScheduleLocationKind string

const (
	LocationOrigin       ScheduleLocationKind = "LO"
	LocationIntermediate ScheduleLocationKind = "LI"
	LocationTerminus     ScheduleLocationKind = "LT"
)

// ScheduleLocation is an ordered stop on a Schedule (spec.md §3).
type ScheduleLocation struct {
	ID         uint64 `gorm:"primaryKey"`
	ScheduleID uint64 `gorm:"index"`
	Sequence   int    // order within the schedule
	Kind       ScheduleLocationKind

	TiplocCode     string `gorm:"index"`
	TiplocInstance string

	Activities string // 12 chars, two-char activity codes

	ArrivalRaw   string // working arrival, "hhmm[H]"
	DepartureRaw string // working departure, "hhmm[H]"
	PassRaw      string // working pass, "hhmm[H]"

	PublicArrival   string // "hhmm", "0000" = suppressed
	PublicDeparture string

	SortTime int  // quarter-minutes since midnight, from first non-blank of arr/dep/pass
	NextDay  bool // true when this stop's sort_time wraps past the origin's

	// Per-field sort times, -1 when the corresponding Raw field is blank.
	// The deduced-activation matcher (spec.md §4.E) needs arrival and
	// departure tested separately against a movement's event type, rather
	// than the single first-non-blank SortTime above.
	ArrivalSortTime   int `gorm:"column:arrival_sort_time"`
	DepartureSortTime int `gorm:"column:departure_sort_time"`
	PassSortTime      int `gorm:"column:pass_sort_time"`

	Platform string
	Line     string
	Path     string

	EngineeringAllowance string
	PathingAllowance     string
	PerformanceAllowance string
}

func (ScheduleLocation) TableName() string { return "schedule_location" }

// ChangeEnRoute is a mid-journey service-attribute change (CR card).
type ChangeEnRoute struct {
	ID         uint64 `gorm:"primaryKey"`
	ScheduleID uint64 `gorm:"index"`
	Sequence   int
	TiplocCode string

	Category       string
	SignallingID   string
	ServiceCode    string
	PowerType      string
	TimingLoad     string
	Speed          string
	OperatingChars string
	TrainClass     string
	Sleepers       string
	Reservations   string
	ConnectionInd  string
	Catering       string
	Branding       string
	UICCode        string
	ATOCCode       string
}

func (ChangeEnRoute) TableName() string { return "change_en_route" }

// Association links two schedules at a TIPLOC (spec.md §3).
type Association struct {
	ID       uint64 `gorm:"primaryKey"`
	MainUID  string `gorm:"column:main_uid;index:idx_assoc_key"`
	AssocUID string `gorm:"column:assoc_uid;index:idx_assoc_key"`

	AssocStartDate time.Time `gorm:"index:idx_assoc_key"`
	AssocEndDate   time.Time
	DaysRun        string
	Location       string `gorm:"index:idx_assoc_key"`
	Category       string // join / divide / next

	STPIndicator STPIndicator `gorm:"index:idx_assoc_key"`
	UpdateID     uint64       `gorm:"index"`

	CreatedAt time.Time
	DeletedAt *time.Time `gorm:"index"`
}

func (Association) TableName() string { return "association" }
