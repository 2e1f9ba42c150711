package store

import "time"

// EventKind is the planned/actual event a TRUST movement reports.
type EventKind int

const (
	EventDeparture          EventKind = 1
	EventArrival            EventKind = 2
	EventArrivalDestination EventKind = 3
)

// MovementSource distinguishes automatic berth-step reports from manual
// signaller input.
type MovementSource int

const (
	SourceAuto   MovementSource = 0
	SourceManual MovementSource = 1
)

// VariationBucket is the lateness classification spec.md §4.E bit-packs.
type VariationBucket int

const (
	VariationEarly    VariationBucket = 0
	VariationOnTime   VariationBucket = 1
	VariationLate     VariationBucket = 2
	VariationOffRoute VariationBucket = 3
)

// MovementFlags is the structured equivalent of the source's bit-packed
// flags word (spec.md §4.E, §9 Open Question: "Implementers may model it as
// a structured type and translate at the store boundary"). Encode/Decode
// give the bit-for-bit persisted value so downstream SQL/reporting built
// against the original column layout still works.
type MovementFlags struct {
	Event      EventKind
	Source     MovementSource
	Variation  VariationBucket
	OffRoute   bool
	Terminated bool
	Correction bool
}

// Encode packs the flags into the single-word representation spec.md §4.E
// defines:
//
//	bits 0-1: event kind (1=dep, 2=arr, 3=arr-at-destination)
//	bit  2:   source (0 auto, 1 manual)
//	bits 3-4: variation bucket
//	bit  5:   off-route
//	bit  6:   terminated
//	bit  7:   correction
func (f MovementFlags) Encode() uint8 {
	var v uint8
	v |= uint8(f.Event) & 0x3
	if f.Source == SourceManual {
		v |= 1 << 2
	}
	v |= uint8(f.Variation&0x3) << 3
	if f.OffRoute {
		v |= 1 << 5
	}
	if f.Terminated {
		v |= 1 << 6
	}
	if f.Correction {
		v |= 1 << 7
	}
	return v
}

// DecodeMovementFlags unpacks a stored flags byte.
func DecodeMovementFlags(v uint8) MovementFlags {
	return MovementFlags{
		Event:      EventKind(v & 0x3),
		Source:     MovementSource((v >> 2) & 0x1),
		Variation:  VariationBucket((v >> 3) & 0x3),
		OffRoute:   v&(1<<5) != 0,
		Terminated: v&(1<<6) != 0,
		Correction: v&(1<<7) != 0,
	}
}

// Activation binds a TRUST train-id to a schedule at an instant (spec.md
// §3). Activation.Deduced is true when synthesised by the movement matcher
// rather than signalled by a 0001 message.
type Activation struct {
	ID         uint64 `gorm:"primaryKey"`
	TrainID    string `gorm:"column:train_id;index"` // 10-char TRUST train-id
	ScheduleID uint64 `gorm:"index"`                 // 0 when no schedule could be matched
	Deduced    bool
	Cancelled  bool // bound to a schedule whose STP indicator was 'C'
	CreatedAt  time.Time
}

func (Activation) TableName() string { return "activation" }

// ActivationExtra is the sidecar row for lower-traffic activation fields.
type ActivationExtra struct {
	ActivationID uint64 `gorm:"primaryKey"`
	OriginStanox string
	TSC          string
	WTTIDCode    string
}

func (ActivationExtra) TableName() string { return "activation_extra" }

// Movement is a single arrival/departure/destination-arrival report.
type Movement struct {
	ID                uint64 `gorm:"primaryKey"`
	TrainID           string `gorm:"column:train_id;index"`
	ActivationID      uint64 `gorm:"index"`
	Flags             uint8  // see MovementFlags.Encode
	PlannedTimestamp  time.Time
	ActualTimestamp   time.Time
	VariationMinutes  int
	Platform          string
	Stanox            string
	NextReportStanox  string
	NextReportRunTime int // minutes
	CreatedAt         time.Time
}

func (Movement) TableName() string { return "movement" }

// Cancellation covers msg_type 0002 (cancel) and 0005 (reinstate, with
// Reinstate=true) per spec.md §4.E.
type Cancellation struct {
	ID        uint64 `gorm:"primaryKey"`
	TrainID   string `gorm:"column:train_id;index"`
	Reinstate bool
	Reason    string
	Stanox    string
	CreatedAt time.Time
}

func (Cancellation) TableName() string { return "cancellation" }

// ChangeOfOrigin is msg_type 0006.
type ChangeOfOrigin struct {
	ID                    uint64 `gorm:"primaryKey"`
	TrainID               string `gorm:"column:train_id;index"`
	NewOrigin             string
	NewDepartureTimestamp time.Time
	Reason                string
	CreatedAt             time.Time
}

func (ChangeOfOrigin) TableName() string { return "change_of_origin" }

// ChangeOfID is msg_type 0007 — the train-id itself changes mid-journey.
type ChangeOfID struct {
	ID         uint64 `gorm:"primaryKey"`
	OldTrainID string `gorm:"column:old_train_id;index"`
	NewTrainID string `gorm:"column:new_train_id;index"`
	CreatedAt  time.Time
}

func (ChangeOfID) TableName() string { return "change_of_id" }

// ChangeOfLocation is msg_type 0008.
type ChangeOfLocation struct {
	ID        uint64 `gorm:"primaryKey"`
	TrainID   string `gorm:"column:train_id;index"`
	NewStanox string
	CreatedAt time.Time
}

func (ChangeOfLocation) TableName() string { return "change_of_location" }

// Status is the single-row table of last-processed timestamps per stream
// (spec.md §3).
type Status struct {
	ID             uint8 `gorm:"primaryKey"` // always 1
	TrustProcessed time.Time
	TrustWallClock time.Time
	VSTPProcessed  time.Time
	TDProcessed    time.Time
}

func (Status) TableName() string { return "status" }
