// Package cif parses the fixed-width 80-column CIF card format (spec.md
// §6) and applies it to the store under STP overlay rules (spec.md §4.C).
// Column offsets below are 1-indexed-inclusive as spec.md states them
// ("train_uid at 3..8"); Go slices are the equivalent 0-indexed half-open
// range. Fields spec.md does not pin down exactly (TIPLOC instance,
// activities, allowances on LO/LI/LT) follow the same column convention,
// immediately after the fields spec.md does specify.
package cif

import (
	"fmt"
	"strings"

	"github.com/nrod/ingest/internal/railtime"
)

// RecordIdentity is the two-character code in columns 1-2 of every card.
type RecordIdentity string

const (
	RecordHeader        RecordIdentity = "HD"
	RecordBasicSchedule RecordIdentity = "BS"
	RecordBasicExtra    RecordIdentity = "BX"
	RecordOrigin        RecordIdentity = "LO"
	RecordIntermediate  RecordIdentity = "LI"
	RecordTerminus      RecordIdentity = "LT"
	RecordChangeEnRoute RecordIdentity = "CR"
	RecordAssociation   RecordIdentity = "AA"
	RecordTiplocInsert  RecordIdentity = "TI"
	RecordTiplocAmend   RecordIdentity = "TA"
	RecordTiplocDelete  RecordIdentity = "TD"
	RecordTrailer       RecordIdentity = "ZZ"
)

// TransactionType is the N/R/D char carried by BS and AA cards.
type TransactionType byte

const (
	TxNew    TransactionType = 'N'
	TxRevise TransactionType = 'R'
	TxDelete TransactionType = 'D'
)

func identity(card string) RecordIdentity {
	if len(card) < 2 {
		return ""
	}
	return RecordIdentity(card[0:2])
}

// Identity returns a card's two-character record identity (columns 1-2),
// exported for callers outside this package that need to group raw lines
// without fully parsing them (the reconciler's card-group walk).
func Identity(card string) RecordIdentity { return identity(card) }

func field(card string, from, to int) string {
	// from, to are 1-indexed inclusive columns.
	if from < 1 || to > len(card) || from > to {
		return ""
	}
	return card[from-1 : to]
}

func trim(s string) string { return strings.TrimRight(strings.TrimLeft(s, " "), " ") }

// Header is a parsed HD card: spec.md §4.C/§6.
type Header struct {
	ExtractTimestampRaw string // "ddmmyyhhmi", cols 22..31
	UpdateIndicator     byte   // 'F' full, 'U' update
}

func ParseHeader(card string) (Header, error) {
	if identity(card) != RecordHeader {
		return Header{}, fmt.Errorf("cif: not an HD card: %q", card)
	}
	if len(card) < 31 {
		return Header{}, fmt.Errorf("cif: HD card too short: %d cols", len(card))
	}
	ind := field(card, 32, 32)
	if ind == "" {
		return Header{}, fmt.Errorf("cif: HD card missing update indicator")
	}
	return Header{
		ExtractTimestampRaw: field(card, 22, 31),
		UpdateIndicator:     ind[0],
	}, nil
}

// BasicSchedule is a parsed BS card.
type BasicSchedule struct {
	Transaction       TransactionType
	TrainUID          string
	StartDateRaw      string
	EndDateRaw        string
	DaysRun           string // 7 chars of '0'/'1', Mon..Sun
	BankHoliday       string
	Status            string
	Category          string
	SignallingID      string
	Headcode          string
	ServiceCode       string
	PowerType         string
	TimingLoad        string
	Speed             string
	OpCharacteristics string
	TrainClass        string
	Sleepers          string
	Reservations      string
	ConnectionInd     string
	Catering          string
	Branding          string
	STPIndicator      string
}

func ParseBasicSchedule(card string) (BasicSchedule, error) {
	if identity(card) != RecordBasicSchedule {
		return BasicSchedule{}, fmt.Errorf("cif: not a BS card: %q", card)
	}
	if len(card) < 79 {
		return BasicSchedule{}, fmt.Errorf("cif: BS card too short: %d cols", len(card))
	}
	return BasicSchedule{
		Transaction:       TransactionType(card[1]),
		TrainUID:          trim(field(card, 3, 8)),
		StartDateRaw:      field(card, 9, 14),
		EndDateRaw:        field(card, 15, 20),
		DaysRun:           field(card, 21, 27),
		BankHoliday:       field(card, 28, 28),
		Status:            field(card, 29, 29),
		Category:          trim(field(card, 30, 31)),
		SignallingID:      trim(field(card, 32, 35)),
		Headcode:          trim(field(card, 36, 39)),
		ServiceCode:       trim(field(card, 41, 48)),
		PowerType:         trim(field(card, 50, 52)),
		TimingLoad:        trim(field(card, 53, 56)),
		Speed:             trim(field(card, 57, 59)),
		OpCharacteristics: trim(field(card, 60, 65)),
		TrainClass:        field(card, 66, 66),
		Sleepers:          field(card, 67, 67),
		Reservations:      field(card, 68, 68),
		ConnectionInd:     field(card, 69, 69),
		Catering:          trim(field(card, 70, 73)),
		Branding:          trim(field(card, 74, 77)),
		STPIndicator:      field(card, 79, 79),
	}, nil
}

// BasicExtra is a parsed BX card: ATOC, UIC, applicable timetable flag.
type BasicExtra struct {
	ATOCCode            string
	UICCode             string
	ApplicableTimetable string
}

func ParseBasicExtra(card string) (BasicExtra, error) {
	if identity(card) != RecordBasicExtra {
		return BasicExtra{}, fmt.Errorf("cif: not a BX card: %q", card)
	}
	return BasicExtra{
		ATOCCode:            trim(field(card, 12, 13)),
		UICCode:             trim(field(card, 15, 20)),
		ApplicableTimetable: field(card, 28, 28),
	}, nil
}

// Location is a parsed LO/LI/LT card.
type Location struct {
	Kind                 RecordIdentity
	TiplocCode           string
	TiplocInstance       string
	ArrivalRaw           string
	DepartureRaw         string
	PassRaw              string
	PublicArrival        string
	PublicDeparture      string
	Platform             string
	Line                 string
	Path                 string
	Activities           string
	EngineeringAllowance string
	PathingAllowance     string
	PerformanceAllowance string
}

func ParseLocation(card string) (Location, error) {
	kind := identity(card)
	if kind != RecordOrigin && kind != RecordIntermediate && kind != RecordTerminus {
		return Location{}, fmt.Errorf("cif: not a location card: %q", card)
	}
	if len(card) < 24 {
		return Location{}, fmt.Errorf("cif: location card too short: %d cols", len(card))
	}
	loc := Location{
		Kind:         kind,
		TiplocCode:   trim(field(card, 3, 9)),
		ArrivalRaw:   field(card, 10, 14),
		DepartureRaw: field(card, 15, 19),
		PassRaw:      field(card, 20, 24),
	}
	loc.TiplocInstance = trim(field(card, 25, 25))
	loc.PublicArrival = field(card, 26, 29)
	loc.PublicDeparture = field(card, 30, 33)
	loc.Platform = trim(field(card, 34, 36))
	loc.Line = trim(field(card, 37, 39))
	loc.Path = trim(field(card, 40, 42))
	loc.Activities = field(card, 43, 54)
	loc.EngineeringAllowance = trim(field(card, 55, 56))
	loc.PathingAllowance = trim(field(card, 57, 58))
	loc.PerformanceAllowance = trim(field(card, 59, 60))
	return loc, nil
}

// ChangeEnRoute is a parsed CR card: mid-journey attribute change at a
// TIPLOC. Only the fields the store needs are carried.
type ChangeEnRoute struct {
	TiplocCode   string
	Category     string
	SignallingID string
	ServiceCode  string
	PowerType    string
	TimingLoad   string
}

func ParseChangeEnRoute(card string) (ChangeEnRoute, error) {
	if identity(card) != RecordChangeEnRoute {
		return ChangeEnRoute{}, fmt.Errorf("cif: not a CR card: %q", card)
	}
	return ChangeEnRoute{
		TiplocCode:   trim(field(card, 3, 9)),
		Category:     trim(field(card, 10, 11)),
		SignallingID: trim(field(card, 12, 15)),
		ServiceCode:  trim(field(card, 17, 24)),
		PowerType:    trim(field(card, 26, 28)),
		TimingLoad:   trim(field(card, 29, 32)),
	}, nil
}

// AssociationCard is a parsed AA card.
type AssociationCard struct {
	Transaction   TransactionType
	MainUID       string
	AssocUID      string
	AssocStartRaw string
	AssocEndRaw   string
	DaysRun       string
	Category      string
	Location      string
	STPIndicator  string
}

func ParseAssociation(card string) (AssociationCard, error) {
	if identity(card) != RecordAssociation {
		return AssociationCard{}, fmt.Errorf("cif: not an AA card: %q", card)
	}
	return AssociationCard{
		Transaction:   TransactionType(card[1]),
		MainUID:       trim(field(card, 3, 8)),
		AssocUID:      trim(field(card, 9, 14)),
		AssocStartRaw: field(card, 15, 20),
		AssocEndRaw:   field(card, 21, 26),
		DaysRun:       field(card, 27, 33),
		Category:      trim(field(card, 34, 35)),
		Location:      trim(field(card, 37, 43)),
		STPIndicator:  field(card, 79, 79),
	}, nil
}

// TiplocCard is a parsed TI/TA/TD card.
type TiplocCard struct {
	Kind        RecordIdentity
	Code        string
	Nalco       string
	Description string
	Stanox      string
	CRS         string
	NewCode     string // TA rename target, cols 72..78
}

func ParseTiploc(card string) (TiplocCard, error) {
	kind := identity(card)
	if kind != RecordTiplocInsert && kind != RecordTiplocAmend && kind != RecordTiplocDelete {
		return TiplocCard{}, fmt.Errorf("cif: not a TIPLOC card: %q", card)
	}
	t := TiplocCard{
		Kind:        kind,
		Code:        trim(field(card, 3, 9)),
		Nalco:       trim(field(card, 12, 17)),
		Description: trim(field(card, 19, 44)),
		Stanox:      trim(field(card, 45, 49)),
		CRS:         trim(field(card, 54, 56)),
	}
	if kind == RecordTiplocAmend {
		t.NewCode = trim(field(card, 72, 78))
	}
	return t, nil
}

// SortTime computes the quarter-minute sort key for a location card from the
// first non-blank of arrival, departure, pass (spec.md §4.C).
func (l Location) SortTime() (int, error) {
	for _, raw := range []string{l.ArrivalRaw, l.DepartureRaw, l.PassRaw} {
		t, err := railtime.ParseCIFTime(raw)
		if err != nil {
			return 0, err
		}
		if t.Valid {
			return t.SortTime(), nil
		}
	}
	return -1, nil
}

// FieldSortTimes computes the quarter-minute sort key for each of arrival,
// departure and pass independently (-1 when that field is blank), so the
// deduced-activation matcher (spec.md §4.E) can test a movement's event type
// against the right working time rather than the single first-non-blank
// SortTime above.
func (l Location) FieldSortTimes() (arrival, departure, pass int, err error) {
	at, err := railtime.ParseCIFTime(l.ArrivalRaw)
	if err != nil {
		return 0, 0, 0, err
	}
	dt, err := railtime.ParseCIFTime(l.DepartureRaw)
	if err != nil {
		return 0, 0, 0, err
	}
	pt, err := railtime.ParseCIFTime(l.PassRaw)
	if err != nil {
		return 0, 0, 0, err
	}
	return at.SortTime(), dt.SortTime(), pt.SortTime(), nil
}
