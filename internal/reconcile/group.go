package reconcile

import (
	"bufio"
	"fmt"
	"io"

	"github.com/nrod/ingest/internal/cif"
)

// Group is one BS card and everything up to (but not including) the next
// BS card: the BX, the LO/LI/LT locations in order, and the CR change-
// en-route cards (spec.md §4.F step 2).
type Group struct {
	BS        cif.BasicSchedule
	HasBX     bool
	BX        cif.BasicExtra
	Locations []cif.Location
	Changes   []cif.ChangeEnRoute

	// RawLines preserves every card in the group, in file order, so a
	// mismatch can be re-emitted verbatim as a "demote to revise" sequence
	// (spec.md §4.F step 6) without having to re-render fields from the
	// parsed structs.
	RawLines []string
}

// walkGroups scans r card-by-card and invokes fn once per completed group.
// Non-schedule cards (HD, TI/TA/TD, ZZ) are skipped: the reconciler only
// concerns itself with schedules (spec.md §4.F is scoped to schedule
// reconciliation; TIPLOC/association reconciliation is out of scope).
func walkGroups(r io.Reader, fn func(Group) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 4096), 4096)

	var current *Group
	flush := func() error {
		if current == nil {
			return nil
		}
		g := *current
		current = nil
		return fn(g)
	}

	for scanner.Scan() {
		line := scanner.Text()
		switch cif.Identity(line) {
		case cif.RecordBasicSchedule:
			if err := flush(); err != nil {
				return err
			}
			bs, err := cif.ParseBasicSchedule(line)
			if err != nil {
				return err
			}
			current = &Group{BS: bs, RawLines: []string{line}}
		case cif.RecordBasicExtra:
			if current == nil {
				continue
			}
			bx, err := cif.ParseBasicExtra(line)
			if err != nil {
				return err
			}
			current.HasBX = true
			current.BX = bx
			current.RawLines = append(current.RawLines, line)
		case cif.RecordOrigin, cif.RecordIntermediate, cif.RecordTerminus:
			if current == nil {
				continue
			}
			loc, err := cif.ParseLocation(line)
			if err != nil {
				return err
			}
			current.Locations = append(current.Locations, loc)
			current.RawLines = append(current.RawLines, line)
		case cif.RecordChangeEnRoute:
			if current == nil {
				continue
			}
			cr, err := cif.ParseChangeEnRoute(line)
			if err != nil {
				return err
			}
			current.Changes = append(current.Changes, cr)
			current.RawLines = append(current.RawLines, line)
		default:
			// HD, TI/TA/TD, AA, ZZ: not this walker's concern.
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reconcile: scan: %w", err)
	}
	return flush()
}
