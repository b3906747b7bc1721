package partition

import (
	"fmt"
	"time"

	"github.com/mezeipetister/towl/internal/logfile"
)

// Rotation names a calendar based rollover period.
type Rotation string

const (
	RotationNone   Rotation = ""
	RotationDaily  Rotation = "daily"
	RotationWeekly Rotation = "weekly"
)

// Policy decides when the active file is sealed. Exactly one of MaxEntries
// and Rotation is set.
type Policy struct {
	MaxEntries uint64   `json:"max_entries_per_file,omitempty" yaml:"maxEntries,omitempty"`
	Rotation   Rotation `json:"rotation,omitempty" yaml:"rotation,omitempty"`
}

// DefaultPolicy rolls daily.
func DefaultPolicy() Policy { return Policy{Rotation: RotationDaily} }

// Validate reports ErrConfig for an empty, ambiguous or unknown policy.
func (p Policy) Validate() error {
	switch {
	case p.MaxEntries > 0 && p.Rotation != RotationNone:
		return fmt.Errorf("%w: set either max entries or rotation, not both", logfile.ErrConfig)
	case p.MaxEntries == 0 && p.Rotation == RotationNone:
		return fmt.Errorf("%w: policy needs max entries or rotation", logfile.ErrConfig)
	}
	switch p.Rotation {
	case RotationNone, RotationDaily, RotationWeekly:
		return nil
	default:
		return fmt.Errorf("%w: unknown rotation %q", logfile.ErrConfig, p.Rotation)
	}
}

func (p Policy) String() string {
	if p.MaxEntries > 0 {
		return fmt.Sprintf("max %d entries per file", p.MaxEntries)
	}
	return string(p.Rotation) + " rotation"
}

// ShouldRoll applies the policy to a file holding count entries that was
// opened at opened. Calendar comparisons are done in UTC.
func (p Policy) ShouldRoll(count uint64, opened, now time.Time) bool {
	if p.MaxEntries > 0 {
		return count >= p.MaxEntries
	}
	return p.periodCrossed(opened, now)
}

func (p Policy) periodCrossed(opened, now time.Time) bool {
	if opened.IsZero() {
		return false
	}
	o, n := opened.UTC(), now.UTC()
	switch p.Rotation {
	case RotationDaily:
		oy, om, od := o.Date()
		ny, nm, nd := n.Date()
		return oy != ny || om != nm || od != nd
	case RotationWeekly:
		oy, ow := o.ISOWeek()
		ny, nw := n.ISOWeek()
		return oy != ny || ow != nw
	}
	return false
}

// NextBoundary returns the instant at which a file opened at opened crosses
// its rotation period, or the zero time for count based policies.
func (p Policy) NextBoundary(opened time.Time) time.Time {
	o := opened.UTC()
	day := time.Date(o.Year(), o.Month(), o.Day(), 0, 0, 0, 0, time.UTC)
	switch p.Rotation {
	case RotationDaily:
		return day.AddDate(0, 0, 1)
	case RotationWeekly:
		// ISO weeks start on Monday.
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, 7-offset)
	}
	return time.Time{}
}
