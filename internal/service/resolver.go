package service

import (
	"time"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

// ResolutionSource records where a patient's resolved criteria came from.
type ResolutionSource string

const (
	// ResolutionSnapshot means an in-period status snapshot supplied every value.
	ResolutionSnapshot ResolutionSource = "snapshot"
	// ResolutionCurrent means no snapshot fell in the period and current flags were used.
	ResolutionCurrent ResolutionSource = "current"
	// ResolutionFellBack means the snapshot fetch failed and current flags were used.
	ResolutionFellBack ResolutionSource = "fetch_error"
)

// Resolution is the resolved criteria for one patient and one period.
type Resolution struct {
	Values     models.CriteriaValues
	Source     ResolutionSource
	SnapshotID string
	// Skipped counts snapshots excluded because their timestamp could not be parsed.
	Skipped int
}

// ResolveCriteria selects the values that apply to a patient for p.
//
// Among snapshots created inside the period, the most recently created one supplies all
// criteria at once. Equal timestamps resolve to the later position in store order, which
// is creation order. With no in-period snapshot the patient's current flags apply.
func ResolveCriteria(snapshots []models.StatusSnapshot, current models.CriteriaFlags, p period.Period, loc *time.Location) Resolution {
	var (
		chosen    *models.StatusSnapshot
		chosenAt  time.Time
		malformed int
	)
	for i := range snapshots {
		createdAt, err := period.ParseTimestamp(snapshots[i].CreatedAt, loc)
		if err != nil {
			malformed++
			continue
		}
		if !p.Contains(createdAt, loc) {
			continue
		}
		if chosen == nil || !createdAt.Before(chosenAt) {
			chosen = &snapshots[i]
			chosenAt = createdAt
		}
	}

	if chosen == nil {
		return Resolution{Values: current.Values(), Source: ResolutionCurrent, Skipped: malformed}
	}
	return Resolution{
		Values:     chosen.CriteriaFlags.Values(),
		Source:     ResolutionSnapshot,
		SnapshotID: chosen.ID,
		Skipped:    malformed,
	}
}

// ResolveWithError is the resolution used when a patient's snapshots could not be fetched.
func ResolveWithError(current models.CriteriaFlags) Resolution {
	return Resolution{Values: current.Values(), Source: ResolutionFellBack}
}
