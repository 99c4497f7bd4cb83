package service

import (
	"time"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

// ActivityFilter scopes duration aggregation. Range, when set, supersedes Period.
type ActivityFilter struct {
	Period   *period.Period
	Range    *period.DateRange
	SiteName string
	Building string
	Location *time.Location
}

// Matches reports whether an activity passes the filter. Activities with unparseable
// service timestamps never match a date-scoped filter.
func (f ActivityFilter) Matches(a models.Activity) bool {
	if f.SiteName != "" && a.SiteName != f.SiteName {
		return false
	}
	if f.Building != "" && a.Building != f.Building {
		return false
	}
	if f.Range == nil && f.Period == nil {
		return true
	}
	at, err := period.ParseTimestamp(a.ServiceDatetime, f.Location)
	if err != nil {
		return false
	}
	if f.Range != nil {
		return f.Range.Contains(at)
	}
	start, end := f.Period.Bounds(f.Location)
	return !at.Before(start) && !at.After(end)
}

// SummarizeActivities totals the activities that pass the filter.
func SummarizeActivities(activities []models.Activity, filter ActivityFilter) models.DurationSummary {
	var summary models.DurationSummary
	for _, a := range activities {
		if !filter.Matches(a) {
			continue
		}
		summary.TotalMinutes += a.DurationMinutes
		summary.ActivityCount++
	}
	summary.TotalHours = summary.TotalMinutes / 60
	return summary
}

// CountMalformedActivities counts activities whose service timestamp cannot be parsed.
func CountMalformedActivities(activities []models.Activity, loc *time.Location) int {
	n := 0
	for _, a := range activities {
		if _, err := period.ParseTimestamp(a.ServiceDatetime, loc); err != nil {
			n++
		}
	}
	return n
}

// BuildPatientActivity produces one rollup per patient in patient order. A patient
// with no entry in activitiesByPatient contributes a zero rollup. When filter.SiteName is
// set, patients assigned to other sites are left out.
func BuildPatientActivity(patients []models.Patient, activitiesByPatient map[string][]models.Activity, filter ActivityFilter) []models.PatientActivityData {
	rows := make([]models.PatientActivityData, 0, len(patients))
	for _, p := range patients {
		if filter.SiteName != "" && p.SiteName != filter.SiteName {
			continue
		}
		rows = append(rows, patientRow(p, SummarizeActivities(activitiesByPatient[p.ID], filter)))
	}
	return rows
}

func patientRow(p models.Patient, s models.DurationSummary) models.PatientActivityData {
	return models.PatientActivityData{
		PatientID:     p.ID,
		PatientName:   p.FullName(),
		SiteName:      p.SiteName,
		TotalMinutes:  s.TotalMinutes,
		TotalHours:    s.TotalHours,
		ActivityCount: s.ActivityCount,
		Duration:      period.FormatDuration(s.TotalMinutes),
	}
}

// GroupActivitiesBySite nests patient rollups under their site. Each group is summed
// independently and the grand total is the sum of group totals. Sites keep directory
// order; patients whose site is not in the directory are grouped after them in first-seen
// order. When filter.SiteName is set only that group is returned.
func GroupActivitiesBySite(sites []models.Site, patients []models.Patient, activitiesByPatient map[string][]models.Activity, filter ActivityFilter) models.SiteActivityReport {
	groups := make([]models.SitePatientData, 0, len(sites))
	index := make(map[string]int, len(sites))
	addGroup := func(name string) int {
		if pos, ok := index[name]; ok {
			return pos
		}
		groups = append(groups, models.SitePatientData{SiteName: name, Patients: []models.PatientActivityData{}})
		index[name] = len(groups) - 1
		return len(groups) - 1
	}
	for _, site := range sites {
		if filter.SiteName != "" && site.Name != filter.SiteName {
			continue
		}
		addGroup(site.Name)
	}

	for _, p := range patients {
		if filter.SiteName != "" && p.SiteName != filter.SiteName {
			continue
		}
		pos := addGroup(p.SiteName)
		row := patientRow(p, SummarizeActivities(activitiesByPatient[p.ID], filter))
		group := groups[pos]
		group.Patients = append(group.Patients, row)
		group.TotalSiteMinutes += row.TotalMinutes
		group.TotalSiteActivities += row.ActivityCount
		group.TotalSiteHours = group.TotalSiteMinutes / 60
		groups[pos] = group
	}

	var grand models.DurationSummary
	for _, g := range groups {
		grand = grand.Add(g.Summary())
	}
	return models.SiteActivityReport{Sites: groups, GrandTotal: grand}
}
