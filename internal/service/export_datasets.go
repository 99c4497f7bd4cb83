package service

import (
	"fmt"
	"strconv"

	"github.com/noah-isme/clinic-outcomes-api/internal/dto"
	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	"github.com/noah-isme/clinic-outcomes-api/pkg/export"
	"github.com/noah-isme/clinic-outcomes-api/pkg/period"
)

var tallyHeaders = []string{"Yes", "No", "Total", "Percentage"}

func tallyRow(row map[string]string, t models.CriterionTally) map[string]string {
	row["Yes"] = strconv.Itoa(t.Yes)
	row["No"] = strconv.Itoa(t.No)
	row["Total"] = strconv.Itoa(t.Total)
	row["Percentage"] = formatFloat(t.Percentage)
	return row
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(period.Round2(v), 'f', 2, 64)
}

func periodTitle(month, year int) string {
	if month == 0 || year == 0 {
		return ""
	}
	return period.Period{Month: month, Year: year}.String()
}

// CriteriaDataset flattens the all-sites breakdown into one row per criterion and site,
// followed by the criterion's total row.
func CriteriaDataset(resp *dto.CriteriaReportResponse) export.Dataset {
	headers := append([]string{"Criterion", "Site"}, tallyHeaders...)
	rows := make([]map[string]string, 0, len(resp.Criteria)*4)
	for _, c := range resp.Criteria {
		for _, site := range c.PerSite {
			rows = append(rows, tallyRow(map[string]string{"Criterion": c.Label, "Site": site.SiteName}, site.CriterionTally))
		}
		rows = append(rows, tallyRow(map[string]string{"Criterion": c.Label, "Site": c.Total.SiteName}, c.Total.CriterionTally))
	}
	title := "Outcomes " + periodTitle(resp.Month, resp.Year)
	if resp.SiteName != "" {
		title += " " + resp.SiteName
	}
	return export.Dataset{Title: title, Headers: headers, Rows: rows}
}

// SiteDataset renders the single-site breakdown, one row per criterion.
func SiteDataset(resp *dto.SiteReportResponse) export.Dataset {
	headers := append([]string{"Criterion"}, tallyHeaders...)
	rows := make([]map[string]string, 0, models.CriterionCount)
	for _, c := range models.AllCriteria {
		rows = append(rows, tallyRow(map[string]string{"Criterion": c.Label()}, resp.Tally(c)))
	}
	return export.Dataset{
		Title:   fmt.Sprintf("%s %s", resp.SiteName, periodTitle(resp.Month, resp.Year)),
		Headers: headers,
		Rows:    rows,
	}
}

var activityHeaders = []string{"Site", "Patient ID", "Patient", "Activities", "Minutes", "Hours", "Duration"}

func activityRow(site, id, name string, s models.DurationSummary) map[string]string {
	return map[string]string{
		"Site":       site,
		"Patient ID": id,
		"Patient":    name,
		"Activities": strconv.Itoa(s.ActivityCount),
		"Minutes":    formatFloat(s.TotalMinutes),
		"Hours":      formatFloat(s.TotalHours),
		"Duration":   period.FormatDuration(s.TotalMinutes),
	}
}

// ActivityDataset renders the activity rollup. Grouped reports add a subtotal row per site;
// both shapes end with the grand total.
func ActivityDataset(resp *dto.ActivityReportResponse) export.Dataset {
	rows := make([]map[string]string, 0, len(resp.Patients)+len(resp.Sites)+1)
	for _, p := range resp.Patients {
		rows = append(rows, activityRow(p.SiteName, p.PatientID, p.PatientName, models.DurationSummary{
			TotalMinutes: p.TotalMinutes, TotalHours: p.TotalHours, ActivityCount: p.ActivityCount,
		}))
	}
	for _, site := range resp.Sites {
		for _, p := range site.Patients {
			rows = append(rows, activityRow(site.SiteName, p.PatientID, p.PatientName, models.DurationSummary{
				TotalMinutes: p.TotalMinutes, TotalHours: p.TotalHours, ActivityCount: p.ActivityCount,
			}))
		}
		rows = append(rows, activityRow(site.SiteName, "", "Site total", site.Summary()))
	}
	rows = append(rows, activityRow(models.TotalRowName, "", "", resp.GrandTotal))

	scope := periodTitle(resp.Month, resp.Year)
	if resp.StartDate != "" {
		scope = resp.StartDate + " to " + resp.EndDate
	}
	return export.Dataset{Title: "Activity " + scope, Headers: activityHeaders, Rows: rows}
}
