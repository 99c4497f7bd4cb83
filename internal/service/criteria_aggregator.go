package service

import "github.com/noah-isme/clinic-outcomes-api/internal/models"

// CriteriaAggregation is the folded result of a criteria report run.
type CriteriaAggregation struct {
	// Sites holds per-site tallies in site directory order.
	Sites []SiteCriteria
	// Totals holds the cross-site tally per criterion.
	Totals [models.CriterionCount]models.CriterionTally
	// Unassigned counts patients whose site name matched no directory entry.
	Unassigned int
}

// SiteCriteria holds every criterion tally for one site.
type SiteCriteria struct {
	SiteName     string
	PatientCount int
	Tallies      [models.CriterionCount]models.CriterionTally
}

// AggregateCriteria folds resolved patient values into per-site and global tallies.
// resolutions[i] belongs to patients[i]. Every site appears in the output, including
// sites without patients. Patients are joined to sites by name; duplicated site names
// credit the first directory entry.
func AggregateCriteria(sites []models.Site, patients []models.Patient, resolutions []Resolution) CriteriaAggregation {
	out := CriteriaAggregation{Sites: make([]SiteCriteria, len(sites))}
	index := make(map[string]int, len(sites))
	for i, site := range sites {
		out.Sites[i] = SiteCriteria{SiteName: site.Name}
		if _, seen := index[site.Name]; !seen {
			index[site.Name] = i
		}
	}

	for i, patient := range patients {
		if i >= len(resolutions) {
			break
		}
		pos, ok := index[patient.SiteName]
		if !ok {
			out.Unassigned++
			continue
		}
		out.Sites[pos] = recordPatient(out.Sites[pos], resolutions[i].Values)
	}

	out.Totals = sumSites(out.Sites)
	return out
}

func recordPatient(acc SiteCriteria, values models.CriteriaValues) SiteCriteria {
	acc.PatientCount++
	for _, c := range models.AllCriteria {
		acc.Tallies[c] = acc.Tallies[c].Record(values[c])
	}
	return acc
}

func sumSites(sites []SiteCriteria) [models.CriterionCount]models.CriterionTally {
	var totals [models.CriterionCount]models.CriterionTally
	for _, site := range sites {
		for _, c := range models.AllCriteria {
			totals[c] = totals[c].Add(site.Tallies[c])
		}
	}
	return totals
}

// Reports reshapes the aggregation into one CriteriaReport per criterion, in fixed order.
func (a CriteriaAggregation) Reports() []models.CriteriaReport {
	reports := make([]models.CriteriaReport, 0, models.CriterionCount)
	for _, c := range models.AllCriteria {
		perSite := make([]models.SiteTally, len(a.Sites))
		for i, site := range a.Sites {
			perSite[i] = models.SiteTally{SiteName: site.SiteName, CriterionTally: site.Tallies[c]}
		}
		reports = append(reports, models.CriteriaReport{
			CriterionName: c.Key(),
			Label:         c.Label(),
			PerSite:       perSite,
			Total:         models.SiteTally{SiteName: models.TotalRowName, CriterionTally: a.Totals[c]},
		})
	}
	return reports
}

// SiteReport returns the single-site breakdown for the named site.
func (a CriteriaAggregation) SiteReport(siteName string) (models.SiteReportData, bool) {
	for _, site := range a.Sites {
		if site.SiteName != siteName {
			continue
		}
		data := models.SiteReportData{SiteName: site.SiteName, PatientCount: site.PatientCount}
		for _, c := range models.AllCriteria {
			data.SetTally(c, site.Tallies[c])
		}
		return data, true
	}
	return models.SiteReportData{}, false
}

// FilterSite keeps only the named site and recomputes totals from it.
func (a CriteriaAggregation) FilterSite(siteName string) CriteriaAggregation {
	filtered := CriteriaAggregation{Unassigned: a.Unassigned}
	for _, site := range a.Sites {
		if site.SiteName == siteName {
			filtered.Sites = append(filtered.Sites, site)
		}
	}
	filtered.Totals = sumSites(filtered.Sites)
	return filtered
}
