package models

// CriterionTally summarises one criterion over a population.
type CriterionTally struct {
	Yes        int     `json:"yes"`
	No         int     `json:"no"`
	Total      int     `json:"total"`
	Percentage float64 `json:"percentage"`
}

// Record returns a new tally with one more observation folded in.
func (t CriterionTally) Record(value bool) CriterionTally {
	if value {
		t.Yes++
	} else {
		t.No++
	}
	t.Total = t.Yes + t.No
	t.Percentage = percentage(t.Yes, t.Total)
	return t
}

// Add returns the element-wise sum of both tallies with the percentage recomputed.
func (t CriterionTally) Add(other CriterionTally) CriterionTally {
	sum := CriterionTally{Yes: t.Yes + other.Yes, No: t.No + other.No}
	sum.Total = sum.Yes + sum.No
	sum.Percentage = percentage(sum.Yes, sum.Total)
	return sum
}

func percentage(yes, total int) float64 {
	if total == 0 {
		return 0
	}
	return 100 * float64(yes) / float64(total)
}

// SiteTally is a criterion tally attributed to a site. The global row uses SiteName "Total".
type SiteTally struct {
	SiteName string `json:"siteName"`
	CriterionTally
}

// TotalRowName labels the cross-site row.
const TotalRowName = "Total"

// CriteriaReport is the all-sites breakdown for one criterion.
type CriteriaReport struct {
	CriterionName string      `json:"criterionName"`
	Label         string      `json:"label"`
	PerSite       []SiteTally `json:"perSite"`
	Total         SiteTally   `json:"total"`
}

// SiteReportData is the single-site breakdown with one tally per criterion.
type SiteReportData struct {
	SiteName                     string         `json:"siteName"`
	Month                        int            `json:"month"`
	Year                         int            `json:"year"`
	PatientCount                 int            `json:"patientCount"`
	MedicalRecordsComplete       CriterionTally `json:"medicalRecordsComplete"`
	BPAtGoal                     CriterionTally `json:"bpAtGoal"`
	HospitalVisitSinceLastReview CriterionTally `json:"hospitalVisitSinceLastReview"`
	A1CAtGoal                    CriterionTally `json:"a1cAtGoal"`
	FallSinceLastVisit           CriterionTally `json:"fallSinceLastVisit"`
	UseBenzo                     CriterionTally `json:"useBenzo"`
	UseOpioids                   CriterionTally `json:"useOpioids"`
	UseAntipsychotics            CriterionTally `json:"useAntipsychotics"`
}

// Tally returns the tally for c.
func (d SiteReportData) Tally(c Criterion) CriterionTally {
	switch c {
	case CriterionMedicalRecordsComplete:
		return d.MedicalRecordsComplete
	case CriterionBPAtGoal:
		return d.BPAtGoal
	case CriterionHospitalVisitSinceLastReview:
		return d.HospitalVisitSinceLastReview
	case CriterionA1CAtGoal:
		return d.A1CAtGoal
	case CriterionFallSinceLastVisit:
		return d.FallSinceLastVisit
	case CriterionUseBenzo:
		return d.UseBenzo
	case CriterionUseOpioids:
		return d.UseOpioids
	case CriterionUseAntipsychotics:
		return d.UseAntipsychotics
	}
	return CriterionTally{}
}

// SetTally stores t under criterion c.
func (d *SiteReportData) SetTally(c Criterion, t CriterionTally) {
	switch c {
	case CriterionMedicalRecordsComplete:
		d.MedicalRecordsComplete = t
	case CriterionBPAtGoal:
		d.BPAtGoal = t
	case CriterionHospitalVisitSinceLastReview:
		d.HospitalVisitSinceLastReview = t
	case CriterionA1CAtGoal:
		d.A1CAtGoal = t
	case CriterionFallSinceLastVisit:
		d.FallSinceLastVisit = t
	case CriterionUseBenzo:
		d.UseBenzo = t
	case CriterionUseOpioids:
		d.UseOpioids = t
	case CriterionUseAntipsychotics:
		d.UseAntipsychotics = t
	}
}

// DurationSummary totals activity time. Values are unrounded.
type DurationSummary struct {
	TotalMinutes  float64 `json:"totalMinutes"`
	TotalHours    float64 `json:"totalHours"`
	ActivityCount int     `json:"activityCount"`
}

// Add returns the sum of both summaries.
func (s DurationSummary) Add(other DurationSummary) DurationSummary {
	return DurationSummary{
		TotalMinutes:  s.TotalMinutes + other.TotalMinutes,
		TotalHours:    s.TotalHours + other.TotalHours,
		ActivityCount: s.ActivityCount + other.ActivityCount,
	}
}

// PatientActivityData is the per-patient duration rollup.
type PatientActivityData struct {
	PatientID     string  `json:"patientId"`
	PatientName   string  `json:"patientName"`
	SiteName      string  `json:"siteName"`
	TotalMinutes  float64 `json:"totalMinutes"`
	TotalHours    float64 `json:"totalHours"`
	ActivityCount int     `json:"activityCount"`
	Duration      string  `json:"duration"`
}

// SitePatientData nests patient rollups under a site with site totals.
type SitePatientData struct {
	SiteName            string                `json:"siteName"`
	Patients            []PatientActivityData `json:"patients"`
	TotalSiteMinutes    float64               `json:"totalSiteMinutes"`
	TotalSiteHours      float64               `json:"totalSiteHours"`
	TotalSiteActivities int                   `json:"totalSiteActivities"`
}

// Summary exposes the site totals as a DurationSummary.
func (s SitePatientData) Summary() DurationSummary {
	return DurationSummary{
		TotalMinutes:  s.TotalSiteMinutes,
		TotalHours:    s.TotalSiteHours,
		ActivityCount: s.TotalSiteActivities,
	}
}

// SiteActivityReport groups patient rollups by site with a grand total across groups.
type SiteActivityReport struct {
	Sites      []SitePatientData `json:"sites"`
	GrandTotal DurationSummary   `json:"grandTotal"`
}
