package models

import "strings"

// Site is a clinic location. Patients and activities reference sites by name.
type Site struct {
	ID       string `db:"id" json:"id"`
	Name     string `db:"name" json:"name"`
	IsActive bool   `db:"is_active" json:"isActive"`
}

// Patient is the current patient record including the "current" criterion flags.
type Patient struct {
	ID        string `db:"id" json:"id"`
	FirstName string `db:"first_name" json:"firstName"`
	LastName  string `db:"last_name" json:"lastName"`
	SiteName  string `db:"site_name" json:"siteName"`
	Building  string `db:"building" json:"building"`
	IsActive  bool   `db:"is_active" json:"isActive"`
	CriteriaFlags
}

// FullName joins first and last name, skipping blanks.
func (p Patient) FullName() string {
	return strings.TrimSpace(strings.Join([]string{strings.TrimSpace(p.FirstName), strings.TrimSpace(p.LastName)}, " "))
}

// StatusSnapshot is an immutable record of a patient's criteria at the time of an update.
// CreatedAt is kept as delivered by the store and parsed at resolution time.
type StatusSnapshot struct {
	ID        string `db:"id" json:"id"`
	PatientID string `db:"patient_id" json:"patientId"`
	CreatedAt string `db:"created_at" json:"createdAt"`
	CriteriaFlags
}

// Activity is a logged service interaction with a patient.
type Activity struct {
	ID              string  `db:"id" json:"id"`
	PatientID       string  `db:"patient_id" json:"patientId"`
	SiteName        string  `db:"site_name" json:"siteName"`
	Building        string  `db:"building" json:"building"`
	ServiceDatetime string  `db:"service_datetime" json:"serviceDatetime"`
	DurationMinutes float64 `db:"duration_minutes" json:"durationMinutes"`
}
