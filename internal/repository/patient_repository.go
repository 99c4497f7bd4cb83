package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
)

const criteriaColumns = `medical_records_complete, bp_at_goal, hospital_visit_since_last_review, a1c_at_goal,
fall_since_last_visit, use_benzo, use_opioids, use_antipsychotics`

// PatientRepository reads current patient records including their current criteria flags.
type PatientRepository struct {
	db *sqlx.DB
}

// NewPatientRepository constructs the repository.
func NewPatientRepository(db *sqlx.DB) *PatientRepository {
	return &PatientRepository{db: db}
}

// ListPatients returns every patient regardless of active state.
func (r *PatientRepository) ListPatients(ctx context.Context) ([]models.Patient, error) {
	query := `SELECT id, first_name, last_name, site_name, COALESCE(building, '') AS building, is_active,
` + criteriaColumns + `
FROM patients ORDER BY last_name ASC, first_name ASC, id ASC`
	var patients []models.Patient
	if err := r.db.SelectContext(ctx, &patients, query); err != nil {
		return nil, fmt.Errorf("list patients: %w", err)
	}
	return patients, nil
}

// GetByID returns one patient.
func (r *PatientRepository) GetByID(ctx context.Context, id string) (*models.Patient, error) {
	query := `SELECT id, first_name, last_name, site_name, COALESCE(building, '') AS building, is_active,
` + criteriaColumns + `
FROM patients WHERE id = $1`
	var patient models.Patient
	if err := r.db.GetContext(ctx, &patient, query, id); err != nil {
		return nil, fmt.Errorf("get patient: %w", err)
	}
	return &patient, nil
}
