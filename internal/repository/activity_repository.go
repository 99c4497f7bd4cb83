package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
)

const activityColumns = `id, patient_id, site_name, COALESCE(building, '') AS building, service_datetime, duration_minutes`

// ActivityRepository reads logged service activities.
type ActivityRepository struct {
	db *sqlx.DB
}

// NewActivityRepository constructs the repository.
func NewActivityRepository(db *sqlx.DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// ListActivitiesForPatient returns one patient's activities ordered by service time.
func (r *ActivityRepository) ListActivitiesForPatient(ctx context.Context, patientID string) ([]models.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities WHERE patient_id = $1 ORDER BY service_datetime ASC, id ASC`
	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query, patientID); err != nil {
		return nil, fmt.Errorf("list activities for patient %s: %w", patientID, err)
	}
	return activities, nil
}

// ListAllActivities returns every activity in one query.
func (r *ActivityRepository) ListAllActivities(ctx context.Context) ([]models.Activity, error) {
	query := `SELECT ` + activityColumns + ` FROM activities ORDER BY patient_id ASC, service_datetime ASC, id ASC`
	var activities []models.Activity
	if err := r.db.SelectContext(ctx, &activities, query); err != nil {
		return nil, fmt.Errorf("list activities: %w", err)
	}
	return activities, nil
}
