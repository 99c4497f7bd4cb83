package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
)

// StatusSnapshotRepository reads the append-only clinical status history.
type StatusSnapshotRepository struct {
	db *sqlx.DB
}

// NewStatusSnapshotRepository constructs the repository.
func NewStatusSnapshotRepository(db *sqlx.DB) *StatusSnapshotRepository {
	return &StatusSnapshotRepository{db: db}
}

// ListSnapshotsForPatient returns a patient's snapshots in creation order.
func (r *StatusSnapshotRepository) ListSnapshotsForPatient(ctx context.Context, patientID string) ([]models.StatusSnapshot, error) {
	query := `SELECT id, patient_id, created_at,
` + criteriaColumns + `
FROM patient_status_snapshots WHERE patient_id = $1 ORDER BY created_at ASC, id ASC`
	var snapshots []models.StatusSnapshot
	if err := r.db.SelectContext(ctx, &snapshots, query, patientID); err != nil {
		return nil, fmt.Errorf("list snapshots for patient %s: %w", patientID, err)
	}
	return snapshots, nil
}
