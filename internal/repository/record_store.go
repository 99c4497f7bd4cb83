package repository

import "github.com/jmoiron/sqlx"

// RecordStore bundles the Postgres read repositories behind one value.
type RecordStore struct {
	*SiteRepository
	*PatientRepository
	*StatusSnapshotRepository
	*ActivityRepository
}

// NewRecordStore builds every read repository on the same connection pool.
func NewRecordStore(db *sqlx.DB) *RecordStore {
	return &RecordStore{
		SiteRepository:           NewSiteRepository(db),
		PatientRepository:        NewPatientRepository(db),
		StatusSnapshotRepository: NewStatusSnapshotRepository(db),
		ActivityRepository:       NewActivityRepository(db),
	}
}
