package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
)

// SiteRepository reads the site directory.
type SiteRepository struct {
	db *sqlx.DB
}

// NewSiteRepository constructs the repository.
func NewSiteRepository(db *sqlx.DB) *SiteRepository {
	return &SiteRepository{db: db}
}

// ListSites returns every site ordered by name.
func (r *SiteRepository) ListSites(ctx context.Context) ([]models.Site, error) {
	const query = `SELECT id, name, is_active FROM sites ORDER BY name ASC, id ASC`
	var sites []models.Site
	if err := r.db.SelectContext(ctx, &sites, query); err != nil {
		return nil, fmt.Errorf("list sites: %w", err)
	}
	return sites, nil
}
