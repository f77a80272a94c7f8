package search

import (
	"context"
	"log"
)

// Service is the facade that tries Meilisearch first and falls back to
// PostgreSQL ILIKE matching.
type Service struct {
	meili *Meili
	pg    *PgSearch
}

// NewService creates a search service. meili may be nil when Meilisearch is
// not configured.
func NewService(meili *Meili, pg *PgSearch) *Service {
	return &Service{meili: meili, pg: pg}
}

// FamilyIDs returns ids of families matching the term.
func (s *Service) FamilyIDs(ctx context.Context, term string) ([]string, error) {
	if s.meili != nil && s.meili.Healthy() {
		ids, err := s.meili.FamilyIDs(term)
		if err == nil {
			return ids, nil
		}
		log.Printf("search: meilisearch error, falling back to postgres: %v", err)
	}
	return s.pg.FamilyIDs(ctx, term)
}

// IndexFamily indexes a family (fire-and-forget to Meilisearch).
func (s *Service) IndexFamily(record FamilyRecord) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.IndexFamily(record); err != nil {
			log.Printf("search: index family %s: %v", record.ID, err)
		}
	}()
}

// DeleteFamily removes a family from the index (fire-and-forget).
func (s *Service) DeleteFamily(id string) {
	if s.meili == nil || !s.meili.Healthy() {
		return
	}
	go func() {
		if err := s.meili.DeleteFamily(id); err != nil {
			log.Printf("search: delete family %s: %v", id, err)
		}
	}()
}

// ReindexAllFromPG reads every family from PostgreSQL and pushes it to
// Meilisearch. Called at startup when Meilisearch is healthy.
func (s *Service) ReindexAllFromPG(ctx context.Context) {
	if s.meili == nil || !s.meili.Healthy() || s.pg == nil {
		return
	}
	records, err := s.pg.LoadAllRecords(ctx)
	if err != nil {
		log.Printf("search: reindex load failed: %v", err)
		return
	}
	if err := s.meili.IndexFamilies(records); err != nil {
		log.Printf("search: reindex families: %v", err)
	}
}
