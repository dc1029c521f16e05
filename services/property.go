package services

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"inmobiscrap/extractor"
	"inmobiscrap/logging"
	"inmobiscrap/models"
	"inmobiscrap/normalize"
)

// PropertyStore persists one normalized property, reporting whether the row
// was created (true) or overwritten (false).
type PropertyStore interface {
	UpsertProperty(ctx context.Context, p *models.NormalizedProperty) (bool, error)
}

// PersistenceError wraps a storage failure for one record.
type PersistenceError struct {
	Code string
	Site string
	Err  error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist %s@%s: %v", e.Code, e.Site, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }

type Outcome string

const (
	OutcomeCreated  Outcome = "created"
	OutcomeUpdated  Outcome = "updated"
	OutcomeRejected Outcome = "rejected"
	OutcomeFailed   Outcome = "persist_failed"
)

// ProcessResult is the outcome of one candidate record.
type ProcessResult struct {
	Outcome  Outcome
	Property *models.NormalizedProperty
}

// PropertyService turns raw candidates into stored properties:
// classify, normalize, upsert.
type PropertyService struct {
	store      PropertyStore
	normalizer *normalize.Normalizer
	logger     *zap.Logger
}

func NewPropertyService(store PropertyStore, normalizer *normalize.Normalizer, logger *zap.Logger) *PropertyService {
	return &PropertyService{store: store, normalizer: normalizer, logger: logging.OrNop(logger)}
}

// Process handles one record. A non-nil error always comes with a
// rejected or persist_failed outcome; the caller counts it and moves on.
func (s *PropertyService) Process(ctx context.Context, raw models.RawListing, origin models.Origin) (ProcessResult, error) {
	cat := extractor.Classify(raw)

	p, err := s.normalizer.Normalize(raw, cat, origin)
	if err != nil {
		return ProcessResult{Outcome: OutcomeRejected}, err
	}

	created, err := s.store.UpsertProperty(ctx, p)
	if err != nil {
		s.logger.Warn("upsert failed",
			zap.String("category", string(cat)),
			zap.String("code", p.ExternalCode),
			zap.Error(err))
		return ProcessResult{Outcome: OutcomeFailed, Property: p},
			&PersistenceError{Code: p.ExternalCode, Site: p.SiteName, Err: err}
	}

	if created {
		return ProcessResult{Outcome: OutcomeCreated, Property: p}, nil
	}
	return ProcessResult{Outcome: OutcomeUpdated, Property: p}, nil
}

// ProcessStats accumulates per-run record counts.
type ProcessStats struct {
	Found    int
	Created  int
	Updated  int
	Rejected int
	Failed   int
}

// Aggregate counts one processed record. Rejected records count as failed
// so that Created+Updated+Failed always equals Found.
func (s *ProcessStats) Aggregate(r ProcessResult) {
	s.Found++
	switch r.Outcome {
	case OutcomeCreated:
		s.Created++
	case OutcomeUpdated:
		s.Updated++
	case OutcomeRejected:
		s.Rejected++
		s.Failed++
	default:
		s.Failed++
	}
}

// IsRejection reports whether err is a normalization rejection rather than a
// storage problem.
func IsRejection(err error) bool {
	return errors.Is(err, normalize.ErrRejected)
}
