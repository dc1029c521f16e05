package services

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inmobiscrap/models"
	"inmobiscrap/normalize"
)

type fakeStore struct {
	seen map[string]bool
	err  error
	last *models.NormalizedProperty
}

func (f *fakeStore) UpsertProperty(_ context.Context, p *models.NormalizedProperty) (bool, error) {
	if f.err != nil {
		return false, f.err
	}
	if f.seen == nil {
		f.seen = map[string]bool{}
	}
	key := string(p.Category) + "|" + p.ExternalCode + "|" + p.SiteName
	created := !f.seen[key]
	f.seen[key] = true
	f.last = p
	return created, nil
}

var origin = models.Origin{SourceID: 3, SourceURL: "https://portal.cl/list", SiteName: "Portal"}

func TestPropertyService_CreatedThenUpdated(t *testing.T) {
	store := &fakeStore{}
	svc := NewPropertyService(store, normalize.New(37000), nil)
	raw := models.RawListing{Title: models.Text("Departamento 2D en Ñuñoa"), Price: models.Text("$ 98.000.000")}

	res, err := svc.Process(context.Background(), raw, origin)
	require.NoError(t, err)
	assert.Equal(t, OutcomeCreated, res.Outcome)
	assert.Equal(t, models.CategoryApartment, res.Property.Category)
	assert.Equal(t, int64(98000000), res.Property.Price)
	assert.Equal(t, int64(3), store.last.SourceID)

	res, err = svc.Process(context.Background(), raw, origin)
	require.NoError(t, err)
	assert.Equal(t, OutcomeUpdated, res.Outcome)
}

func TestPropertyService_Rejected(t *testing.T) {
	store := &fakeStore{}
	svc := NewPropertyService(store, normalize.New(0), nil)

	res, err := svc.Process(context.Background(), models.RawListing{Description: models.Text("sin datos")}, origin)
	assert.ErrorIs(t, err, normalize.ErrRejected)
	assert.True(t, IsRejection(err))
	assert.Equal(t, OutcomeRejected, res.Outcome)
	assert.Nil(t, store.last)
}

func TestPropertyService_PersistenceError(t *testing.T) {
	boom := errors.New("constraint violation")
	svc := NewPropertyService(&fakeStore{err: boom}, normalize.New(0), nil)

	res, err := svc.Process(context.Background(),
		models.RawListing{Title: models.Text("Casa"), ExternalCode: models.Text("C-1")}, origin)
	require.Error(t, err)
	assert.Equal(t, OutcomeFailed, res.Outcome)

	var perr *PersistenceError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, "C-1", perr.Code)
	assert.Equal(t, "Portal", perr.Site)
	assert.ErrorIs(t, err, boom)
	assert.False(t, IsRejection(err))
}

func TestProcessStats_Aggregate(t *testing.T) {
	var s ProcessStats
	for _, o := range []Outcome{OutcomeCreated, OutcomeUpdated, OutcomeUpdated, OutcomeRejected, OutcomeFailed} {
		s.Aggregate(ProcessResult{Outcome: o})
	}
	assert.Equal(t, ProcessStats{Found: 5, Created: 1, Updated: 2, Rejected: 1, Failed: 2}, s)
	assert.Equal(t, s.Found, s.Created+s.Updated+s.Failed)
}
