package access

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository/mocks"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
)

func TestCheckOwner(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.PatientRepository)
	r := NewResolver(repo)

	userID := uuid.New()
	own := &model.Patient{Base: model.Base{ID: uuid.New()}, UserID: userID}
	repo.On("GetByUserID", ctx, userID).Return(own, nil)

	patient := model.Principal{UserID: userID, Role: model.RolePatient}
	require.NoError(t, r.CheckOwner(ctx, patient, own.ID, "order"))

	err := r.CheckOwner(ctx, patient, uuid.New(), "order")
	assert.True(t, errors.Is(err, errors.CodeNotFound))

	provider := model.Principal{UserID: uuid.New(), Role: model.RoleProvider}
	assert.NoError(t, r.CheckOwner(ctx, provider, uuid.New(), "order"))
}

func TestPatientForMissingProfile(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.PatientRepository)
	userID := uuid.New()
	repo.On("GetByUserID", ctx, userID).Return(nil, errors.NotFound("patient", nil))

	_, err := NewResolver(repo).PatientFor(ctx, model.Principal{UserID: userID, Role: model.RolePatient})

	appErr, ok := errors.As(err)
	require.True(t, ok)
	assert.Equal(t, "patient profile not found", appErr.Message)
}

func TestScopePatient(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.PatientRepository)
	r := NewResolver(repo)
	admin := model.Principal{UserID: uuid.New(), Role: model.RoleAdmin}

	_, err := r.ScopePatient(ctx, admin, nil)
	assert.True(t, errors.Is(err, errors.CodeValidation))

	target := &model.Patient{Base: model.Base{ID: uuid.New()}}
	repo.On("Get", ctx, target.ID).Return(target, nil)
	got, err := r.ScopePatient(ctx, admin, &target.ID)
	require.NoError(t, err)
	assert.Equal(t, target, got)
}

func TestListScopePinsPatients(t *testing.T) {
	ctx := context.Background()
	repo := new(mocks.PatientRepository)
	r := NewResolver(repo)

	userID := uuid.New()
	own := &model.Patient{Base: model.Base{ID: uuid.New()}, UserID: userID}
	repo.On("GetByUserID", ctx, userID).Return(own, nil)

	other := uuid.New()
	got, err := r.ListScope(ctx, model.Principal{UserID: userID, Role: model.RolePatient}, &other)
	require.NoError(t, err)
	assert.Equal(t, own.ID, *got)

	got, err = r.ListScope(ctx, model.Principal{Role: model.RoleProvider}, &other)
	require.NoError(t, err)
	assert.Equal(t, other, *got)
}
