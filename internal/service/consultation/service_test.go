package consultation

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/telehealth-api/internal/model"
	"github.com/jwalitptl/telehealth-api/internal/repository/mocks"
	"github.com/jwalitptl/telehealth-api/internal/service/audit"
	"github.com/jwalitptl/telehealth-api/internal/storage"
	"github.com/jwalitptl/telehealth-api/pkg/errors"
	"github.com/jwalitptl/telehealth-api/pkg/metrics"
)

type fakeStorage struct {
	storage.Storage
	uploaded map[string]bool
}

func (f *fakeStorage) Enabled() bool { return true }

func (f *fakeStorage) Exists(_ context.Context, key string) (bool, error) {
	return f.uploaded[key], nil
}

func (f *fakeStorage) PresignUpload(_ context.Context, patientID uuid.UUID, _ string) (*model.PhotoUpload, error) {
	return &model.PhotoUpload{Key: "photos/" + patientID.String() + "/new.jpg", UploadURL: "https://s3/upload"}, nil
}

type fixture struct {
	svc      *Service
	repo     *mocks.ConsultationRepository
	patients *mocks.PatientRepository
	store    *fakeStorage
	patient  *model.Patient
	actor    model.Principal
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     new(mocks.ConsultationRepository),
		patients: new(mocks.PatientRepository),
		store:    &fakeStorage{Storage: storage.NewDisabled("photos"), uploaded: map[string]bool{}},
	}
	f.actor = model.Principal{UserID: uuid.New(), Role: model.RolePatient}
	f.patient = &model.Patient{Base: model.Base{ID: uuid.New()}, UserID: f.actor.UserID, Status: model.PatientStatusActive}
	f.patients.On("GetByUserID", mock.Anything, f.actor.UserID).Return(f.patient, nil).Maybe()

	f.svc = NewService(f.repo, f.patients, f.store, audit.NewService(nil, false), metrics.NewNop())
	return f
}

func (f *fixture) photoKey(name string) string {
	return "photos/" + f.patient.ID.String() + "/" + name
}

func TestCreateIntake(t *testing.T) {
	tests := []struct {
		name      string
		complaint string
		severity  int
		photos    []string
		want      string
		wantPhoto int
	}{
		{name: "headache", complaint: "persistent headache", severity: 8, want: "persistent headache"},
		{name: "rash with duplicate photo", complaint: "  itchy rash on forearm ", severity: 4, photos: []string{"rash.jpg", "rash.jpg"}, want: "itchy rash on forearm", wantPhoto: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			var refs []string
			for _, name := range tt.photos {
				key := f.photoKey(name)
				f.store.uploaded[key] = true
				refs = append(refs, key)
			}

			f.repo.On("Create", ctx, mock.AnythingOfType("*model.Consultation"), mock.MatchedBy(func(e *model.OutboxEvent) bool {
				return e.EventType == model.EventConsultationCreated && e.PatientID == f.patient.ID
			})).Return(nil)

			c, err := f.svc.Create(ctx, f.actor, &model.CreateConsultationRequest{
				ChiefComplaint: tt.complaint,
				Severity:       tt.severity,
				PhotoRefs:      refs,
			})

			require.NoError(t, err)
			assert.Equal(t, model.ConsultationStatusPending, c.Status)
			assert.Equal(t, model.ConsultationTypeIntake, c.Type)
			assert.Equal(t, tt.want, c.ChiefComplaint)
			assert.Equal(t, tt.severity, c.Severity)
			assert.Equal(t, f.patient.ID, c.PatientID)
			assert.Nil(t, c.ProviderID)
			assert.False(t, c.CreatedAt.IsZero())
			assert.Len(t, c.PhotoRefs, tt.wantPhoto)
			f.repo.AssertExpectations(t)
		})
	}
}

func TestCreateValidation(t *testing.T) {
	tests := []struct {
		name string
		req  model.CreateConsultationRequest
	}{
		{"blank complaint", model.CreateConsultationRequest{ChiefComplaint: "   ", Severity: 3}},
		{"severity zero", model.CreateConsultationRequest{ChiefComplaint: "cough", Severity: 0}},
		{"severity eleven", model.CreateConsultationRequest{ChiefComplaint: "cough", Severity: 11}},
		{"foreign photo", model.CreateConsultationRequest{ChiefComplaint: "cough", Severity: 3, PhotoRefs: []string{"photos/" + uuid.NewString() + "/a.jpg"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.svc.Create(context.Background(), f.actor, &tt.req)
			assert.True(t, errors.Is(err, errors.CodeValidation), "got %v", err)
			f.repo.AssertNotCalled(t, "Create", mock.Anything, mock.Anything, mock.Anything)
		})
	}
}

func TestCreateRejectsMissingUpload(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Create(context.Background(), f.actor, &model.CreateConsultationRequest{
		ChiefComplaint: "mole",
		Severity:       2,
		PhotoRefs:      []string{f.photoKey("never-uploaded.jpg")},
	})

	assert.True(t, errors.Is(err, errors.CodeValidation))
}

func TestCreateInactivePatient(t *testing.T) {
	f := newFixture(t)
	f.patient.Status = model.PatientStatusInactive

	_, err := f.svc.Create(context.Background(), f.actor, &model.CreateConsultationRequest{ChiefComplaint: "cough", Severity: 3})

	assert.True(t, errors.Is(err, errors.CodeValidation))
}

func TestPresignPhoto(t *testing.T) {
	f := newFixture(t)

	upload, err := f.svc.PresignPhoto(context.Background(), f.actor, &model.PhotoUploadRequest{ContentType: "image/jpeg"})

	require.NoError(t, err)
	assert.Equal(t, f.photoKey("new.jpg"), upload.Key)
}

func TestGetForeignConsultationIsNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	c := &model.Consultation{Base: model.Base{ID: uuid.New()}, PatientID: uuid.New()}
	f.repo.On("Get", ctx, c.ID).Return(c, nil)

	_, err := f.svc.Get(ctx, f.actor, c.ID)

	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestAssign(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	provider := model.Principal{UserID: uuid.New(), Role: model.RoleProvider}
	c := &model.Consultation{Base: model.Base{ID: uuid.New()}, PatientID: f.patient.ID, Status: model.ConsultationStatusPending}
	f.repo.On("Get", ctx, c.ID).Return(c, nil)
	f.repo.On("UpdateStatus", ctx, c, model.ConsultationStatusPending, mock.AnythingOfType("*model.OutboxEvent")).Return(nil).Once()

	got, err := f.svc.Assign(ctx, provider, c.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ConsultationStatusAssigned, got.Status)
	assert.Equal(t, provider.UserID, *got.ProviderID)

	// claiming again is a no-op
	_, err = f.svc.Assign(ctx, provider, c.ID)
	require.NoError(t, err)
	f.repo.AssertExpectations(t)

	_, err = f.svc.Assign(ctx, model.Principal{UserID: uuid.New(), Role: model.RoleProvider}, c.ID)
	assert.True(t, errors.Is(err, errors.CodeInvalidStateTransition))
}

func TestCancel(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.svc.now = func() time.Time { return time.Date(2025, 3, 1, 10, 0, 0, 0, time.UTC) }
	c := &model.Consultation{Base: model.Base{ID: uuid.New()}, PatientID: f.patient.ID, Status: model.ConsultationStatusAssigned}
	f.repo.On("Get", ctx, c.ID).Return(c, nil)
	f.repo.On("UpdateStatus", ctx, c, model.ConsultationStatusAssigned, mock.AnythingOfType("*model.OutboxEvent")).Return(nil)

	got, err := f.svc.Cancel(ctx, f.actor, c.ID, " changed my mind ")

	require.NoError(t, err)
	assert.Equal(t, model.ConsultationStatusCancelled, got.Status)
	assert.Equal(t, f.svc.now(), *got.CancelledAt)

	_, err = f.svc.Cancel(ctx, f.actor, c.ID, "")
	assert.True(t, errors.Is(err, errors.CodeInvalidStateTransition))
}

func TestListScopesPatients(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.On("List", ctx, mock.MatchedBy(func(fl *model.ConsultationFilters) bool {
		return fl.PatientID != nil && *fl.PatientID == f.patient.ID && fl.PageSize == model.DefaultPageSize
	})).Return([]*model.Consultation{}, 0, nil)

	other := uuid.New()
	_, _, err := f.svc.List(ctx, f.actor, &model.ConsultationFilters{PatientID: &other})

	require.NoError(t, err)
	f.repo.AssertExpectations(t)
}
