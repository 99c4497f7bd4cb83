package recordstore

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/clinic-outcomes-api/internal/models"
	appErrors "github.com/noah-isme/clinic-outcomes-api/pkg/errors"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return srv
}

func TestClientListsRecords(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/sites":
			_, _ = w.Write([]byte(`{"data":[{"id":"s1","name":"Clinic A","isActive":true}]}`))
		case "/patients":
			_, _ = w.Write([]byte(`{"data":[{"id":"p1","firstName":"Ana","lastName":"Diaz","siteName":"Clinic A","isActive":true,"bpAtGoal":true}]}`))
		case "/patients/p1/snapshots":
			_, _ = w.Write([]byte(`{"data":[{"id":"snap-1","patientId":"p1","createdAt":"2024-03-02T10:00:00Z","a1cAtGoal":false}]}`))
		case "/patients/p1/activities":
			_, _ = w.Write([]byte(`{"data":[{"id":"a1","patientId":"p1","siteName":"Clinic A","serviceDatetime":"2025-02-01T09:00:00Z","durationMinutes":0.5}]}`))
		case "/activities":
			_, _ = w.Write([]byte(`{"data":null}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})
	client := New(Config{BaseURL: srv.URL, Token: "secret", Timeout: time.Second}, nil)
	ctx := context.Background()

	sites, err := client.ListSites(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Site{{ID: "s1", Name: "Clinic A", IsActive: true}}, sites)

	patients, err := client.ListPatients(ctx)
	require.NoError(t, err)
	require.Len(t, patients, 1)
	assert.True(t, patients[0].Values()[models.CriterionBPAtGoal])
	assert.Nil(t, patients[0].UseOpioids)

	snapshots, err := client.ListSnapshotsForPatient(ctx, "p1")
	require.NoError(t, err)
	require.Len(t, snapshots, 1)
	assert.Equal(t, "2024-03-02T10:00:00Z", snapshots[0].CreatedAt)
	require.NotNil(t, snapshots[0].A1CAtGoal)

	activities, err := client.ListActivitiesForPatient(ctx, "p1")
	require.NoError(t, err)
	assert.InDelta(t, 0.5, activities[0].DurationMinutes, 1e-9)

	all, err := client.ListAllActivities(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestClientRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[]}`))
	})
	client := New(Config{BaseURL: srv.URL, Retries: 2, Timeout: time.Second}, nil)

	_, err := client.ListSites(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestClientMapsErrors(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if r.URL.Path == "/patients/missing/snapshots" {
			w.WriteHeader(http.StatusNotFound)
			_, _ = w.Write([]byte(`{"error":{"code":"NOT_FOUND","message":"patient not found"}}`))
			return
		}
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":{"code":"INTERNAL","message":"database offline"}}`))
	})
	client := New(Config{BaseURL: srv.URL, Timeout: time.Second}, nil)

	_, err := client.ListSnapshotsForPatient(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrNotFound))

	_, err = client.ListPatients(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUpstream))
	assert.Contains(t, err.Error(), "database offline")
}

func TestClientRejectsMalformedPayload(t *testing.T) {
	srv := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"not":"a list"}}`))
	})
	client := New(Config{BaseURL: srv.URL, Timeout: time.Second}, nil)

	_, err := client.ListSites(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, appErrors.ErrUpstream))
}
