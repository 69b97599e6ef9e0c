package handlers_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/custodian/internal/modules/artifacts"
	"github.com/aristath/custodian/internal/modules/artifacts/handlers"
	ctesting "github.com/aristath/custodian/internal/testing"
)

func newRouter(t *testing.T) (chi.Router, *artifacts.Recorder, func()) {
	t.Helper()
	db, cleanup := ctesting.NewTestDB(t, "artifacts")
	recorder := artifacts.NewRecorder(db.Conn(), zerolog.Nop())

	r := chi.NewRouter()
	handlers.NewHandler(recorder, zerolog.Nop()).RegisterRoutes(r)
	return r, recorder, cleanup
}

func TestGetArtifactEndpoint(t *testing.T) {
	r, recorder, cleanup := newRouter(t)
	defer cleanup()

	record, err := recorder.Record("risk_snapshot", "gate", 1.0, nil,
		map[string]string{"note": "all clear"})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/artifacts/"+record.ID, nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data artifacts.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Equal(t, record.ID, envelope.Data.ID)
	assert.Equal(t, "risk_snapshot", envelope.Data.Kind)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/artifacts/no-such-id", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLineageEndpointOrdersDependenciesFirst(t *testing.T) {
	r, recorder, cleanup := newRouter(t)
	defer cleanup()

	attempt, err := recorder.Record("revision_attempt", "revision", 1.0, nil, nil)
	require.NoError(t, err)
	snapshot, err := recorder.Record("risk_snapshot", "gate", 1.0,
		[]string{attempt.ID}, nil)
	require.NoError(t, err)
	decision, err := recorder.Record("gate_decision", "gate", 1.0,
		[]string{snapshot.ID}, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/artifacts/"+decision.ID+"/lineage", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []artifacts.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	require.Len(t, envelope.Data, 3)
	assert.Equal(t, attempt.ID, envelope.Data[0].ID)
	assert.Equal(t, snapshot.ID, envelope.Data[1].ID)
	assert.Equal(t, decision.ID, envelope.Data[2].ID)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/artifacts/no-such-id/lineage", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListArtifactsByKind(t *testing.T) {
	r, recorder, cleanup := newRouter(t)
	defer cleanup()

	_, err := recorder.Record("gate_decision", "gate", 1.0, nil, nil)
	require.NoError(t, err)
	_, err = recorder.Record("gate_decision", "gate", 0.5, nil, nil)
	require.NoError(t, err)
	_, err = recorder.Record("risk_snapshot", "gate", 1.0, nil, nil)
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/artifacts?kind=gate_decision", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var envelope struct {
		Data []artifacts.Record `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &envelope))
	assert.Len(t, envelope.Data, 2)

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest("GET", "/artifacts", nil))
	assert.Equal(t, http.StatusBadRequest, rec.Code, "kind is required")
}
