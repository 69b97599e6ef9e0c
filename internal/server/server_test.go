package server_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/custodian/internal/config"
	"github.com/aristath/custodian/internal/modules/artifacts"
	"github.com/aristath/custodian/internal/modules/harvesting"
	"github.com/aristath/custodian/internal/modules/ledger"
	"github.com/aristath/custodian/internal/modules/lots"
	"github.com/aristath/custodian/internal/modules/revision"
	"github.com/aristath/custodian/internal/modules/washsale"
	"github.com/aristath/custodian/internal/scheduler"
	"github.com/aristath/custodian/internal/server"
	ctesting "github.com/aristath/custodian/internal/testing"
)

func newTestServer(t *testing.T) (*server.Server, *ledger.Service, func()) {
	t.Helper()

	ledgerDB, cleanLedger := ctesting.NewTestDB(t, "ledger")
	artifactsDB, cleanArtifacts := ctesting.NewTestDB(t, "artifacts")
	cacheDB, cleanCache := ctesting.NewTestDB(t, "cache")

	log := zerolog.Nop()
	ledgerSvc := ledger.NewService(ledgerDB.Conn(), nil, log)
	lotsSvc := lots.NewService(ledgerSvc, 365, log)
	washSvc := washsale.NewService(ledgerSvc, nil, washsale.DefaultWindowDays, log)
	harvestSvc := harvesting.NewService(ledgerSvc, nil, harvesting.Rates{
		ShortTerm: decimal.NewFromFloat(0.37),
		LongTerm:  decimal.NewFromFloat(0.20),
	}, 365, log)
	recorder := artifacts.NewRecorder(artifactsDB.Conn(), log)
	repo := revision.NewRepository(artifactsDB.Conn(), log)
	revisionSvc := revision.NewService(ledgerSvc, nil, repo, recorder, log)

	sched := scheduler.New(log)
	walJob := scheduler.NewCheckWALCheckpointsJob(ledgerDB, artifactsDB, cacheDB, log)

	s := server.New(server.Config{
		Log:         log,
		LedgerDB:    ledgerDB,
		ArtifactsDB: artifactsDB,
		CacheDB:     cacheDB,
		Config:      &config.Config{},
		Port:        0,
		DevMode:     true,
		Ledger:      ledgerSvc,
		Lots:        lotsSvc,
		WashSale:    washSvc,
		Harvesting:  harvestSvc,
		Revision:    revisionSvc,
		Recorder:    recorder,
		Scheduler:   sched,
		Jobs:        []scheduler.Job{walJob},
	})

	return s, ledgerSvc, func() {
		cleanCache()
		cleanArtifacts()
		cleanLedger()
	}
}

func TestHealthEndpoint(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/health", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, "custodian", body["service"])
}

func TestModuleRoutesAreMounted(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()

	// One write through the API, then reads across the mounted modules.
	body := `{
		"account_id": "ACC1",
		"security_id": "AAPL",
		"side": "BUY",
		"quantity": "100",
		"price": "150",
		"executed_at": "2024-01-01T12:00:00Z"
	}`
	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/ledger/transactions", strings.NewReader(body)))
	require.Equal(t, http.StatusCreated, rec.Code)

	for _, path := range []string{
		"/api/ledger/snapshot",
		"/api/ledger/invariant",
		"/api/washsale/adjustments",
		"/api/revisions?account_id=ACC1",
		"/api/artifacts?kind=revision_attempt",
	} {
		rec = httptest.NewRecorder()
		s.Router().ServeHTTP(rec, httptest.NewRequest("GET", path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestSystemStatusEndpoint(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/system/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var status server.SystemStatusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, "healthy", status.Status)
	require.Len(t, status.Databases, 3)
	for _, db := range status.Databases {
		assert.True(t, db.Healthy, db.Name)
	}
}

func TestDatabaseStatsEndpoint(t *testing.T) {
	s, ledgerSvc, cleanup := newTestServer(t)
	defer cleanup()

	ctesting.MustApplyBuy(t, ledgerSvc, "ACC1", "AAPL", 100, 150, ctesting.Day(0))

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("GET", "/api/system/databases", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var stats server.DatabaseStatsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	require.Len(t, stats.Databases, 3)
	assert.Greater(t, stats.TotalSizeMB, 0.0)

	parsed, err := time.Parse(time.RFC3339, stats.LastChecked)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().UTC(), parsed, time.Minute)
}

func TestManualJobTrigger(t *testing.T) {
	s, _, cleanup := newTestServer(t)
	defer cleanup()

	rec := httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/system/jobs/check_wal_checkpoints", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "success", body["status"])

	rec = httptest.NewRecorder()
	s.Router().ServeHTTP(rec, httptest.NewRequest("POST", "/api/system/jobs/no_such_job", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
