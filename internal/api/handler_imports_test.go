package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"parkstatus-backend/internal/db"
	"parkstatus-backend/internal/model"
	"parkstatus-backend/internal/store"
)

const testDest = "11111111-1111-1111-1111-111111111111"

func newTestRouter(t *testing.T) (*gin.Engine, store.CheckpointStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dsn := fmt.Sprintf("file:api_%s?mode=memory&cache=shared", t.Name())
	gormDB, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	t.Cleanup(func() {
		sqlDB, _ := gormDB.DB()
		sqlDB.Close()
	})
	require.NoError(t, db.Migrate(gormDB))

	clock := clockwork.NewRealClock()
	s := store.NewGormStore(gormDB, clock, time.Hour)
	cps := store.NewGormCheckpointStore(gormDB, clock)
	return NewRouter(s, cps), cps
}

func doRequest(router *gin.Engine, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	router.ServeHTTP(w, req)
	return w
}

func TestHealthz(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/healthz")
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestListActiveImports(t *testing.T) {
	router, cps := newTestRouter(t)
	ctx := context.Background()

	w := doRequest(router, http.MethodGet, "/imports")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())

	cp, err := cps.Create(ctx, testDest)
	require.NoError(t, err)
	require.NoError(t, cps.MarkRunning(ctx, cp.ImportID))
	require.NoError(t, cps.Advance(ctx, cp.ImportID, 120, 3, "2023-06-01.json.zz", time.Date(2023, 6, 1, 0, 0, 0, 0, time.UTC)))

	w = doRequest(router, http.MethodGet, "/imports")
	require.Equal(t, http.StatusOK, w.Code)

	var imports []importResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &imports))
	require.Len(t, imports, 1)
	assert.Equal(t, cp.ImportID, imports[0].ImportID)
	assert.Equal(t, model.ImportInProgress, imports[0].Status)
	assert.Equal(t, int64(120), imports[0].RecordsImported)
	assert.Equal(t, int64(3), imports[0].ErrorsEncountered)
	assert.Equal(t, "2023-06-01.json.zz", imports[0].LastProcessedFile)
	assert.True(t, imports[0].CanResume)
}

func TestGetImport(t *testing.T) {
	router, cps := newTestRouter(t)

	cp, err := cps.Create(context.Background(), testDest)
	require.NoError(t, err)

	w := doRequest(router, http.MethodGet, "/imports/"+cp.ImportID)
	require.Equal(t, http.StatusOK, w.Code)

	var got importResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, cp.ImportID, got.ImportID)
	assert.Equal(t, testDest, got.DestinationID)
	assert.Equal(t, model.ImportPending, got.Status)
	assert.False(t, got.CanResume)

	w = doRequest(router, http.MethodGet, "/imports/no-such-import")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestPauseAndCancelImport(t *testing.T) {
	router, cps := newTestRouter(t)
	ctx := context.Background()

	cp, err := cps.Create(ctx, testDest)
	require.NoError(t, err)

	// Not running yet: both controls are rejected.
	w := doRequest(router, http.MethodPost, "/imports/"+cp.ImportID+"/pause")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = doRequest(router, http.MethodPost, "/imports/"+cp.ImportID+"/cancel")
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, cps.MarkRunning(ctx, cp.ImportID))

	w = doRequest(router, http.MethodPost, "/imports/"+cp.ImportID+"/pause")
	require.Equal(t, http.StatusOK, w.Code)
	got, err := cps.Get(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportPaused, got.Status)

	// Pause is not repeatable, and cancel needs IN_PROGRESS too.
	w = doRequest(router, http.MethodPost, "/imports/"+cp.ImportID+"/pause")
	assert.Equal(t, http.StatusConflict, w.Code)

	require.NoError(t, cps.MarkRunning(ctx, cp.ImportID))
	w = doRequest(router, http.MethodPost, "/imports/"+cp.ImportID+"/cancel")
	require.Equal(t, http.StatusOK, w.Code)
	got, err = cps.Get(ctx, cp.ImportID)
	require.NoError(t, err)
	assert.Equal(t, model.ImportCancelled, got.Status)
}

func TestMetricsEndpoint(t *testing.T) {
	router, _ := newTestRouter(t)
	w := doRequest(router, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}
