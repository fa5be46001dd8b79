package db

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/tspv.relay/internal/monitoring"
	"github.com/banshee-data/tspv.relay/internal/processor"
)

func TestMain(m *testing.M) {
	monitoring.SetLogger(nil)
	m.Run()
}

func setupTestDB(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "tspv.db")
	db, err := NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return db, path
}

func TestNewDB_AppliesMigrations(t *testing.T) {
	db, _ := setupTestDB(t)

	version, dirty, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(2), version)
	assert.False(t, dirty)

	for _, table := range []string{"tspv_samples", "dispatch_log"} {
		var n int
		err := db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?`, table).Scan(&n)
		require.NoError(t, err)
		assert.Equal(t, 1, n, table)
	}

	// Re-running is a no-op.
	require.NoError(t, db.MigrateUp())
}

func TestNewDB_Pragmas(t *testing.T) {
	db, _ := setupTestDB(t)

	var mode string
	require.NoError(t, db.QueryRow("PRAGMA journal_mode").Scan(&mode))
	assert.Equal(t, "wal", mode)

	var timeout int
	require.NoError(t, db.QueryRow("PRAGMA busy_timeout").Scan(&timeout))
	assert.Equal(t, 5000, timeout)
}

func TestMigrateDown(t *testing.T) {
	db, _ := setupTestDB(t)

	require.NoError(t, db.MigrateDown())
	version, _, err := db.MigrateVersion()
	require.NoError(t, err)
	assert.Equal(t, uint(1), version)

	var n int
	require.NoError(t, db.QueryRow(`SELECT COUNT(*) FROM sqlite_master WHERE name='dispatch_log'`).Scan(&n))
	assert.Zero(t, n)
}

func TestSampleStore_TimedSamples(t *testing.T) {
	db, _ := setupTestDB(t)
	store := NewSampleStore(db)

	var sink processor.SampleSink = store
	sink.PostTimedSample(processor.Sample{PacketID: 3, Version: 1, Slot: 0, Status1: 1, Status2: 2, PresentValue: 1.5, Epoch: 999})
	sink.PostTimedSample(processor.Sample{PacketID: 3, Version: 1, Slot: 1, Status1: 1, Status2: 2, PresentValue: 2.5, Epoch: 1001, Recovered: true})

	got, err := db.RecentSamples(10)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Zero(t, store.Failures())

	// Newest first.
	assert.Equal(t, float32(2.5), got[0].PresentValue)
	assert.True(t, got[0].Recovered)
	require.NotNil(t, got[0].Epoch)
	assert.Equal(t, int64(1001), *got[0].Epoch)
	require.NotNil(t, got[0].PacketID)
	assert.Equal(t, uint8(3), *got[0].PacketID)
	require.NotNil(t, got[0].Slot)
	assert.Equal(t, 1, *got[0].Slot)
	assert.NotEqual(t, got[0].ID, got[1].ID)
	assert.Len(t, got[0].ID, 36)
}

func TestSampleStore_PlainSample(t *testing.T) {
	db, _ := setupTestDB(t)
	store := NewSampleStore(db)

	store.PostSample(4, 5, 6.25)

	got, err := db.RecentSamples(0)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Nil(t, got[0].Epoch)
	assert.Nil(t, got[0].PacketID)
	assert.Equal(t, uint8(4), got[0].Status1)
	assert.Equal(t, float32(6.25), got[0].PresentValue)
}

func TestSampleStore_FailuresAreCounted(t *testing.T) {
	db, _ := setupTestDB(t)
	store := NewSampleStore(db)
	require.NoError(t, db.Close())

	store.PostSample(1, 1, 1)
	store.PostTimedSample(processor.Sample{PacketID: 1})
	assert.Equal(t, uint64(2), store.Failures())
}

func TestRecentSamples_Limit(t *testing.T) {
	db, _ := setupTestDB(t)
	for i := 0; i < 5; i++ {
		require.NoError(t, db.RecordSample(processor.Sample{PacketID: uint8(i + 1), PresentValue: float32(i)}))
	}
	got, err := db.RecentSamples(3)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, uint8(5), *got[0].PacketID)
}

func TestSummaryByStatus(t *testing.T) {
	db, _ := setupTestDB(t)
	for _, s := range []processor.Sample{
		{PacketID: 1, Status1: 1, Status2: 0, PresentValue: 2},
		{PacketID: 2, Status1: 1, Status2: 0, PresentValue: 4},
		{PacketID: 3, Status1: 1, Status2: 0, PresentValue: 6, Recovered: true},
		{PacketID: 4, Status1: 2, Status2: 7, PresentValue: -1},
	} {
		require.NoError(t, db.RecordSample(s))
	}

	got, err := db.SummaryByStatus()
	require.NoError(t, err)
	want := []StatusSummary{
		{Status1: 1, Status2: 0, Count: 3, Mean: 4, StdDev: 2, Min: 2, Max: 6, Recovered: 1},
		{Status1: 2, Status2: 7, Count: 1, Mean: -1, StdDev: 0, Min: -1, Max: -1},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("SummaryByStatus() mismatch (-want +got):\n%s", diff)
	}
}

func TestSummaryByStatus_Empty(t *testing.T) {
	db, _ := setupTestDB(t)
	got, err := db.SummaryByStatus()
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestRecordDispatchLog(t *testing.T) {
	db, _ := setupTestDB(t)
	snap := processor.Snapshot{
		LastProcessedID: 9,
		Stats:           processor.Stats{Gaps: 2, Recovered: 3, Unavailable: 1, Lost: 4, Rejected: 5},
	}
	require.NoError(t, db.RecordDispatchLog(snap))

	var last, gaps, recovered, unavailable, lost, rejected int
	err := db.QueryRow(`SELECT last_processed_id, gaps, recovered, unavailable, lost, rejected FROM dispatch_log`).
		Scan(&last, &gaps, &recovered, &unavailable, &lost, &rejected)
	require.NoError(t, err)
	assert.Equal(t, []int{9, 2, 3, 1, 4, 5}, []int{last, gaps, recovered, unavailable, lost, rejected})
}

func TestRunMigrateCommand(t *testing.T) {
	path := filepath.Join(t.TempDir(), "cli.db")

	var out bytes.Buffer
	require.NoError(t, RunMigrateCommand([]string{"up"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 2")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"down"}, path, &out))
	assert.Contains(t, out.String(), "Current version: 1")

	out.Reset()
	require.NoError(t, RunMigrateCommand([]string{"status"}, path, &out))
	assert.Contains(t, out.String(), "dirty: false")

	err := RunMigrateCommand([]string{"sideways"}, path, &out)
	assert.ErrorIs(t, err, ErrUnknownMigrateAction)

	err = RunMigrateCommand([]string{"force"}, path, &out)
	assert.Error(t, err)

	err = RunMigrateCommand(nil, path, &out)
	assert.ErrorIs(t, err, ErrUnknownMigrateAction)
}

func TestAttachAdminRoutes(t *testing.T) {
	db, path := setupTestDB(t)
	require.NoError(t, db.RecordSample(processor.Sample{PacketID: 1, PresentValue: 1}))

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux, path))

	req := httptest.NewRequest(http.MethodGet, "/debug/backup", nil)
	req.RemoteAddr = "127.0.0.1:1234"
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/gzip", rec.Header().Get("Content-Type"))

	gz, err := gzip.NewReader(rec.Body)
	require.NoError(t, err)
	body, err := io.ReadAll(gz)
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(body, []byte("SQLite format 3")))
}

func epochPtr(e int64) *int64 { return &e }

func TestSeriesByStatus(t *testing.T) {
	samples := []StoredSample{
		{Status1: 2, Status2: 0, PresentValue: 4, Epoch: epochPtr(20)},
		{Status1: 1, Status2: 5, PresentValue: 2, Epoch: epochPtr(11)},
		{Status1: 1, Status2: 5, PresentValue: 1, Epoch: epochPtr(10)},
		{Status1: 1, Status2: 5, PresentValue: 9},
	}
	want := []StatusSeries{
		{Status1: 1, Status2: 5, Points: []SeriesPoint{{10, 1}, {11, 2}}},
		{Status1: 2, Status2: 0, Points: []SeriesPoint{{20, 4}}},
	}
	got := SeriesByStatus(samples)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("SeriesByStatus mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, "1/5", got[0].Label())
	assert.Empty(t, SeriesByStatus(nil))
}

func TestAttachAdminRoutes_SamplesChart(t *testing.T) {
	db, path := setupTestDB(t)
	store := NewSampleStore(db)
	for i := 0; i < 3; i++ {
		store.PostTimedSample(processor.Sample{PacketID: uint8(i + 1), Status1: 7, Status2: 3, PresentValue: float32(i), Epoch: int64(100 + i)})
	}

	mux := http.NewServeMux()
	require.NoError(t, db.AttachAdminRoutes(mux, path))

	get := func(target string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, target, nil)
		req.RemoteAddr = "127.0.0.1:1234"
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	rec := get("/debug/samples-chart?limit=10")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.True(t, strings.HasPrefix(rec.Header().Get("Content-Type"), "text/html"))
	body := rec.Body.String()
	assert.Contains(t, body, "TSPV present values")
	assert.Contains(t, body, "7/3")
	assert.Contains(t, body, "echarts")

	assert.Equal(t, http.StatusBadRequest, get("/debug/samples-chart?limit=x").Code)
}
