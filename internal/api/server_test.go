package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/gmsas95/asit/internal/catalog"
	"github.com/gmsas95/asit/internal/config"
	"github.com/gmsas95/asit/internal/course"
	"github.com/gmsas95/asit/internal/courses"
	"github.com/gmsas95/asit/internal/intake"
	"github.com/gmsas95/asit/internal/metrics"
	"github.com/gmsas95/asit/internal/notify"
	"github.com/gmsas95/asit/internal/store"
	"github.com/gmsas95/asit/internal/transfer"
)

type fakeCenter struct {
	mu         sync.Mutex
	authorized bool
	pending    []notify.Request
}

func (f *fakeCenter) Authorized(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.authorized, nil
}

func (f *fakeCenter) SetAuthorized(ctx context.Context, granted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.authorized = granted
	return nil
}

func (f *fakeCenter) Pending(ctx context.Context) ([]notify.Request, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]notify.Request(nil), f.pending...), nil
}

func (f *fakeCenter) Delivered(ctx context.Context) ([]notify.Delivery, error) {
	return nil, nil
}

type fakeSyncer struct {
	mu    sync.Mutex
	calls int
}

func (f *fakeSyncer) SyncAll(ctx context.Context, list []*course.Course) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return nil
}

type testServer struct {
	server *Server
	mgr    *courses.Manager
	center *fakeCenter
	syncer *fakeSyncer
	now    time.Time
}

func setupTestServer(t *testing.T, mutate ...func(*config.Config)) *testServer {
	t.Helper()
	st, err := store.NewInMemory(time.UTC)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	logger := zap.NewNop()
	m := metrics.New()
	mgr, err := courses.NewManager(st, nil, m, logger)
	require.NoError(t, err)

	now := course.StartOfDay(time.Now().UTC()).Add(10 * time.Hour)
	clock := func() time.Time { return now }
	cat := catalog.Load("", logger)

	cfg := config.Default(t.TempDir())
	cfg.Server.RateLimit = 0
	for _, fn := range mutate {
		fn(cfg)
	}

	center := &fakeCenter{authorized: true}
	syncer := &fakeSyncer{}
	srv := New(Deps{
		Config:  cfg,
		Courses: mgr,
		Engine: intake.NewEngine(mgr, intake.Options{
			Catalog:  cat,
			Location: time.UTC,
			Metrics:  m,
			Now:      clock,
		}, logger),
		Codec:   transfer.New(time.UTC, clock),
		Catalog: cat,
		Center:  center,
		Syncer:  syncer,
		Metrics: m,
	}, logger)

	return &testServer{server: srv, mgr: mgr, center: center, syncer: syncer, now: now}
}

func (ts *testServer) do(t *testing.T, method, path string, body any) (*http.Response, []byte) {
	t.Helper()
	var reader io.Reader
	if body != nil {
		switch b := body.(type) {
		case []byte:
			reader = bytes.NewReader(b)
		default:
			data, err := json.Marshal(b)
			require.NoError(t, err)
			reader = bytes.NewReader(data)
		}
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ts.server.App().Test(req, -1)
	require.NoError(t, err)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, data
}

func (ts *testServer) createCourse(t *testing.T, medicationID string) course.Course {
	t.Helper()
	resp, body := ts.do(t, http.MethodPost, "/api/courses", map[string]any{
		"medicationId": medicationID,
		"takingYear":   0,
		"startDate":    course.DayKey(ts.now.AddDate(0, 0, -10)),
		"endDate":      course.DayKey(ts.now.AddDate(0, 0, 60)),
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var c course.Course
	require.NoError(t, json.Unmarshal(body, &c))
	return c
}

func TestHealth(t *testing.T) {
	ts := setupTestServer(t)
	resp, body := ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"status":"healthy"`)
}

func TestCourseLifecycle(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCourse(t, "staloral_birch_pollen")

	resp, body := ts.do(t, http.MethodGet, "/api/courses", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []course.Course
	require.NoError(t, json.Unmarshal(body, &list))
	require.Len(t, list, 1)

	resp, body = ts.do(t, http.MethodPut, "/api/courses/"+c.ID, map[string]any{"isPaused": true})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	var updated course.Course
	require.NoError(t, json.Unmarshal(body, &updated))
	assert.True(t, updated.IsPaused)
	assert.Equal(t, course.DayKey(c.StartDate), course.DayKey(updated.StartDate))

	resp, _ = ts.do(t, http.MethodPut, "/api/courses/"+c.ID, map[string]any{"medicationId": "grazax"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/courses/"+c.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, body = ts.do(t, http.MethodGet, "/api/courses/"+c.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, string(body), "COURSE_001")
}

func TestCreateCourse_Validation(t *testing.T) {
	ts := setupTestServer(t)

	resp, _ := ts.do(t, http.MethodPost, "/api/courses", map[string]any{
		"medicationId": "grazax",
		"startDate":    "2025-02-01",
		"endDate":      "2025-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/courses", map[string]any{
		"medicationId": "grazax",
		"startDate":    "yesterday",
		"endDate":      "2025-01-01",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestIntakeFlow(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCourse(t, "staloral_birch_pollen")
	yesterday := course.DayKey(ts.now.AddDate(0, 0, -1))

	resp, body := ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/confirm", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, string(body), "INTAKE_003")

	resp, body = ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/intakes", map[string]any{
		"date":      yesterday,
		"packageId": "bottle-10-ir",
		"dosage":    map[string]any{"type": "press", "amount": 3},
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = ts.do(t, http.MethodGet, "/api/courses/"+c.ID+"/status", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), string(intake.StatusPendingWithHistory))

	resp, body = ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/confirm", nil)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"created":true`)

	resp, body = ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/confirm", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"created":false`)

	resp, body = ts.do(t, http.MethodGet, "/api/days/today", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ov intake.DayOverview
	require.NoError(t, json.Unmarshal(body, &ov))
	assert.True(t, ov.AllTaken)

	resp, body = ts.do(t, http.MethodGet, "/api/courses/"+c.ID+"/prefill?date="+yesterday, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var p intake.Prefill
	require.NoError(t, json.Unmarshal(body, &p))
	assert.NotEmpty(t, p.ExistingIntakeID)
	assert.Equal(t, "bottle-10-ir", p.PackageID)

	resp, _ = ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/intakes", map[string]any{
		"date":      yesterday,
		"packageId": "bottle-10-ir",
		"dosage":    map[string]any{"type": "tablet", "amount": 1},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestReminderEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCourse(t, "grazax")

	resp, body := ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/reminders", map[string]any{"hour": 9, "minute": 0})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	var first course.Reminder
	require.NoError(t, json.Unmarshal(body, &first))
	assert.True(t, first.Active)

	resp, body = ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/reminders", map[string]any{"hour": 21, "minute": 30})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var second course.Reminder
	require.NoError(t, json.Unmarshal(body, &second))
	assert.False(t, second.Active)

	resp, _ = ts.do(t, http.MethodPost, "/api/courses/"+c.ID+"/reminders/"+second.ID+"/activate", nil)
	require.Equal(t, http.StatusNoContent, resp.StatusCode)

	stored, err := ts.mgr.Course(c.ID)
	require.NoError(t, err)
	active, ok := stored.ActiveReminder()
	require.True(t, ok)
	assert.Equal(t, second.ID, active.ID)

	resp, _ = ts.do(t, http.MethodPut, "/api/courses/"+c.ID+"/reminders/"+second.ID, map[string]any{"hour": 25, "minute": 0})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodDelete, "/api/courses/"+c.ID+"/reminders/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestExportImport(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCourse(t, "staloral_mites")

	resp, body := ts.do(t, http.MethodGet, "/api/courses/"+c.ID+"/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "staloral_mites_"+course.DayKey(ts.now)+".json")

	resp, imported := ts.do(t, http.MethodPost, "/api/courses/import", body)
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(imported))
	assert.Len(t, ts.mgr.Courses(), 2)

	newer := strings.Replace(string(body), `"version": 1`, `"version": 2`, 1)
	resp, errBody := ts.do(t, http.MethodPost, "/api/courses/import", []byte(newer))
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, string(errBody), "EXPORT_003")
	assert.Len(t, ts.mgr.Courses(), 2)

	resp, _ = ts.do(t, http.MethodPost, "/api/courses/import", []byte("{not json"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestNotificationEndpoints(t *testing.T) {
	ts := setupTestServer(t)
	c := ts.createCourse(t, "staloral_birch_pollen")
	_, err := ts.mgr.AddIntake(context.Background(), c.ID, course.NewIntake(ts.now.AddDate(0, 0, -1), c.MedicationID,
		"bottle-10-ir", catalog.Dosage{Type: catalog.DosagePress, Amount: 2}, ""))
	require.NoError(t, err)

	payload := map[string]any{"courseId": c.ID, "reminderId": "r1"}

	resp, body := ts.do(t, http.MethodPost, "/api/notifications/present", map[string]any{"payload": payload})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"present":true`)

	resp, body = ts.do(t, http.MethodPost, "/api/notifications/actions", map[string]any{
		"actionId": notify.ActionTaken,
		"payload":  payload,
	})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Contains(t, string(body), `"outcome":"logged"`)

	resp, body = ts.do(t, http.MethodPost, "/api/notifications/present", map[string]any{"payload": payload})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"present":false`)

	resp, _ = ts.do(t, http.MethodPost, "/api/notifications/actions", map[string]any{"payload": payload})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/notifications/sync", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPut, "/api/notifications/authorization", map[string]any{"authorized": false})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp, body = ts.do(t, http.MethodGet, "/api/notifications", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"authorized":false`)

	resp, _ = ts.do(t, http.MethodPut, "/api/notifications/authorization", map[string]any{"authorized": true})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// one explicit sync plus one after granting
	assert.Equal(t, 2, ts.syncer.calls)
}

func TestCatalogEndpoints(t *testing.T) {
	ts := setupTestServer(t)

	resp, body := ts.do(t, http.MethodGet, "/api/catalog/staloral_birch_pollen/packages/bottle-300-ir/dosages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var dosages []catalog.Dosage
	require.NoError(t, json.Unmarshal(body, &dosages))
	assert.Len(t, dosages, 4)

	resp, body = ts.do(t, http.MethodGet, "/api/catalog/unknown/packages", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.JSONEq(t, `[]`, string(body))
}

func TestRateLimit(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.RateLimit = 0.001
		cfg.Server.RateBurst = 1
	})

	resp, _ := ts.do(t, http.MethodGet, "/api/courses", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp, _ = ts.do(t, http.MethodGet, "/api/courses", nil)
	assert.Equal(t, http.StatusTooManyRequests, resp.StatusCode)

	// health is outside the limited group
	resp, _ = ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := setupTestServer(t)
	ts.createCourse(t, "grazax")

	resp, body := ts.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "asit_")
}

const testSecret = "a-long-enough-local-secret"

func TestAuth_TokenRequiredWhenSecretSet(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.JWTSecret = testSecret
		cfg.Server.Password = "hunter2"
	})

	resp, _ := ts.do(t, http.MethodGet, "/api/courses", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// health stays public
	resp, _ = ts.do(t, http.MethodGet, "/api/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	token, err := IssueToken(testSecret, time.Hour, time.Now())
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/courses", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err = ts.server.App().Test(req, -1)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodGet, "/api/courses?token="+token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	expired, err := IssueToken(testSecret, time.Hour, time.Now().Add(-2*time.Hour))
	require.NoError(t, err)
	resp, _ = ts.do(t, http.MethodGet, "/api/courses?token="+expired, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	forged, err := IssueToken("another-secret-of-enough-length", time.Hour, time.Now())
	require.NoError(t, err)
	resp, _ = ts.do(t, http.MethodGet, "/api/courses?token="+forged, nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestAuth_Login(t *testing.T) {
	ts := setupTestServer(t, func(cfg *config.Config) {
		cfg.Server.JWTSecret = testSecret
		cfg.Server.Password = "hunter2"
	})

	resp, _ := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "wrong"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "hunter2"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var out struct {
		Token string `json:"token"`
	}
	require.NoError(t, json.Unmarshal(body, &out))
	require.NotEmpty(t, out.Token)

	resp, _ = ts.do(t, http.MethodGet, "/api/courses?token="+out.Token, nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuth_DisabledWithoutSecret(t *testing.T) {
	ts := setupTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/api/courses", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, _ = ts.do(t, http.MethodPost, "/api/auth/login", map[string]string{"password": "x"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	_, err := IssueToken("", time.Hour, time.Now())
	assert.Error(t, err)
}

func TestEvents(t *testing.T) {
	ts := setupTestServer(t)

	resp, _ := ts.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)

	c := ts.createCourse(t, "staloral_birch_pollen")
	ev := ts.server.event("courses", ts.mgr.Snapshot())
	assert.Equal(t, "courses", ev.Type)
	assert.Equal(t, 1, ev.Courses)
	assert.NotZero(t, ev.Version)
	require.Len(t, ev.Today.Entries, 1)
	assert.Equal(t, c.ID, ev.Today.Entries[0].Course.ID)
	assert.Equal(t, intake.StatusPendingNoHistory, ev.Today.Entries[0].Status)
}
