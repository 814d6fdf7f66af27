package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/metrics"
	"github.com/orvale/helpdesk/internal/models"
	"github.com/orvale/helpdesk/internal/notify"
	"github.com/orvale/helpdesk/internal/recovery"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func testDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("sql handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	if err := db.AutoMigrate(
		&models.ChatSession{},
		&models.StaffMember{},
		&models.SessionEvent{},
		&models.Ticket{},
		&models.RecoverySettings{},
	); err != nil {
		t.Fatalf("migrate test db: %v", err)
	}
	return db
}

type testEnv struct {
	db     *gorm.DB
	m      *recovery.Manager
	hub    *notify.Hub
	events *Broadcaster
	router *gin.Engine
}

func newTestEnv(t *testing.T, reload func(context.Context) error) *testEnv {
	t.Helper()
	db := testDB(t)
	hub := notify.NewHub()
	events := NewBroadcaster()
	s := recovery.DefaultSettings()
	m, err := recovery.New(recovery.Options{
		DB:        db,
		Publisher: notify.Fanout{hub, events},
		Settings:  &s,
	})
	if err != nil {
		t.Fatalf("recovery.New: %v", err)
	}
	router, err := NewRouter(StartOpts{
		DB:      db,
		Manager: m,
		Hub:     hub,
		Events:  events,
		Metrics: metrics.New("helpdesk_test"),
		Reload:  reload,
	})
	if err != nil {
		t.Fatalf("NewRouter: %v", err)
	}
	return &testEnv{db: db, m: m, hub: hub, events: events, router: router}
}

func (e *testEnv) do(method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) seed(t *testing.T, staffID, sessionID string) {
	t.Helper()
	if err := e.db.Create(&models.StaffMember{ID: staffID, Name: staffID, Status: chat.StaffOnline, MaxConcurrentChats: 3}).Error; err != nil {
		t.Fatal(err)
	}
	if sessionID == "" {
		return
	}
	if err := e.db.Create(&models.ChatSession{
		ID:                sessionID,
		Status:            chat.StatusActive,
		Priority:          "normal",
		AssignedStaffID:   staffID,
		ConnectionStatus:  chat.ConnConnected,
		LastGuestActivity: time.Now(),
	}).Error; err != nil {
		t.Fatal(err)
	}
}

func (e *testEnv) staffStatus(t *testing.T, staffID string) string {
	t.Helper()
	var s models.StaffMember
	if err := e.db.Where("id = ?", staffID).First(&s).Error; err != nil {
		t.Fatalf("staff %s: %v", staffID, err)
	}
	return s.Status
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestNewRouter_Validation(t *testing.T) {
	if _, err := NewRouter(StartOpts{}); err == nil || !strings.Contains(err.Error(), "db is required") {
		t.Errorf("err = %v, want db is required", err)
	}
	if _, err := NewRouter(StartOpts{DB: testDB(t)}); err == nil || !strings.Contains(err.Error(), "manager is required") {
		t.Errorf("err = %v, want manager is required", err)
	}
}

func TestStart_NilDB(t *testing.T) {
	err := Start(context.Background(), StartOpts{})
	if err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestHealth(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(http.MethodGet, "/healthz", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestHeartbeat_Records(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(http.MethodPost, "/api/staff/alice/heartbeat", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if _, ok := e.m.Store().LastHeartbeat("alice"); !ok {
		t.Error("heartbeat should be recorded")
	}
}

func TestDisconnectThenHeartbeatResumes(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")

	w := e.do(http.MethodPost, "/api/staff/alice/disconnect", `{"reason":"network"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("disconnect status = %d: %s", w.Code, w.Body.String())
	}
	var resp struct {
		Sessions []string `json:"sessions_in_recovery"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Sessions) != 1 || resp.Sessions[0] != "c1" {
		t.Errorf("sessions = %v, want [c1]", resp.Sessions)
	}
	if got := e.staffStatus(t, "alice"); got != chat.StaffOffline {
		t.Errorf("staff status = %s, want offline", got)
	}

	if w := e.do(http.MethodPost, "/api/staff/alice/heartbeat", ""); w.Code != http.StatusOK {
		t.Fatalf("heartbeat status = %d", w.Code)
	}
	if got := e.staffStatus(t, "alice"); got != chat.StaffOnline {
		t.Errorf("staff status = %s, want online", got)
	}
	s, err := chat.Get(context.Background(), e.db, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != chat.StatusActive || s.AssignedStaffID != "alice" {
		t.Errorf("session = %s/%s, want active/alice", s.Status, s.AssignedStaffID)
	}
}

func TestDisconnect_DefaultsAndValidation(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "")

	if w := e.do(http.MethodPost, "/api/staff/alice/disconnect", `{"reason":"teleported"}`); w.Code != http.StatusBadRequest {
		t.Errorf("unknown reason status = %d, want 400", w.Code)
	}
	w := e.do(http.MethodPost, "/api/staff/alice/disconnect", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if !strings.Contains(w.Body.String(), `"sessions_in_recovery":[]`) {
		t.Errorf("body = %s", w.Body.String())
	}
}

func TestGuestActivity(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")

	if w := e.do(http.MethodPost, "/api/sessions/ghost/activity", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown session status = %d, want 404", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/sessions/c1/activity", ""); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", w.Code)
	}
}

func TestEndSession(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"missing body", "/api/sessions/c1/end", "{}", http.StatusBadRequest},
		{"unknown reason", "/api/sessions/c1/end", `{"reason":"bored"}`, http.StatusBadRequest},
		{"unknown session", "/api/sessions/ghost/end", `{"reason":"abandoned"}`, http.StatusNotFound},
		{"ok", "/api/sessions/c1/end", `{"reason":"abandoned"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := e.do(http.MethodPost, tt.path, tt.body); w.Code != tt.want {
				t.Errorf("status = %d, want %d: %s", w.Code, tt.want, w.Body.String())
			}
		})
	}

	s, _ := chat.Get(context.Background(), e.db, "c1")
	if s.Status != chat.StatusAbandoned {
		t.Errorf("Status = %s, want abandoned", s.Status)
	}
}

func TestReassign(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")
	if err := e.db.Create(&models.StaffMember{ID: "bob", Status: chat.StaffOffline, MaxConcurrentChats: 3}).Error; err != nil {
		t.Fatal(err)
	}
	e.seed(t, "carol", "")
	e.do(http.MethodPost, "/api/staff/alice/disconnect", `{"reason":"network"}`)

	if w := e.do(http.MethodPost, "/api/sessions/c1/reassign", `{"staff_id":"bob"}`); w.Code != http.StatusConflict {
		t.Errorf("offline staff status = %d, want 409", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/sessions/c1/reassign", `{}`); w.Code != http.StatusBadRequest {
		t.Errorf("missing staff status = %d, want 400", w.Code)
	}
	if w := e.do(http.MethodPost, "/api/sessions/c1/reassign", `{"staff_id":"carol"}`); w.Code != http.StatusOK {
		t.Errorf("status = %d, want 200: %s", w.Code, w.Body.String())
	}
}

func TestReassign_ClosedSessionConflicts(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")
	if w := e.do(http.MethodPost, "/api/sessions/c1/end", `{"reason":"abandoned"}`); w.Code != http.StatusOK {
		t.Fatalf("end status = %d: %s", w.Code, w.Body.String())
	}

	if w := e.do(http.MethodPost, "/api/sessions/c1/reassign", `{"staff_id":"alice"}`); w.Code != http.StatusConflict {
		t.Errorf("reassign closed session status = %d, want 409", w.Code)
	}
	s, err := chat.Get(context.Background(), e.db, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != chat.StatusAbandoned {
		t.Errorf("Status = %s, want abandoned", s.Status)
	}
}

func TestRecoveries(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")
	e.do(http.MethodPost, "/api/staff/alice/disconnect", `{"reason":"browser_close"}`)

	w := e.do(http.MethodGet, "/api/recoveries", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp struct {
		Recoveries        []recovery.RecoveryData         `json:"recoveries"`
		DisconnectedStaff []recovery.StaffDisconnectEvent `json:"disconnected_staff"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Recoveries) != 1 || resp.Recoveries[0].SessionID != "c1" {
		t.Errorf("recoveries = %+v", resp.Recoveries)
	}
	if resp.Recoveries[0].DisconnectReason != recovery.ReasonBrowserClose {
		t.Errorf("reason = %s, want browser_close", resp.Recoveries[0].DisconnectReason)
	}
	if len(resp.DisconnectedStaff) != 1 || resp.DisconnectedStaff[0].StaffID != "alice" {
		t.Errorf("disconnected = %+v", resp.DisconnectedStaff)
	}
}

func TestSettingsAndReload(t *testing.T) {
	reloads := 0
	e := newTestEnv(t, func(context.Context) error {
		reloads++
		return nil
	})

	w := e.do(http.MethodGet, "/api/settings", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var got map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got["grace_period_seconds"] != float64(60) || got["requeue_position"] != "priority_boost" {
		t.Errorf("settings = %v", got)
	}

	if w := e.do(http.MethodPost, "/api/settings/reload", ""); w.Code != http.StatusOK {
		t.Fatalf("reload status = %d", w.Code)
	}
	if reloads != 1 {
		t.Errorf("reloads = %d, want 1", reloads)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	e := newTestEnv(t, nil)
	w := e.do(http.MethodGet, "/metrics", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "helpdesk_test_recovery_staff_heartbeats_total") {
		t.Error("recovery collectors missing from /metrics")
	}
}

func TestBroadcaster_FiltersRooms(t *testing.T) {
	b := NewBroadcaster()
	events, cancel := b.Subscribe()
	defer cancel()

	ctx := context.Background()
	b.Publish(ctx, notify.SessionRoom("c1"), notify.EventSessionEnded, map[string]string{})
	b.Publish(ctx, notify.ManagementRoom, notify.EventSessionEscalated, map[string]string{"session_id": "c1"})

	select {
	case env := <-events:
		if env.Event != notify.EventSessionEscalated || env.Room != notify.ManagementRoom {
			t.Errorf("env = %+v", env)
		}
	default:
		t.Fatal("expected the management event")
	}
	select {
	case env := <-events:
		t.Errorf("unexpected event %+v", env)
	default:
	}

	cancel()
	if b.Subscribers() != 0 {
		t.Error("cancel should unsubscribe")
	}
}

func TestSSE_StreamsEvents(t *testing.T) {
	e := newTestEnv(t, nil)
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/events", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET /api/events: %v", err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	lines := make(chan string, 16)
	go func() {
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			lines <- sc.Text()
		}
		close(lines)
	}()

	waitFor(t, func() bool { return e.events.Subscribers() == 1 })
	e.events.Publish(ctx, notify.ManagementRoom, notify.EventSessionEscalated, map[string]string{"session_id": "c1"})

	want := []string{"event: connected", "event: session_escalated"}
	timeout := time.After(2 * time.Second)
	for len(want) > 0 {
		select {
		case line, ok := <-lines:
			if !ok {
				t.Fatalf("stream closed, still waiting for %v", want)
			}
			if line == want[0] {
				want = want[1:]
			}
		case <-timeout:
			t.Fatalf("timed out waiting for %v", want)
		}
	}
}

func TestStaffSocket(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")
	if err := e.db.Model(&models.StaffMember{}).Where("id = ?", "alice").Update("status", chat.StaffOffline).Error; err != nil {
		t.Fatal(err)
	}
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/staff/alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	waitFor(t, func() bool { return e.hub.RoomSize(notify.StaffRoom("alice")) == 1 })
	if got := e.staffStatus(t, "alice"); got != chat.StaffOnline {
		t.Errorf("staff status = %s, want online", got)
	}
	if _, ok := e.m.Store().LastHeartbeat("alice"); !ok {
		t.Error("connecting should count as a heartbeat")
	}

	if err := conn.WriteJSON(map[string]any{"type": "going_offline", "data": map[string]string{"reason": "browser_close"}}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return e.m.Store().IsDisconnected("alice") })

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env notify.Envelope
	for {
		if err := conn.ReadJSON(&env); err != nil {
			t.Fatalf("read: %v", err)
		}
		if env.Event == notify.EventStaffDisconnected {
			break
		}
	}
}

func TestGuestSocket(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")
	srv := httptest.NewServer(e.router)
	defer srv.Close()
	base := "ws" + strings.TrimPrefix(srv.URL, "http")

	_, resp, err := websocket.DefaultDialer.Dial(base+"/ws/guest/ghost", nil)
	if err == nil {
		t.Fatal("dial to unknown session should fail")
	}
	if resp == nil || resp.StatusCode != http.StatusNotFound {
		t.Errorf("resp = %v, want 404", resp)
	}

	conn, _, err := websocket.DefaultDialer.Dial(base+"/ws/guest/c1", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return e.hub.RoomSize(notify.SessionRoom("c1")) == 1 })

	if _, err := e.m.HandleStaffDisconnection(context.Background(), "alice", []string{"c1"}, recovery.ReasonNetwork); err != nil {
		t.Fatal(err)
	}
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var env notify.Envelope
	if err := conn.ReadJSON(&env); err != nil {
		t.Fatalf("read: %v", err)
	}
	if env.Event != notify.EventStaffDisconnected || env.Room != notify.SessionRoom("c1") {
		t.Errorf("env = %+v", env)
	}
}

func TestStaffSocket_HeartbeatAfterGoingOfflineResumes(t *testing.T) {
	e := newTestEnv(t, nil)
	e.seed(t, "alice", "c1")
	srv := httptest.NewServer(e.router)
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/staff/alice", nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitFor(t, func() bool { return e.hub.RoomSize(notify.StaffRoom("alice")) == 1 })

	if err := conn.WriteJSON(map[string]any{"type": "going_offline"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return e.m.Store().IsDisconnected("alice") })

	if err := conn.WriteJSON(map[string]any{"type": "heartbeat"}); err != nil {
		t.Fatal(err)
	}
	waitFor(t, func() bool { return !e.m.Store().IsDisconnected("alice") })

	if got := e.staffStatus(t, "alice"); got != chat.StaffOnline {
		t.Errorf("staff status = %s, want online", got)
	}
	s, err := chat.Get(context.Background(), e.db, "c1")
	if err != nil {
		t.Fatal(err)
	}
	if s.Status != chat.StatusActive || s.AssignedStaffID != "alice" {
		t.Errorf("session = %s/%s, want active/alice", s.Status, s.AssignedStaffID)
	}
}
