package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/waymark-labs/waymark/internal/auth"
	"github.com/waymark-labs/waymark/internal/kakao"
	"github.com/waymark-labs/waymark/internal/llm"
	"github.com/waymark-labs/waymark/internal/metrics"
	"github.com/waymark-labs/waymark/internal/roadmap"
	"github.com/waymark-labs/waymark/internal/store"
	storesqlite "github.com/waymark-labs/waymark/internal/store/sqlite"
	"github.com/waymark-labs/waymark/internal/usage"
	usagesqlite "github.com/waymark-labs/waymark/internal/usage/sqlite"
)

const testPlanJSON = `{
  "title": "Backend Developer",
  "description": "A staged path into backend work.",
  "steps": [
    {"step": 1, "title": "Learn HTTP", "description": "Protocol basics.", "tags": ["http"]},
    {"step": 2, "title": "Learn SQL", "description": "Schema design.", "tags": ["sql"]}
  ]
}`

const testResourcesJSON = `{
  "learning_resources": [
    {"url": ["https://go.dev/doc", "https://go.dev/tour"], "resource_type": "official_documentation"},
    {"url": ["https://example.com/sql-book"], "resource_type": "book"}
  ]
}`

type kakaoStub struct{}

func (kakaoStub) Do(req *http.Request) (*http.Response, error) {
	respond := func(status int, body string) *http.Response {
		return &http.Response{
			StatusCode: status,
			Header:     http.Header{"Content-Type": []string{"application/json"}},
			Body:       io.NopCloser(strings.NewReader(body)),
		}
	}
	switch req.URL.Path {
	case "/oauth/token":
		return respond(http.StatusOK, `{"access_token":"kakao-access","token_type":"bearer","expires_in":3600}`), nil
	case "/v2/user/me":
		return respond(http.StatusOK, `{"id":9002,"properties":{"nickname":"kai","profile_image":""}}`), nil
	default:
		return respond(http.StatusNotFound, `{}`), nil
	}
}

type testEnv struct {
	srv   *Server
	store store.Store
	usage usage.Store
	src   *llm.Scripted
	user  *store.User
	token string
}

func newTestEnv(t *testing.T, src *llm.Scripted) *testEnv {
	t.Helper()

	st, err := storesqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	us, err := usagesqlite.New(":memory:")
	if err != nil {
		t.Fatalf("open usage store: %v", err)
	}
	t.Cleanup(func() { us.Close() })

	svc, err := roadmap.New(roadmap.Config{
		Store:           st,
		Source:          src,
		Usage:           us,
		Logger:          log.New(io.Discard, "", 0),
		GenerateTimeout: 5 * time.Second,
	})
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	authManager := auth.NewManager("test-secret", time.Hour)
	kakaoClient, err := kakao.NewClient(kakao.Config{
		ClientID:    "test-client",
		RedirectURI: "http://localhost/oauth/kakao/callback",
	}, kakaoStub{})
	if err != nil {
		t.Fatalf("new kakao client: %v", err)
	}

	user, err := st.UpsertKakaoUser(context.Background(), 9001, "mina", "https://img.example/mina.png")
	if err != nil {
		t.Fatalf("seed user: %v", err)
	}
	token, err := authManager.IssueToken(auth.Claims{
		UserUID:      user.UID,
		Nickname:     user.Nickname,
		ProfileImage: user.ProfileImage,
	})
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	srv := New(Config{
		Service:             svc,
		Store:               st,
		Usage:               us,
		Auth:                authManager,
		Kakao:               kakaoClient,
		Metrics:             metrics.NewCollector(),
		DefaultProfileImage: "https://img.example/default.png",
		Logger:              log.New(io.Discard, "", 0),
	})
	return &testEnv{srv: srv, store: st, usage: us, src: src, user: user, token: token}
}

func (e *testEnv) request(t *testing.T, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, target, rd)
	req.AddCookie(&http.Cookie{Name: "waymark_session", Value: e.token})
	rec := httptest.NewRecorder()
	e.srv.Router().ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) seedRoadmap(t *testing.T) *store.RoadmapDetail {
	t.Helper()
	rm, err := e.store.CreateRoadmap(context.Background(), e.user.ID, store.NewRoadmap{
		Title: "Backend Developer",
		Steps: []store.NewStep{
			{Number: 1, Title: "Learn HTTP", Description: "Protocol basics.", Tags: []string{"http"}},
			{Number: 2, Title: "Learn SQL", Description: "Schema design.", Tags: []string{"sql"}},
		},
	}, "")
	if err != nil {
		t.Fatalf("seed roadmap: %v", err)
	}
	detail, err := e.store.RoadmapDetail(context.Background(), rm.UID)
	if err != nil {
		t.Fatalf("seed detail: %v", err)
	}
	return detail
}

func (e *testEnv) waitForGuide(t *testing.T, stepUID string) string {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for {
		step, _, err := e.store.StepByUID(context.Background(), stepUID)
		if err != nil {
			t.Fatalf("step lookup: %v", err)
		}
		if step.Guide != "" {
			return step.Guide
		}
		if time.Now().After(deadline) {
			t.Fatalf("guide was never persisted")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
}

func TestSessionRequired(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted())

	req := httptest.NewRequest(http.MethodGet, "/roadmap", nil)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/roadmap", nil)
	req.AddCookie(&http.Cookie{Name: "waymark_session", Value: "not-a-token"})
	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", rec.Code)
	}
}

func TestBearerHeaderSession(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted())

	req := httptest.NewRequest(http.MethodGet, "/oauth/me", nil)
	req.Header.Set("Authorization", "Bearer "+env.token)
	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]string
	decodeBody(t, rec, &payload)
	if payload["id"] != env.user.UID {
		t.Fatalf("unexpected me payload %#v", payload)
	}
	if payload["nickname"] != "mina" {
		t.Fatalf("unexpected nickname %q", payload["nickname"])
	}
}

func TestKakaoLoginFlow(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted())

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/kakao/login", nil))
	if rec.Code != http.StatusTemporaryRedirect {
		t.Fatalf("expected 307, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); !strings.Contains(loc, "client_id=test-client") {
		t.Fatalf("unexpected redirect target %q", loc)
	}

	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/kakao/callback", nil))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without code, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/oauth/kakao/callback?code=abc", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var payload map[string]any
	decodeBody(t, rec, &payload)
	accessToken, _ := payload["access_token"].(string)
	if accessToken == "" {
		t.Fatalf("expected session token in payload %#v", payload)
	}
	if payload["nickname"] != "kai" {
		t.Fatalf("unexpected nickname %v", payload["nickname"])
	}
	if payload["profile_image"] != "https://img.example/default.png" {
		t.Fatalf("expected default profile image, got %v", payload["profile_image"])
	}
	var sessionCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == "waymark_session" {
			sessionCookie = c
		}
	}
	if sessionCookie == nil || sessionCookie.Value != accessToken {
		t.Fatalf("expected session cookie matching token")
	}

	req := httptest.NewRequest(http.MethodGet, "/oauth/me", nil)
	req.Header.Set("Authorization", "Bearer "+accessToken)
	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with issued token, got %d", rec.Code)
	}
}

func TestProfileRoundTrip(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted())

	rec := env.request(t, http.MethodGet, "/oauth/me/profile", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var before map[string]string
	decodeBody(t, rec, &before)
	if before["bio"] != "" {
		t.Fatalf("expected empty bio, got %q", before["bio"])
	}

	rec = env.request(t, http.MethodPut, "/oauth/me/profile", map[string]string{"profile": "Learning backend development."})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/oauth/me/profile", nil)
	var after map[string]string
	decodeBody(t, rec, &after)
	if after["bio"] != "Learning backend development." {
		t.Fatalf("unexpected bio %q", after["bio"])
	}
}

func TestCreateRoadmapEndpoint(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted(testPlanJSON))

	rec := env.request(t, http.MethodPost, "/roadmap", map[string]string{
		"target_job": "Backend Developer",
		"instruct":   "Focus on Go and PostgreSQL.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	decodeBody(t, rec, &created)
	if created["id"] == "" {
		t.Fatalf("expected roadmap id, got %#v", created)
	}

	rec = env.request(t, http.MethodGet, "/roadmap", nil)
	var list struct {
		Roadmaps []roadmapJSON `json:"roadmaps"`
	}
	decodeBody(t, rec, &list)
	if len(list.Roadmaps) != 1 || list.Roadmaps[0].Title != "Backend Developer" {
		t.Fatalf("unexpected roadmap list %#v", list.Roadmaps)
	}

	rec = env.request(t, http.MethodGet, "/roadmap/"+created["id"], nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var detail struct {
		Title string     `json:"title"`
		Steps []stepJSON `json:"steps"`
	}
	decodeBody(t, rec, &detail)
	if len(detail.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %#v", detail.Steps)
	}
	if detail.Steps[0].Number != 1 || detail.Steps[0].Title != "Learn HTTP" {
		t.Fatalf("unexpected first step %#v", detail.Steps[0])
	}
	if len(detail.Steps[0].Tags) != 1 || detail.Steps[0].Tags[0] != "http" {
		t.Fatalf("unexpected tags %#v", detail.Steps[0].Tags)
	}
	if detail.Steps[0].HasGuide {
		t.Fatalf("expected no guide on a fresh step")
	}

	rec = env.request(t, http.MethodGet, "/roadmap/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/roadmap", map[string]string{"target_job": "", "instruct": "x"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for empty target job, got %d", rec.Code)
	}
}

func TestBookmarkEndpoints(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted())
	detail := env.seedRoadmap(t)
	stepUID := detail.Steps[0].UID

	rec := env.request(t, http.MethodPost, "/roadmap/step/"+stepUID+"/bookmark", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var toggled map[string]bool
	decodeBody(t, rec, &toggled)
	if !toggled["is_bookmarked"] {
		t.Fatalf("expected bookmark on, got %#v", toggled)
	}

	rec = env.request(t, http.MethodGet, "/roadmap/bookmarks", nil)
	var list struct {
		Steps []bookmarkJSON `json:"steps"`
	}
	decodeBody(t, rec, &list)
	if len(list.Steps) != 1 || list.Steps[0].ID != stepUID {
		t.Fatalf("unexpected bookmark list %#v", list.Steps)
	}
	if list.Steps[0].RoadmapTitle != "Backend Developer" {
		t.Fatalf("unexpected roadmap title %q", list.Steps[0].RoadmapTitle)
	}

	rec = env.request(t, http.MethodPost, "/roadmap/step/"+stepUID+"/bookmark", nil)
	decodeBody(t, rec, &toggled)
	if toggled["is_bookmarked"] {
		t.Fatalf("expected bookmark off after second toggle")
	}

	rec = env.request(t, http.MethodPost, "/roadmap/step/unknown/bookmark", nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestResourceEndpoints(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted(testResourcesJSON))
	detail := env.seedRoadmap(t)
	stepUID := detail.Steps[0].UID

	rec := env.request(t, http.MethodGet, "/roadmap/step/"+stepUID+"/resources", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var list struct {
		Resources []resourceJSON `json:"resources"`
	}
	decodeBody(t, rec, &list)
	if len(list.Resources) != 3 {
		t.Fatalf("expected 3 recommended resources, got %#v", list.Resources)
	}
	if env.src.CallCount() != 1 {
		t.Fatalf("expected one source call, got %d", env.src.CallCount())
	}

	rec = env.request(t, http.MethodGet, "/roadmap/step/"+stepUID+"/resources", nil)
	decodeBody(t, rec, &list)
	if len(list.Resources) != 3 || env.src.CallCount() != 1 {
		t.Fatalf("expected cached resources without a second call, got %d calls", env.src.CallCount())
	}

	rec = env.request(t, http.MethodPost, "/roadmap/step/"+stepUID+"/resources", map[string]string{"url": "not a url"})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid url, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodPost, "/roadmap/step/"+stepUID+"/resources", map[string]string{"url": "https://go.dev/blog"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var added resourceJSON
	decodeBody(t, rec, &added)
	if added.ID == "" || added.URL != "https://go.dev/blog" {
		t.Fatalf("unexpected added resource %#v", added)
	}

	rec = env.request(t, http.MethodDelete, "/roadmap/step/resources/"+added.ID, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	rec = env.request(t, http.MethodDelete, "/roadmap/step/resources/"+added.ID, nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for a removed resource, got %d", rec.Code)
	}
}

func TestSubroadmapEndpoint(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted(testPlanJSON))
	detail := env.seedRoadmap(t)
	stepUID := detail.Steps[1].UID

	rec := env.request(t, http.MethodPost, "/roadmap/step/"+stepUID+"/subroadmap", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	decodeBody(t, rec, &created)
	if created["id"] == "" {
		t.Fatalf("expected sub-roadmap id")
	}

	rec = env.request(t, http.MethodGet, "/roadmap/"+detail.UID, nil)
	var parent struct {
		Steps []stepJSON `json:"steps"`
	}
	decodeBody(t, rec, &parent)
	if parent.Steps[1].SubRoadmapID != created["id"] {
		t.Fatalf("expected step linked to %q, got %#v", created["id"], parent.Steps[1])
	}

	rec = env.request(t, http.MethodPost, "/roadmap/step/"+stepUID+"/subroadmap", nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("expected 409 for second sub-roadmap, got %d", rec.Code)
	}
}

func TestUsageEndpoints(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted(testPlanJSON))

	rec := env.request(t, http.MethodPost, "/roadmap", map[string]string{
		"target_job": "Backend Developer",
		"instruct":   "Focus on Go.",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	rec = env.request(t, http.MethodGet, "/usage/summary", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var summary struct {
		Summary []usage.KindSummary `json:"summary"`
	}
	decodeBody(t, rec, &summary)
	if len(summary.Summary) != 1 || summary.Summary[0].Kind != usage.KindRoadmap {
		t.Fatalf("unexpected summary %#v", summary.Summary)
	}
	if summary.Summary[0].Generations != 1 {
		t.Fatalf("expected one generation, got %#v", summary.Summary[0])
	}

	rec = env.request(t, http.MethodGet, "/usage/logs?limit=5", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var logs struct {
		Logs []usage.Entry `json:"logs"`
	}
	decodeBody(t, rec, &logs)
	if len(logs.Logs) != 1 || logs.Logs[0].Kind != usage.KindRoadmap {
		t.Fatalf("unexpected logs %#v", logs.Logs)
	}

	rec = env.request(t, http.MethodGet, "/usage/logs?limit=0", nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for limit 0, got %d", rec.Code)
	}
}

func TestHealthzAndMetrics(t *testing.T) {
	env := newTestEnv(t, llm.NewScripted())

	rec := httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var payload map[string]any
	decodeBody(t, rec, &payload)
	if payload["status"] != "ok" {
		t.Fatalf("unexpected health payload %#v", payload)
	}

	rec = httptest.NewRecorder()
	env.srv.Router().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "waymark_uptime_seconds") {
		t.Fatalf("expected uptime metric, got %q", body)
	}
	if !strings.Contains(body, `waymark_requests_total{endpoint="GET /healthz"}`) {
		t.Fatalf("expected request counter for /healthz, got %q", body)
	}
}
