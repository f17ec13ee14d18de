package app

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/ai"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/authpw"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/blob"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/config"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/response"
	"github.com/Om-Rajasekharan/ConstructionEstimator/internal/store"
)

type fakeData struct {
	mu       sync.Mutex
	users    map[string]store.User
	byEmail  map[string]string
	projects map[string]store.Project

	getProjectFn func(ctx context.Context, projectID string) (store.Project, error)
}

func newFakeData() *fakeData {
	return &fakeData{
		users:    make(map[string]store.User),
		byEmail:  make(map[string]string),
		projects: make(map[string]store.Project),
	}
}

func (f *fakeData) Ping(context.Context) error { return nil }

func (f *fakeData) GetUserByID(_ context.Context, userID string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return user, nil
}

func (f *fakeData) GetUserByEmail(_ context.Context, email string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byEmail[email]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	return f.users[id], nil
}

func (f *fakeData) CreateUser(_ context.Context, user store.User) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[user.ID] = user
	f.byEmail[user.Email] = user.ID
	return nil
}

func (f *fakeData) UpdateUserProfile(_ context.Context, userID, name, company string) (store.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	user, ok := f.users[userID]
	if !ok {
		return store.User{}, sql.ErrNoRows
	}
	user.Name = name
	user.Company = company
	f.users[userID] = user
	return user, nil
}

func (f *fakeData) CreateProject(_ context.Context, project store.Project) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.projects[project.ID] = project
	return nil
}

func (f *fakeData) GetProject(ctx context.Context, projectID string) (store.Project, error) {
	if f.getProjectFn != nil {
		return f.getProjectFn(ctx, projectID)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return store.Project{}, sql.ErrNoRows
	}
	return project, nil
}

func (f *fakeData) ListProjectsByOwner(_ context.Context, ownerID string) ([]store.Project, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []store.Project
	for _, project := range f.projects {
		if project.OwnerID == ownerID {
			out = append(out, project)
		}
	}
	return out, nil
}

func (f *fakeData) SetProjectAIResponsePath(_ context.Context, projectID, path string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	project.AIResponsePath = path
	f.projects[projectID] = project
	return nil
}

func (f *fakeData) AddProjectFile(_ context.Context, projectID string, file store.ProjectFile) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	project, ok := f.projects[projectID]
	if !ok {
		return sql.ErrNoRows
	}
	project.Files = append(project.Files, file)
	f.projects[projectID] = project
	return nil
}

type fakeSessions struct {
	mu     sync.Mutex
	tokens map[string]string
}

func newFakeSessions() *fakeSessions {
	return &fakeSessions{tokens: make(map[string]string)}
}

func (f *fakeSessions) Save(_ context.Context, tokenHash, userID string, _ time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tokens[tokenHash] = userID
	return nil
}

func (f *fakeSessions) Lookup(_ context.Context, tokenHash string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	userID, ok := f.tokens[tokenHash]
	if !ok {
		return "", sql.ErrNoRows
	}
	return userID, nil
}

func (f *fakeSessions) Revoke(_ context.Context, tokenHash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.tokens, tokenHash)
	return nil
}

type fakeInvoker struct {
	invokeFn func(ctx context.Context, prompt, contextFile string) (ai.Result, error)
}

func (f *fakeInvoker) Invoke(ctx context.Context, prompt, contextFile string) (ai.Result, error) {
	if f.invokeFn != nil {
		return f.invokeFn(ctx, prompt, contextFile)
	}
	return ai.Result{Content: "ok"}, nil
}

type testEnv struct {
	data     *fakeData
	blobs    *blob.MemoryStore
	invoker  *fakeInvoker
	service  *Service
	handler  http.Handler
	sessions *fakeSessions
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	cfg := config.Config{
		JWTSecret:    "test_secret",
		AccessTTL:    time.Hour,
		RefreshTTL:   24 * time.Hour,
		AskTimeout:   5 * time.Second,
		SignedURLTTL: time.Hour,
		CORSOrigin:   "*",
	}
	data := newFakeData()
	blobs := blob.NewMemoryStore()
	invoker := &fakeInvoker{}
	sessions := newFakeSessions()
	responses := response.NewStore(blobs, nil, nil)
	passwords := authpw.NewService(data)
	service := New(cfg, data, blobs, responses, invoker, sessions, passwords, nil)
	server := NewHTTPServer(service, cfg.CORSOrigin, nil)
	return &testEnv{
		data:     data,
		blobs:    blobs,
		invoker:  invoker,
		service:  service,
		handler:  server.Handler(),
		sessions: sessions,
	}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(encoded)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	recorder := httptest.NewRecorder()
	e.handler.ServeHTTP(recorder, req)
	return recorder
}

func decodeJSON(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("decode response %q: %v", recorder.Body.String(), err)
	}
	return payload
}

// signUp registers a user through the API and returns the access token
// and user ID.
func (e *testEnv) signUp(t *testing.T, email string) (string, string) {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    email,
		"password": "hunter2hunter2",
		"name":     "Test User",
	})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("signup status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	return payload["accessToken"].(string), payload["userId"].(string)
}

func (e *testEnv) createProject(t *testing.T, token, name string) string {
	t.Helper()
	recorder := e.do(t, http.MethodPost, "/api/projects", token, map[string]any{"name": name})
	if recorder.Code != http.StatusCreated {
		t.Fatalf("create project status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	project := payload["project"].(map[string]any)
	return project["id"].(string)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodGet, "/api/health", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
}

func TestReady(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodGet, "/api/ready", "", nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestSignUpAndSignIn(t *testing.T) {
	env := newTestEnv(t)
	token, userID := env.signUp(t, "a@example.com")
	if token == "" || userID == "" {
		t.Fatalf("empty token or user id")
	}

	recorder := env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "a@example.com",
		"password": "hunter2hunter2",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("signin status %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = env.do(t, http.MethodPost, "/api/auth/signin", "", map[string]any{
		"email":    "a@example.com",
		"password": "wrong-password",
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for bad password, got %d", recorder.Code)
	}
}

func TestSignUpDuplicateEmail(t *testing.T) {
	env := newTestEnv(t)
	env.signUp(t, "a@example.com")
	recorder := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    "a@example.com",
		"password": "hunter2hunter2",
	})
	if recorder.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d", recorder.Code)
	}
}

func TestRefreshRotatesToken(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodPost, "/api/auth/signup", "", map[string]any{
		"email":    "a@example.com",
		"password": "hunter2hunter2",
	})
	payload := decodeJSON(t, recorder)
	refreshToken := payload["refreshToken"].(string)

	recorder = env.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("refresh status %d: %s", recorder.Code, recorder.Body.String())
	}

	// The old token must be dead after rotation.
	recorder = env.do(t, http.MethodPost, "/api/auth/refresh", "", map[string]any{
		"refreshToken": refreshToken,
	})
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 on replayed refresh token, got %d", recorder.Code)
	}
}

func TestRequiresAuth(t *testing.T) {
	env := newTestEnv(t)
	recorder := env.do(t, http.MethodGet, "/api/projects", "", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", recorder.Code)
	}
	recorder = env.do(t, http.MethodGet, "/api/projects", "not-a-jwt", nil)
	if recorder.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for garbage token, got %d", recorder.Code)
	}
}

func TestCompleteProfileAndMe(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")

	recorder := env.do(t, http.MethodPost, "/api/auth/complete-profile", token, map[string]any{
		"name":    "Ada",
		"company": "Builders Inc",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("complete-profile status %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = env.do(t, http.MethodGet, "/api/auth/me", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("me status %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	if payload["company"] != "Builders Inc" {
		t.Fatalf("expected company in profile, got %v", payload)
	}
}

func TestProjectLifecycle(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")

	projectID := env.createProject(t, token, "Warehouse")

	recorder := env.do(t, http.MethodGet, "/api/projects", token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("list status %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	projects := payload["projects"].([]any)
	if len(projects) != 1 {
		t.Fatalf("expected 1 project, got %d", len(projects))
	}

	recorder = env.do(t, http.MethodGet, "/api/projects/"+projectID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get status %d: %s", recorder.Code, recorder.Body.String())
	}
}

func TestProjectCreateRequiresName(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	recorder := env.do(t, http.MethodPost, "/api/projects", token, map[string]any{"name": "  "})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
}

func TestProjectIsolationBetweenOwners(t *testing.T) {
	env := newTestEnv(t)
	ownerToken, _ := env.signUp(t, "owner@example.com")
	otherToken, _ := env.signUp(t, "other@example.com")

	projectID := env.createProject(t, ownerToken, "Warehouse")

	recorder := env.do(t, http.MethodGet, "/api/projects/"+projectID, otherToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("foreign project should read as 404, got %d", recorder.Code)
	}
	recorder = env.do(t, http.MethodGet, "/api/response/"+projectID, otherToken, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("foreign response should read as 404, got %d", recorder.Code)
	}
}

func TestResponseSkeletonWhenAbsent(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	projectID := env.createProject(t, token, "Warehouse")

	recorder := env.do(t, http.MethodGet, "/api/response/"+projectID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get response status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	document := payload["document"].(map[string]any)
	conversation, ok := document["conversation"].([]any)
	if !ok || len(conversation) != 0 {
		t.Fatalf("expected empty conversation, got %v", document)
	}
}

func TestEditResponseFlow(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	projectID := env.createProject(t, token, "Warehouse")

	recorder := env.do(t, http.MethodPost, "/api/response/"+projectID, token, map[string]any{
		"question": "How much concrete?",
		"answer":   "About 40 cubic yards.\n```json\n{\"materials\": {\"concrete\": 40}}\n```",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("edit status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	document := payload["document"].(map[string]any)
	conversation := document["conversation"].([]any)
	if len(conversation) != 1 {
		t.Fatalf("expected 1 conversation entry, got %d", len(conversation))
	}
	answerJSON := document["answer_json"].(map[string]any)
	if _, ok := answerJSON["materials"]; !ok {
		t.Fatalf("expected materials section, got %v", answerJSON)
	}

	// A later patch merges instead of replacing.
	recorder = env.do(t, http.MethodPost, "/api/response/"+projectID, token, map[string]any{
		"answer_json": map[string]any{"labor": map[string]any{"hours": 12}},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("patch status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload = decodeJSON(t, recorder)
	document = payload["document"].(map[string]any)
	answerJSON = document["answer_json"].(map[string]any)
	if _, ok := answerJSON["materials"]; !ok {
		t.Fatalf("patch must not drop existing sections, got %v", answerJSON)
	}
	if _, ok := answerJSON["labor"]; !ok {
		t.Fatalf("patch must add new sections, got %v", answerJSON)
	}
}

func TestAskAppendsConversation(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	projectID := env.createProject(t, token, "Warehouse")

	env.invoker.invokeFn = func(_ context.Context, prompt, contextFile string) (ai.Result, error) {
		if contextFile == "" {
			t.Fatalf("expected a context file path")
		}
		return ai.Result{Content: "Total comes to $12,000.\n```json\n{\"total_bid\": 12000}\n```"}, nil
	}

	recorder := env.do(t, http.MethodPost, "/api/conversation/ask", token, map[string]any{
		"projectId": projectID,
		"prompt":    "What is the total?",
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("ask status %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	if payload["content"] != "Total comes to $12,000.\n```json\n{\"total_bid\": 12000}\n```" {
		t.Fatalf("unexpected content %v", payload["content"])
	}
	conversation := payload["conversation"].([]any)
	if len(conversation) != 1 {
		t.Fatalf("expected 1 conversation entry, got %d", len(conversation))
	}

	// The structured block landed in the persisted document.
	recorder = env.do(t, http.MethodGet, "/api/response/"+projectID, token, nil)
	document := decodeJSON(t, recorder)["document"].(map[string]any)
	answerJSON := document["answer_json"].(map[string]any)
	if answerJSON["total_bid"] != float64(12000) {
		t.Fatalf("expected total_bid persisted, got %v", answerJSON)
	}
}

func TestAskAIFailure(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	projectID := env.createProject(t, token, "Warehouse")

	env.invoker.invokeFn = func(context.Context, string, string) (ai.Result, error) {
		return ai.Result{}, ai.ErrInvocationFailed
	}

	recorder := env.do(t, http.MethodPost, "/api/conversation/ask", token, map[string]any{
		"projectId": projectID,
		"prompt":    "What is the total?",
	})
	if recorder.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d: %s", recorder.Code, recorder.Body.String())
	}
	payload := decodeJSON(t, recorder)
	if payload["code"] != "AI_FAILED" {
		t.Fatalf("expected AI_FAILED code, got %v", payload)
	}

	// A failed call must leave no trace in the transcript.
	recorder = env.do(t, http.MethodGet, "/api/response/"+projectID, token, nil)
	document := decodeJSON(t, recorder)["document"].(map[string]any)
	conversation := document["conversation"].([]any)
	if len(conversation) != 0 {
		t.Fatalf("failed ask must not append, got %v", conversation)
	}
}

func TestAskRequiresPrompt(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	projectID := env.createProject(t, token, "Warehouse")

	recorder := env.do(t, http.MethodPost, "/api/conversation/ask", token, map[string]any{
		"projectId": projectID,
		"prompt":    "   ",
	})
	if recorder.Code != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", recorder.Code)
	}
}

func TestEstimationTableRoundTrip(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	projectID := env.createProject(t, token, "Warehouse")

	recorder := env.do(t, http.MethodGet, "/api/estimation/"+projectID, token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404 before first save, got %d", recorder.Code)
	}

	recorder = env.do(t, http.MethodPut, "/api/estimation/"+projectID, token, map[string]any{
		"rows": []any{map[string]any{"item": "concrete", "cost": 4000}},
	})
	if recorder.Code != http.StatusOK {
		t.Fatalf("put status %d: %s", recorder.Code, recorder.Body.String())
	}

	recorder = env.do(t, http.MethodGet, "/api/estimation/"+projectID, token, nil)
	if recorder.Code != http.StatusOK {
		t.Fatalf("get status %d", recorder.Code)
	}
	payload := decodeJSON(t, recorder)
	rows := payload["rows"].([]any)
	if len(rows) != 1 {
		t.Fatalf("expected saved rows back, got %v", payload)
	}
}

func TestUnknownRouteIs404(t *testing.T) {
	env := newTestEnv(t)
	token, _ := env.signUp(t, "a@example.com")
	recorder := env.do(t, http.MethodGet, "/api/nope", token, nil)
	if recorder.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", recorder.Code)
	}
}
