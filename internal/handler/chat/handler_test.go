package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ai-workbench/backend/internal/auth"
	"github.com/zhouzirui/ai-workbench/backend/internal/logging"
	"github.com/zhouzirui/ai-workbench/backend/internal/middleware"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	chatservice "github.com/zhouzirui/ai-workbench/backend/internal/service/chat"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/title"
	"github.com/zhouzirui/ai-workbench/backend/internal/store/memory"
)

type echoCompleter struct {
	replyErr error
}

func (c echoCompleter) GenerateReply(_ context.Context, history []chat.Message) (string, error) {
	if c.replyErr != nil {
		return "", c.replyErr
	}
	return "Echo: " + history[len(history)-1].Content, nil
}

func (c echoCompleter) GenerateTitle(context.Context, string) (string, error) {
	return "", errors.New("titles disabled in handler tests")
}

type testEnv struct {
	router   *chi.Mux
	verifier *auth.Verifier
}

func setupRouter(t *testing.T, completer echoCompleter) testEnv {
	t.Helper()
	st := memory.New()
	for _, subject := range []string{"user_alice", "user_bob"} {
		if _, err := st.UpsertAccount(context.Background(), user.Account{Subject: subject}); err != nil {
			t.Fatalf("UpsertAccount err: %v", err)
		}
	}

	log := logging.Discard()
	titles := title.NewManager(completer, st, title.NewBroker(), title.Options{Disabled: true}, log)
	chatSvc := chatservice.NewService(st, completer, titles, chatservice.Options{}, log)
	verifier := auth.NewVerifier("handler-test-secret", "ai-workbench")

	r := chi.NewRouter()
	r.Use(middleware.Authenticate(verifier, log))
	New(chatSvc, log).RegisterRoutes(r)
	return testEnv{router: r, verifier: verifier}
}

func (e testEnv) token(t *testing.T, subject string) string {
	t.Helper()
	token, err := e.verifier.IssueToken(user.Identity{Subject: subject}, time.Hour)
	if err != nil {
		t.Fatalf("IssueToken err: %v", err)
	}
	return token
}

func (e testEnv) do(t *testing.T, method, target, token string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	e.router.ServeHTTP(resp, req)
	return resp
}

func decode[T any](t *testing.T, resp *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", resp.Body.String(), err)
	}
	return out
}

func TestChatTurnCreatesSession(t *testing.T) {
	env := setupRouter(t, echoCompleter{})
	body := []byte(`{"messages":[{"role":"user","content":"Explain recursion"}]}`)

	resp := env.do(t, http.MethodPost, "/tools/chat", env.token(t, "user_alice"), body)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", resp.Code, resp.Body.String())
	}
	result := decode[chatservice.TurnResult](t, resp)
	if result.SessionID == "" {
		t.Fatal("expected a sessionId")
	}
	if result.Reply != "Echo: Explain recursion" {
		t.Fatalf("unexpected reply %q", result.Reply)
	}
	if len(result.Messages) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(result.Messages))
	}
}

func TestChatTurnWithoutTokenIsUnauthorized(t *testing.T) {
	env := setupRouter(t, echoCompleter{})
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	resp := env.do(t, http.MethodPost, "/tools/chat", "", body)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}

	resp = env.do(t, http.MethodPost, "/tools/chat", "not-a-jwt", body)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 for invalid token, got %d", resp.Code)
	}
}

func TestChatTurnInvalidPayload(t *testing.T) {
	env := setupRouter(t, echoCompleter{})
	token := env.token(t, "user_alice")

	cases := map[string]string{
		"not json":       `{`,
		"missing":        `{}`,
		"empty messages": `{"messages":[]}`,
		"bad role":       `{"messages":[{"role":"system","content":"x"}]}`,
	}
	for name, body := range cases {
		resp := env.do(t, http.MethodPost, "/tools/chat", token, []byte(body))
		if resp.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", name, resp.Code)
		}
		if decode[map[string]string](t, resp)["error"] == "" {
			t.Fatalf("%s: expected an error message", name)
		}
	}
}

func TestChatTurnBodyTooLarge(t *testing.T) {
	env := setupRouter(t, echoCompleter{})
	content := strings.Repeat("a", MaxBodyBytes)
	body := []byte(`{"messages":[{"role":"user","content":"` + content + `"}]}`)

	resp := env.do(t, http.MethodPost, "/tools/chat", env.token(t, "user_alice"), body)
	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413, got %d", resp.Code)
	}
}

func TestChatTurnOversizedBodyWithoutTokenIsUnauthorized(t *testing.T) {
	env := setupRouter(t, echoCompleter{})
	content := strings.Repeat("a", MaxBodyBytes)
	body := []byte(`{"messages":[{"role":"user","content":"` + content + `"}]}`)

	resp := env.do(t, http.MethodPost, "/tools/chat", "", body)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestChatTurnUpstreamFailure(t *testing.T) {
	env := setupRouter(t, echoCompleter{replyErr: errors.New("model overloaded: secret detail")})
	body := []byte(`{"messages":[{"role":"user","content":"hi"}]}`)

	resp := env.do(t, http.MethodPost, "/tools/chat", env.token(t, "user_alice"), body)
	if resp.Code != http.StatusBadGateway {
		t.Fatalf("expected 502, got %d", resp.Code)
	}
	if strings.Contains(resp.Body.String(), "secret detail") {
		t.Fatalf("upstream detail leaked: %s", resp.Body.String())
	}
}

func TestChatHistoryAndListing(t *testing.T) {
	env := setupRouter(t, echoCompleter{})
	alice := env.token(t, "user_alice")

	first := decode[chatservice.TurnResult](t, env.do(t, http.MethodPost, "/tools/chat", alice,
		[]byte(`{"messages":[{"role":"user","content":"First question here"}]}`)))
	second := decode[chatservice.TurnResult](t, env.do(t, http.MethodPost, "/tools/chat", alice,
		[]byte(`{"messages":[{"role":"user","content":"Second question here"}]}`)))

	resp := env.do(t, http.MethodGet, "/tools/chat?sessionId="+first.SessionID, alice, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	history := decode[chatservice.HistoryResult](t, resp)
	if history.SessionID != first.SessionID || len(history.Messages) != 2 {
		t.Fatalf("unexpected history %+v", history)
	}
	if history.Title != "First question here" {
		t.Fatalf("expected fallback title, got %q", history.Title)
	}

	resp = env.do(t, http.MethodGet, "/tools/chat", alice, nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	listing := decode[sessionsResponse](t, resp)
	if len(listing.Sessions) != 2 {
		t.Fatalf("expected 2 sessions, got %d", len(listing.Sessions))
	}
	ids := map[string]bool{listing.Sessions[0].ID: true, listing.Sessions[1].ID: true}
	if !ids[first.SessionID] || !ids[second.SessionID] {
		t.Fatalf("listing is missing a session: %+v", listing.Sessions)
	}
	if listing.Sessions[0].UpdatedAt.Before(listing.Sessions[1].UpdatedAt) {
		t.Fatalf("expected newest session first, got %+v", listing.Sessions)
	}
}

func TestChatHistoryForeignSessionIsNotFound(t *testing.T) {
	env := setupRouter(t, echoCompleter{})
	created := decode[chatservice.TurnResult](t, env.do(t, http.MethodPost, "/tools/chat", env.token(t, "user_alice"),
		[]byte(`{"messages":[{"role":"user","content":"private"}]}`)))

	bob := env.token(t, "user_bob")
	resp := env.do(t, http.MethodGet, "/tools/chat?sessionId="+created.SessionID, bob, nil)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}

	body := []byte(`{"sessionId":"` + created.SessionID + `","messages":[{"role":"user","content":"hijack"}]}`)
	resp = env.do(t, http.MethodPost, "/tools/chat", bob, body)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 on foreign append, got %d", resp.Code)
	}
}

func TestChatListingEmpty(t *testing.T) {
	env := setupRouter(t, echoCompleter{})

	resp := env.do(t, http.MethodGet, "/tools/chat", env.token(t, "user_bob"), nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), `"sessions":[]`) {
		t.Fatalf("expected empty sessions array, got %s", resp.Body.String())
	}
}
