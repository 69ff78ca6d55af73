package stream

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/ai-workbench/backend/internal/apperr"
	"github.com/zhouzirui/ai-workbench/backend/internal/logging"
	"github.com/zhouzirui/ai-workbench/backend/internal/middleware"
	"github.com/zhouzirui/ai-workbench/backend/internal/model/user"
	"github.com/zhouzirui/ai-workbench/backend/internal/service/title"
)

type singleAccount struct{}

func (singleAccount) Account(_ context.Context, identity user.Identity) (user.Account, error) {
	if !identity.Authenticated() {
		return user.Account{}, apperr.ErrUnauthorized
	}
	return user.Account{ID: "acc-" + identity.Subject, Subject: identity.Subject}, nil
}

func setupRouter(broker *title.Broker, identity user.Identity) *chi.Mux {
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			next.ServeHTTP(w, req.WithContext(middleware.WithIdentity(req.Context(), identity)))
		})
	})
	New(singleAccount{}, broker, logging.Discard()).RegisterRoutes(r)
	return r
}

func TestStreamRejectsAnonymous(t *testing.T) {
	r := setupRouter(title.NewBroker(), user.Identity{})

	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, httptest.NewRequest(http.MethodGet, "/tools/chat/events/stream", nil))

	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestStreamDeliversTitleEvents(t *testing.T) {
	broker := title.NewBroker()
	srv := httptest.NewServer(setupRouter(broker, user.Identity{Subject: "alice"}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/tools/chat/events/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("open stream: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Fatalf("unexpected content type %q", ct)
	}

	reader := bufio.NewReader(resp.Body)
	// The first frame confirms the subscription is registered.
	if line, err := reader.ReadString('\n'); err != nil || !strings.HasPrefix(line, ": stream established") {
		t.Fatalf("expected stream comment, got %q (%v)", line, err)
	}

	broker.Publish("acc-alice", title.Event{Event: title.EventTitle, SessionID: "s-1", Title: "Go Generics"})

	var frame []string
	for len(frame) < 2 {
		line, err := reader.ReadString('\n')
		if err != nil {
			t.Fatalf("read stream: %v", err)
		}
		if line = strings.TrimSpace(line); line != "" {
			frame = append(frame, line)
		}
	}
	if frame[0] != "event: title" {
		t.Fatalf("unexpected event line %q", frame[0])
	}
	if frame[1] != `data: {"event":"title","sessionId":"s-1","title":"Go Generics"}` {
		t.Fatalf("unexpected data line %q", frame[1])
	}
}
