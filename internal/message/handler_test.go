package message

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	myMiddleware "shopchat/internal/middleware"
)

type fakeReader struct {
	convo  []*Message
	counts []UnreadCount
	a, b   string
}

func (f *fakeReader) Conversation(_ context.Context, a, b string) ([]*Message, error) {
	f.a, f.b = a, b
	return f.convo, nil
}

func (f *fakeReader) UnreadCounts(context.Context, string) ([]UnreadCount, error) {
	return f.counts, nil
}

type fakeMarker struct{ viewer, counterpart string }

func (f *fakeMarker) MarkConversationRead(_ context.Context, viewer, counterpart string) (int64, error) {
	f.viewer, f.counterpart = viewer, counterpart
	return 3, nil
}

func authed(method, target, body string) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	return req.WithContext(myMiddleware.WithUser(req.Context(), "viewer", "v@example.com"))
}

func TestGetMessagesUsesAuthenticatedViewer(t *testing.T) {
	store := &fakeReader{convo: []*Message{{ID: "m1", Sender: "other", Recipient: "viewer", Type: VariantText}}}
	h := NewHandler(store, &fakeMarker{}, zaptest.NewLogger(t))

	rec := httptest.NewRecorder()
	h.GetMessages(rec, authed(http.MethodPost, "/", `{"id":"other"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if store.a != "viewer" || store.b != "other" {
		t.Fatalf("conversation queried for %q/%q", store.a, store.b)
	}
	var body struct {
		Success  bool       `json:"success"`
		Messages []*Message `json:"messages"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatal(err)
	}
	if !body.Success || len(body.Messages) != 1 || body.Messages[0].ID != "m1" {
		t.Fatalf("unexpected body %+v", body)
	}
}

func TestGetMessagesRequiresID(t *testing.T) {
	h := NewHandler(&fakeReader{}, &fakeMarker{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.GetMessages(rec, authed(http.MethodPost, "/", `{}`))
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestMarkAsReadDelegates(t *testing.T) {
	marker := &fakeMarker{}
	h := NewHandler(&fakeReader{}, marker, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.MarkAsRead(rec, authed(http.MethodPost, "/", `{"senderId":"alice"}`))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if marker.viewer != "viewer" || marker.counterpart != "alice" {
		t.Fatalf("marked %q/%q", marker.viewer, marker.counterpart)
	}
	if !strings.Contains(rec.Body.String(), `"modifiedCount":3`) {
		t.Fatalf("body = %s", rec.Body)
	}
}

func TestUnreadCountsUnauthenticated(t *testing.T) {
	h := NewHandler(&fakeReader{}, &fakeMarker{}, zaptest.NewLogger(t))
	rec := httptest.NewRecorder()
	h.UnreadCounts(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d", rec.Code)
	}
}
