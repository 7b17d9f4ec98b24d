package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap/zaptest"

	"shopchat/internal/apperr"
	"shopchat/internal/message"
	myMiddleware "shopchat/internal/middleware"
	"shopchat/internal/user"
)

type memStore struct {
	mu       sync.Mutex
	seq      int
	channels map[string]*Channel
}

func newMemStore() *memStore { return &memStore{channels: map[string]*Channel{}} }

func (m *memStore) Insert(_ context.Context, ch *Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.seq++
	ch.ID = fmt.Sprintf("ch%d", m.seq)
	cp := *ch
	m.channels[ch.ID] = &cp
	return nil
}

func (m *memStore) FindWithMembers(_ context.Context, id string) (*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	if !ok {
		return nil, apperr.NotFound("channel %s not found", id)
	}
	cp := *ch
	cp.Members = append([]string(nil), ch.Members...)
	cp.Messages = append([]string(nil), ch.Messages...)
	return &cp, nil
}

func (m *memStore) mutate(id string, fn func(*Channel)) (*Channel, error) {
	m.mu.Lock()
	ch, ok := m.channels[id]
	if ok {
		fn(ch)
	}
	m.mu.Unlock()
	if !ok {
		return nil, apperr.NotFound("channel %s not found", id)
	}
	return m.FindWithMembers(context.Background(), id)
}

func (m *memStore) AppendMessage(_ context.Context, channelID, messageID string) (*Channel, error) {
	return m.mutate(channelID, func(ch *Channel) { ch.Messages = append(ch.Messages, messageID) })
}

func (m *memStore) RemoveMember(_ context.Context, channelID, userID string) (*Channel, error) {
	return m.mutate(channelID, func(ch *Channel) {
		kept := ch.Members[:0]
		for _, id := range ch.Members {
			if id != userID {
				kept = append(kept, id)
			}
		}
		ch.Members = kept
	})
}

func (m *memStore) SetDescription(_ context.Context, channelID, description string) (*Channel, error) {
	return m.mutate(channelID, func(ch *Channel) { ch.Description = description })
}

func (m *memStore) ListForUser(_ context.Context, userID string) ([]*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Channel{}
	for _, ch := range m.channels {
		if ch.IsMember(userID) {
			out = append(out, ch)
		}
	}
	return out, nil
}

func (m *memStore) ListAll(context.Context) ([]*Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := []*Channel{}
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out, nil
}

type fakeDirectory map[string]*user.User

func (f fakeDirectory) FindExisting(_ context.Context, ids []string) ([]string, error) {
	out := []string{}
	for _, id := range ids {
		if _, ok := f[id]; ok {
			out = append(out, id)
		}
	}
	return out, nil
}

func (f fakeDirectory) GetByIDs(_ context.Context, ids []string) ([]*user.User, error) {
	out := []*user.User{}
	for _, id := range ids {
		if u, ok := f[id]; ok {
			out = append(out, u)
		}
	}
	return out, nil
}

type fakeMessages map[string]*message.Message

func (f fakeMessages) FindByIDs(_ context.Context, ids []string) ([]*message.Message, error) {
	out := []*message.Message{}
	for _, id := range ids {
		if m, ok := f[id]; ok {
			out = append(out, m)
		}
	}
	return out, nil
}

func directory(ids ...string) fakeDirectory {
	d := fakeDirectory{}
	for _, id := range ids {
		d[id] = &user.User{ID: id, Email: id + "@example.com"}
	}
	return d
}

func newTestService(t *testing.T, msgs fakeMessages) (*Service, *memStore) {
	t.Helper()
	store := newMemStore()
	return NewService(store, directory("admin", "bob", "carol"), msgs, zaptest.NewLogger(t)), store
}

func TestCreateValidatesAndDedupes(t *testing.T) {
	svc, store := newTestService(t, nil)
	ctx := context.Background()

	if _, err := svc.Create(ctx, "admin", CreateRequest{Name: "  "}); apperr.KindOf(err) != apperr.KindValidation {
		t.Fatalf("blank name err = %v", err)
	}
	_, err := svc.Create(ctx, "admin", CreateRequest{Name: "team", Members: []string{"bob", "ghost"}})
	if !errors.Is(err, apperr.ErrInvalidMember) {
		t.Fatalf("unknown member err = %v", err)
	}
	if len(store.channels) != 0 {
		t.Fatal("channel persisted despite invalid member")
	}

	ch, err := svc.Create(ctx, "admin", CreateRequest{Name: " team ", Members: []string{"bob", "bob", "carol"}})
	if err != nil {
		t.Fatal(err)
	}
	if ch.Name != "team" || !reflect.DeepEqual(ch.Members, []string{"bob", "carol"}) || ch.Admin != "admin" {
		t.Fatalf("unexpected channel %+v", ch)
	}
}

func TestLeaveRules(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	ch, _ := svc.Create(ctx, "admin", CreateRequest{Name: "team", Members: []string{"bob"}})

	if _, err := svc.Leave(ctx, "bob", "missing"); apperr.KindOf(err) != apperr.KindNotFound {
		t.Fatalf("missing channel err = %v", err)
	}
	if _, err := svc.Leave(ctx, "admin", ch.ID); !errors.Is(err, apperr.ErrForbiddenOperation) {
		t.Fatalf("admin leave err = %v", err)
	}
	after, err := svc.FindWithMembers(ctx, ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if after.Admin != "admin" || !reflect.DeepEqual(after.Members, []string{"bob"}) {
		t.Fatalf("membership changed by refused leave: %+v", after)
	}
	if _, err := svc.Leave(ctx, "carol", ch.ID); !errors.Is(err, apperr.ErrNotAMember) {
		t.Fatalf("non-member leave err = %v", err)
	}
	updated, err := svc.Leave(ctx, "bob", ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(updated.Members) != 0 {
		t.Fatalf("bob still listed: %v", updated.Members)
	}
}

func TestUpdateDescriptionAdminOnly(t *testing.T) {
	svc, _ := newTestService(t, nil)
	ctx := context.Background()
	ch, _ := svc.Create(ctx, "admin", CreateRequest{Name: "team", Members: []string{"bob"}})

	if _, err := svc.UpdateDescription(ctx, "bob", ch.ID, "mine"); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("member edit err = %v", err)
	}
	svc.UpdateDescription(ctx, "admin", ch.ID, "first")
	got, err := svc.UpdateDescription(ctx, "admin", ch.ID, "second")
	if err != nil {
		t.Fatal(err)
	}
	if got.Description != "second" {
		t.Fatalf("description = %q, last write should win", got.Description)
	}
}

func TestDetailsCollectsMediaAndLinks(t *testing.T) {
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	msgs := fakeMessages{
		"m1": {ID: "m1", Sender: "bob", Type: message.VariantFile, FileURL: "https://cdn/x.pdf", FileName: "x.pdf", FileSize: 42, Timestamp: ts},
		"m2": {ID: "m2", Sender: "admin", Type: message.VariantText, Content: "see https://example.com/a and http://b.io", Timestamp: ts},
		"m3": {ID: "m3", Sender: "bob", Type: message.VariantText, Content: "plain", Timestamp: ts},
		"m4": {ID: "m4", Sender: "bob", Type: message.VariantAudio, AudioURL: "https://cdn/v.webm", Timestamp: ts},
	}
	svc, _ := newTestService(t, msgs)
	ctx := context.Background()
	ch, _ := svc.Create(ctx, "admin", CreateRequest{Name: "team", Members: []string{"bob"}})
	for _, id := range []string{"m1", "m2", "m3", "m4"} {
		svc.AppendMessage(ctx, ch.ID, id)
	}

	if _, err := svc.Details(ctx, "carol", ch.ID); apperr.KindOf(err) != apperr.KindForbidden {
		t.Fatalf("outsider details err = %v", err)
	}

	d, err := svc.Details(ctx, "bob", ch.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(d.MessageList) != 4 {
		t.Fatalf("messages = %d", len(d.MessageList))
	}
	if len(d.Media) != 2 || d.Media[0].FileName != "x.pdf" || d.Media[0].FileSize != 42 || d.Media[1].FileURL != "https://cdn/v.webm" {
		t.Fatalf("media = %+v", d.Media)
	}
	if len(d.Links) != 2 || d.Links[0].URL != "https://example.com/a" || d.Links[1].URL != "http://b.io" {
		t.Fatalf("links = %+v", d.Links)
	}
	if d.AdminInfo == nil || d.AdminInfo.ID != "admin" || len(d.MemberInfo) != 1 {
		t.Fatalf("people = %+v / %+v", d.AdminInfo, d.MemberInfo)
	}
}

func TestRecipientsIncludesAdminOnce(t *testing.T) {
	ch := &Channel{Admin: "a", Members: []string{"b", "a", "c", "b"}}
	if got := ch.Recipients(); !reflect.DeepEqual(got, []string{"b", "a", "c"}) {
		t.Fatalf("Recipients = %v", got)
	}
	ch = &Channel{Admin: "a", Members: []string{"b"}}
	if got := ch.Recipients(); !reflect.DeepEqual(got, []string{"b", "a"}) {
		t.Fatalf("Recipients = %v", got)
	}
}

type recordingNotifier struct{ got []*Channel }

func (r *recordingNotifier) NotifyChannelCreated(_ context.Context, ch *Channel) {
	r.got = append(r.got, ch)
}

func serve(t *testing.T, h *Handler, method, path, userID, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := chi.NewRouter()
	r.Route("/api/chat/channel", h.Routes)
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req = req.WithContext(myMiddleware.WithUser(req.Context(), userID, userID+"@example.com"))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestHandlerCreateNotifiesMembers(t *testing.T) {
	svc, _ := newTestService(t, nil)
	notifier := &recordingNotifier{}
	h := NewHandler(svc, notifier, zaptest.NewLogger(t))

	rec := serve(t, h, http.MethodPost, "/api/chat/channel/create-channel", "admin", `{"name":"team","members":["bob"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body)
	}
	if len(notifier.got) != 1 || notifier.got[0].Name != "team" {
		t.Fatalf("notifications = %+v", notifier.got)
	}

	rec = serve(t, h, http.MethodPost, "/api/chat/channel/create-channel", "admin", `{"name":"team","members":["ghost"]}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("invalid member status = %d", rec.Code)
	}
	var body map[string]any
	json.NewDecoder(rec.Body).Decode(&body)
	if body["code"] != "invalid_member" || body["success"] != false {
		t.Fatalf("body = %v", body)
	}
}

func TestHandlerLeaveAndDetails(t *testing.T) {
	svc, _ := newTestService(t, fakeMessages{})
	h := NewHandler(svc, nil, zaptest.NewLogger(t))
	ch, _ := svc.Create(context.Background(), "admin", CreateRequest{Name: "team", Members: []string{"bob"}})

	if rec := serve(t, h, http.MethodPost, "/api/chat/channel/leave-channel/"+ch.ID, "admin", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("admin leave status = %d", rec.Code)
	}
	if rec := serve(t, h, http.MethodPost, "/api/chat/channel/leave-channel/nope", "bob", ""); rec.Code != http.StatusNotFound {
		t.Fatalf("missing channel status = %d", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/api/chat/channel/get-channel-details/"+ch.ID, "bob", ""); rec.Code != http.StatusOK {
		t.Fatalf("details status = %d: %s", rec.Code, rec.Body)
	}
	if rec := serve(t, h, http.MethodPost, "/api/chat/channel/leave-channel/"+ch.ID, "bob", ""); rec.Code != http.StatusOK {
		t.Fatalf("leave status = %d", rec.Code)
	}
	if rec := serve(t, h, http.MethodGet, "/api/chat/channel/get-channel-messages/"+ch.ID, "bob", ""); rec.Code != http.StatusForbidden {
		t.Fatalf("messages after leave status = %d", rec.Code)
	}
}
