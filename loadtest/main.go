package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"shopchat/internal/logger"
)

type authResponse struct {
	Token string `json:"token"`
	User  struct {
		ID string `json:"id"`
	} `json:"user"`
}

type envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type stats struct {
	sent, received, failed atomic.Int64
}

type tester struct {
	baseURL  string
	wsURL    string
	msgCount int
	pause    time.Duration
	log      *zap.Logger
	stats    stats
}

func main() {
	base := flag.String("base", "http://localhost:8080", "server base url")
	pairs := flag.Int("pairs", 500, "number of chatting user pairs")
	msgs := flag.Int("messages", 20, "direct messages per user")
	pause := flag.Duration("pause", 10*time.Millisecond, "delay between messages")
	flag.Parse()

	log := logger.New("info").Named("loadtest")
	defer log.Sync()

	u, err := url.Parse(*base)
	if err != nil {
		log.Fatal("bad base url", zap.Error(err))
	}
	u.Scheme = strings.Replace(u.Scheme, "http", "ws", 1)
	u.Path = "/ws"

	t := &tester{baseURL: strings.TrimRight(*base, "/"), wsURL: u.String(), msgCount: *msgs, pause: *pause, log: log}

	log.Info("starting load test", zap.Int("users", *pairs*2), zap.Int("messagesPerUser", *msgs))
	start := time.Now()
	var wg sync.WaitGroup
	// User 0a talks to 0b, 1a to 1b, and so on.
	for i := 0; i < *pairs; i++ {
		wg.Add(1)
		go func(pairID int) {
			defer wg.Done()
			t.runPair(pairID)
		}(i)
	}
	wg.Wait()

	log.Info("load test complete",
		zap.Duration("elapsed", time.Since(start)),
		zap.Int64("sent", t.stats.sent.Load()),
		zap.Int64("received", t.stats.received.Load()),
		zap.Int64("failed", t.stats.failed.Load()))
}

func (t *tester) runPair(pairID int) {
	emailA := fmt.Sprintf("u_%d_a@loadtest.local", pairID)
	emailB := fmt.Sprintf("u_%d_b@loadtest.local", pairID)

	a, err := t.authenticate(emailA, "password123")
	if err != nil {
		t.log.Warn("auth failed", zap.String("email", emailA), zap.Error(err))
		return
	}
	b, err := t.authenticate(emailB, "password123")
	if err != nil {
		t.log.Warn("auth failed", zap.String("email", emailB), zap.Error(err))
		return
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go t.chat(&wg, a, b.User.ID)
	go t.chat(&wg, b, a.User.ID)
	wg.Wait()
}

// authenticate signs up, falling back to login when the account exists.
func (t *tester) authenticate(email, password string) (*authResponse, error) {
	creds := map[string]string{"email": email, "password": password}
	res, err := t.postJSON("/api/chat/auth/signup", creds)
	if err == nil {
		return res, nil
	}
	return t.postJSON("/api/chat/auth/login", creds)
}

func (t *tester) postJSON(path string, body any) (*authResponse, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(t.baseURL+path, "application/json", bytes.NewReader(raw))
	if err != nil {
		return nil, errors.Wrap(err, path)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, errors.Errorf("%s: status %d", path, resp.StatusCode)
	}
	var res authResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, errors.Wrap(err, "decode auth response")
	}
	return &res, nil
}

func (t *tester) chat(wg *sync.WaitGroup, self *authResponse, peer string) {
	defer wg.Done()

	conn, _, err := websocket.DefaultDialer.Dial(t.wsURL+"?token="+url.QueryEscape(self.Token), nil)
	if err != nil {
		t.stats.failed.Add(1)
		t.log.Warn("websocket connect failed", zap.String("user", self.User.ID), zap.Error(err))
		return
	}
	defer conn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			var env envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			switch env.Event {
			case "receive-message":
				t.stats.received.Add(1)
			case "error":
				t.stats.failed.Add(1)
				t.log.Debug("server error event", zap.ByteString("data", env.Data))
			}
		}
	}()

	for i := 0; i < t.msgCount; i++ {
		err := conn.WriteJSON(map[string]any{
			"event": "send-direct-message",
			"data": map[string]any{
				"recipient":   peer,
				"messageType": "text",
				"content":     fmt.Sprintf("load test message %d from %s", i, self.User.ID),
			},
		})
		if err != nil {
			t.stats.failed.Add(1)
			t.log.Warn("send failed", zap.String("user", self.User.ID), zap.Error(err))
			break
		}
		t.stats.sent.Add(1)
		time.Sleep(t.pause)
	}

	conn.WriteJSON(map[string]any{
		"event": "mark-as-read",
		"data":  map[string]string{"senderId": peer, "recipientId": self.User.ID},
	})
	// Give the echoes a moment to drain before hanging up.
	time.Sleep(time.Second)
	conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	select {
	case <-done:
	case <-time.After(2 * time.Second):
	}
}
