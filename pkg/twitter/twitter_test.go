package twitter

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestLookupUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer token-1" {
			t.Errorf("Authorization = %q", got)
		}
		name := r.URL.Query().Get("screen_name")
		switch name {
		case "whale":
			w.Write([]byte(`[{"id_str":"42","screen_name":"whale"}]`))
		case "ghost":
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"errors":[{"code":17,"message":"No user matches for specified terms."}]}`))
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	c := NewClient(Config{BearerToken: "token-1", APIBase: srv.URL})
	ctx := context.Background()

	user, err := c.LookupUser(ctx, "whale")
	if err != nil {
		t.Fatalf("LookupUser: %v", err)
	}
	if user.ID != "42" || user.ScreenName != "whale" {
		t.Errorf("user = %+v", user)
	}

	// Error code 17 maps to the sentinel so callers can say "no such user".
	if _, err := c.LookupUser(ctx, "ghost"); !errors.Is(err, ErrUserNotFound) {
		t.Errorf("ghost err = %v, want ErrUserNotFound", err)
	}

	if _, err := c.LookupUser(ctx, "broken"); err == nil || errors.Is(err, ErrUserNotFound) {
		t.Errorf("server error mapped wrong: %v", err)
	}
}

func TestOpenStreamRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(420)
	}))
	defer srv.Close()

	c := NewClient(Config{StreamURL: "ws" + strings.TrimPrefix(srv.URL, "http")})
	_, err := c.OpenStream(context.Background(), []string{"1", "2"})
	if !errors.Is(err, ErrRateLimited) {
		t.Errorf("420 handshake err = %v, want ErrRateLimited", err)
	}
}

func TestEventClassifiers(t *testing.T) {
	ev := Event{InReplyToScreenName: "bob", TimestampMS: "1700000000000"}
	if !ev.IsReply() || ev.IsRetweet() || ev.IsQuote() {
		t.Errorf("reply flags wrong: %+v", ev)
	}
	if got := ev.EventTime(); got != 1700000000000 {
		t.Errorf("EventTime = %d", got)
	}

	rt := Event{RetweetedStatus: &Status{Text: "orig"}}
	if !rt.IsRetweet() {
		t.Error("retweet not detected")
	}

	var blank Event
	if blank.EventTime() != 0 {
		t.Error("blank timestamp should parse to 0")
	}
}
