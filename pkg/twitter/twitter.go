// Package twitter talks to the social-media backend: identity lookups over
// REST and the filtered event stream over websocket.
package twitter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

var (
	// ErrUserNotFound maps the backend's "user not found" error code so
	// callers can render a distinct message.
	ErrUserNotFound = errors.New("user not found")

	// ErrRateLimited is the forced disconnect the backend issues when a
	// client reconnects too aggressively.
	ErrRateLimited = errors.New("stream rate limited")
)

const codeUserNotFound = 17

// User is followed-identity metadata.
type User struct {
	ID         string `json:"id_str"`
	ScreenName string `json:"screen_name"`
}

// Event is one raw item from the filtered stream.
type Event struct {
	Text                string  `json:"text"`
	CreatedAt           string  `json:"created_at"`
	TimestampMS         string  `json:"timestamp_ms"`
	User                User    `json:"user"`
	InReplyToScreenName string  `json:"in_reply_to_screen_name"`
	RetweetedStatus     *Status `json:"retweeted_status"`
	QuotedStatus        *Status `json:"quoted_status"`
}

// Status is the nested original inside a retweet or quote.
type Status struct {
	Text string `json:"text"`
	User User   `json:"user"`
}

// IsReply reports whether the event replies to another user.
func (e *Event) IsReply() bool { return e.InReplyToScreenName != "" }

// IsRetweet reports whether the event re-shares another status.
func (e *Event) IsRetweet() bool { return e.RetweetedStatus != nil }

// IsQuote reports whether the event quotes another status.
func (e *Event) IsQuote() bool { return e.QuotedStatus != nil }

// EventTime returns the stream timestamp in milliseconds.
func (e *Event) EventTime() int64 {
	ms, _ := strconv.ParseInt(e.TimestampMS, 10, 64)
	return ms
}

// Config holds backend endpoints and credentials.
type Config struct {
	BearerToken string
	APIBase     string // REST base, e.g. https://api.twitter.com/1.1
	StreamURL   string // websocket filtered-stream endpoint
}

// Client wraps the REST and streaming endpoints.
type Client struct {
	cfg        Config
	httpClient *http.Client
	dialer     *websocket.Dialer
}

// NewClient builds a backend client.
func NewClient(cfg Config) *Client {
	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: 10 * time.Second},
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
		},
	}
}

// LookupUser resolves a screen name to identity metadata. A backend "user not
// found" surfaces as ErrUserNotFound.
func (c *Client) LookupUser(ctx context.Context, screenName string) (User, error) {
	endpoint := fmt.Sprintf("%s/users/lookup.json?screen_name=%s", c.cfg.APIBase, url.QueryEscape(screenName))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.BearerToken)

	res, err := c.httpClient.Do(req)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: read body: %w", err)
	}

	if res.StatusCode >= 300 {
		var apiErr struct {
			Errors []struct {
				Code    int    `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
		}
		_ = json.Unmarshal(body, &apiErr)
		for _, e := range apiErr.Errors {
			if e.Code == codeUserNotFound {
				return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, screenName)
			}
		}
		return User{}, fmt.Errorf("lookup user: status %d: %s", res.StatusCode, string(body))
	}

	var users []User
	if err := json.Unmarshal(body, &users); err != nil {
		return User{}, fmt.Errorf("decode user lookup: %w", err)
	}
	if len(users) == 0 {
		return User{}, fmt.Errorf("%w: %s", ErrUserNotFound, screenName)
	}
	return users[0], nil
}

// Stream is one live filtered-stream connection.
type Stream struct {
	conn *websocket.Conn
}

// OpenStream dials the filtered stream for the given followed ids. A 420
// handshake response surfaces as ErrRateLimited.
func (c *Client) OpenStream(ctx context.Context, followIDs []string) (*Stream, error) {
	u := c.cfg.StreamURL + "?follow=" + url.QueryEscape(strings.Join(followIDs, ","))

	header := http.Header{}
	header.Set("Authorization", "Bearer "+c.cfg.BearerToken)

	conn, res, err := c.dialer.DialContext(ctx, u, header)
	if err != nil {
		// 420 "Enhance Your Calm" is the backend's forced disconnect.
		if res != nil && res.StatusCode == 420 {
			return nil, fmt.Errorf("%w: status %d", ErrRateLimited, res.StatusCode)
		}
		return nil, fmt.Errorf("dial stream: %w", err)
	}
	return &Stream{conn: conn}, nil
}

// ReadEvent blocks for the next event. A normal close returns io.EOF; a
// rate-limit close returns ErrRateLimited.
func (s *Stream) ReadEvent() (*Event, error) {
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
				strings.Contains(err.Error(), "use of closed network connection") {
				return nil, io.EOF
			}
			if websocket.IsCloseError(err, websocket.ClosePolicyViolation) {
				return nil, fmt.Errorf("%w: %v", ErrRateLimited, err)
			}
			return nil, fmt.Errorf("read stream: %w", err)
		}

		// Keep-alive blank lines arrive between events.
		if len(msg) == 0 {
			continue
		}

		var ev Event
		if err := json.Unmarshal(msg, &ev); err != nil {
			return nil, fmt.Errorf("decode event: %w", err)
		}
		return &ev, nil
	}
}

// Close tears the connection down.
func (s *Stream) Close() error {
	// Ignore write errors; the connection may already be gone.
	_ = s.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	return s.conn.Close()
}
