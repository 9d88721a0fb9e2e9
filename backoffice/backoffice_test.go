package backoffice

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

type fakeBackoffice struct {
	connectionCalls atomic.Int32
	refreshCalls    atomic.Int32
	connection      http.HandlerFunc
	refresh         http.HandlerFunc
	lastBody        atomic.Value
}

func newFakeBackoffice(t *testing.T, connection, refresh http.HandlerFunc) (*fakeBackoffice, *httptest.Server) {
	t.Helper()
	f := &fakeBackoffice{connection: connection, refresh: refresh}
	mux := http.NewServeMux()
	mux.HandleFunc(connectionPath, func(w http.ResponseWriter, r *http.Request) {
		f.connectionCalls.Add(1)
		f.record(r)
		f.connection(w, r)
	})
	mux.HandleFunc(refreshPath, func(w http.ResponseWriter, r *http.Request) {
		f.refreshCalls.Add(1)
		f.record(r)
		f.refresh(w, r)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeBackoffice) record(r *http.Request) {
	var body map[string]json.RawMessage
	_ = json.NewDecoder(r.Body).Decode(&body)
	f.lastBody.Store(body)
}

func (f *fakeBackoffice) body() map[string]json.RawMessage {
	v, _ := f.lastBody.Load().(map[string]json.RawMessage)
	return v
}

func respond(status int, body string) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}
}

const (
	connectionOK = `{"response":{"oauth_token":"conn-tok","expiration_timestamp":1900000000,"refresh_token":"r2","refresh_expiration_timestamp":"2030-01-01T00:00:00Z","client_state":"cs","customer_id":"cust-1"}}`
	refreshOK    = `{"response":{"access_token":"ref-tok","expiration_timestamp":"1900000000","client_state":"cs","customer_id":"cust-1"}}`
)

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(ClientConfig{BaseURL: url + "/", EcommerceToken: "eco", Timeout: 2 * time.Second})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func testCreds() Credentials {
	return Credentials{CustomerID: "cust-1", PrivateKey: "pk", RefreshToken: "rt", DeviceID: "dev-1", ClientState: "cs"}
}

func TestAcquirePrimarySucceeds(t *testing.T) {
	f, srv := newFakeBackoffice(t, respond(200, connectionOK), respond(200, refreshOK))
	b := NewBroker(newTestClient(t, srv.URL), zerolog.Nop())

	tok, err := b.Acquire(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok.Kind != KindConnection || tok.AccessToken != "conn-tok" || tok.CustomerID != "cust-1" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if !tok.ExpiresAt.Equal(time.Unix(1900000000, 0)) {
		t.Fatalf("unexpected expiry %v", tok.ExpiresAt)
	}
	if tok.RefreshExpiresAt.Year() != 2030 {
		t.Fatalf("unexpected refresh expiry %v", tok.RefreshExpiresAt)
	}
	if f.connectionCalls.Load() != 1 || f.refreshCalls.Load() != 0 {
		t.Fatalf("calls: connection=%d refresh=%d", f.connectionCalls.Load(), f.refreshCalls.Load())
	}

	body := f.body()
	for _, field := range []string{"client_state", "customer_id", "customer_private_key", "customer_refresh_token", "device_id", "ecommerce_token", "extra_login_data"} {
		if _, ok := body[field]; !ok {
			t.Fatalf("connection request missing %q", field)
		}
	}
}

func TestAcquireFallsBackToRefreshOnce(t *testing.T) {
	f, srv := newFakeBackoffice(t, respond(500, `{"error":"boom"}`), respond(200, refreshOK))
	b := NewBroker(newTestClient(t, srv.URL), zerolog.Nop())

	tok, err := b.Acquire(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok.Kind != KindRefresh || tok.AccessToken != "ref-tok" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if f.connectionCalls.Load() != 1 || f.refreshCalls.Load() != 1 {
		t.Fatalf("calls: connection=%d refresh=%d", f.connectionCalls.Load(), f.refreshCalls.Load())
	}
	body := f.body()
	if _, ok := body["customer_private_key"]; ok {
		t.Fatal("refresh request must not carry the private key")
	}
}

func TestAcquireBothFail(t *testing.T) {
	f, srv := newFakeBackoffice(t, respond(503, ``), respond(401, `{}`))
	b := NewBroker(newTestClient(t, srv.URL), zerolog.Nop())

	_, err := b.Acquire(context.Background(), testCreds())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable, got %v", err)
	}
	var status *StatusError
	if !errors.As(err, &status) {
		t.Fatalf("expected a StatusError cause, got %v", err)
	}
	if got := f.connectionCalls.Load() + f.refreshCalls.Load(); got != 2 {
		t.Fatalf("expected exactly 2 calls, got %d", got)
	}
}

func TestSuccessStatusWithoutTokenIsFailure(t *testing.T) {
	cases := map[string]string{
		"no envelope":       `{}`,
		"wrong token field": `{"response":{"access_token":"x"}}`,
		"empty token":       `{"response":{"oauth_token":"  "}}`,
		"not json":          `<html>`,
		"bad timestamp":     `{"response":{"oauth_token":"x","expiration_timestamp":"yesterday"}}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, srv := newFakeBackoffice(t, respond(200, body), respond(500, ``))
			c := newTestClient(t, srv.URL)
			if _, err := c.AcquireConnectionToken(context.Background(), testCreds()); err == nil {
				t.Fatal("expected failure")
			}
		})
	}
}

func TestRefreshReadsOnlyAccessToken(t *testing.T) {
	_, srv := newFakeBackoffice(t, respond(500, ``), respond(200, `{"response":{"oauth_token":"x"}}`))
	c := newTestClient(t, srv.URL)
	_, err := c.RefreshConnectionToken(context.Background(), testCreds())
	if !errors.Is(err, errMissingToken) {
		t.Fatalf("expected errMissingToken, got %v", err)
	}
}

func TestClientTimeout(t *testing.T) {
	release := make(chan struct{})
	slow := func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}
	_, srv := newFakeBackoffice(t, slow, slow)
	defer close(release)

	c, err := NewClient(ClientConfig{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	_, err = NewBroker(c, zerolog.Nop()).Acquire(context.Background(), testCreds())
	if !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected ErrUpstreamUnavailable on timeout, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(ClientConfig{}); err == nil {
		t.Fatal("expected missing base URL error")
	}
	if _, err := NewClient(ClientConfig{BaseURL: "http://x", ExtraLoginData: json.RawMessage("{")}); err == nil {
		t.Fatal("expected invalid extra data error")
	}
}

func TestTimestampFormats(t *testing.T) {
	want := time.Unix(1900000000, 0).UTC()
	for _, raw := range []string{
		`1900000000`,
		`"1900000000"`,
		`1900000000000`,
		`1900000000000000`,
		`"1900000000000000000"`,
		`1900000000000000000`,
		`"2030-03-17T17:46:40Z"`,
	} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(raw), &ts); err != nil {
			t.Fatalf("%s: %v", raw, err)
		}
		if !ts.Time().Equal(want) {
			t.Fatalf("%s: got %v want %v", raw, ts.Time(), want)
		}
	}
	var ts Timestamp
	if err := json.Unmarshal([]byte(`null`), &ts); err != nil || !ts.Time().IsZero() {
		t.Fatalf("null: %v %v", ts.Time(), err)
	}
}

func TestTimestampRejectsOutOfRange(t *testing.T) {
	for _, raw := range []string{`-5`, `"-1900000000"`, `99999999999999999999999`, `1e30`, `"10000-01-01T00:00:00Z"`} {
		var ts Timestamp
		if err := json.Unmarshal([]byte(raw), &ts); err == nil {
			t.Fatalf("%s: expected error, got %v", raw, ts.Time())
		}
	}
}

func TestOutOfRangeExpiryFallsBackToRefresh(t *testing.T) {
	bad := `{"response":{"oauth_token":"conn-tok","expiration_timestamp":99999999999999999999999}}`
	f, srv := newFakeBackoffice(t, respond(200, bad), respond(200, refreshOK))
	b := NewBroker(newTestClient(t, srv.URL), zerolog.Nop())

	tok, err := b.Acquire(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok.Kind != KindRefresh || tok.AccessToken != "ref-tok" {
		t.Fatalf("unexpected token %+v", tok)
	}
	if f.refreshCalls.Load() != 1 {
		t.Fatalf("expected one refresh call, got %d", f.refreshCalls.Load())
	}
}

type stubSource struct {
	primary      *Token
	refresh      *Token
	primaryCalls int
	refreshCalls int
}

func (s *stubSource) AcquireConnectionToken(context.Context, Credentials) (*Token, error) {
	s.primaryCalls++
	return s.primary, nil
}

func (s *stubSource) RefreshConnectionToken(context.Context, Credentials) (*Token, error) {
	s.refreshCalls++
	return s.refresh, nil
}

func TestBrokerTreatsEmptyTokenAsFailure(t *testing.T) {
	src := &stubSource{primary: &Token{Kind: KindConnection, AccessToken: " "}, refresh: &Token{Kind: KindRefresh, AccessToken: "ref-tok"}}
	tok, err := NewBroker(src, zerolog.Nop()).Acquire(context.Background(), testCreds())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if tok.AccessToken != "ref-tok" {
		t.Fatalf("expected refresh token, got %+v", tok)
	}
	if src.primaryCalls != 1 || src.refreshCalls != 1 {
		t.Fatalf("calls: primary=%d refresh=%d", src.primaryCalls, src.refreshCalls)
	}

	src = &stubSource{primary: nil, refresh: &Token{Kind: KindRefresh}}
	_, err = NewBroker(src, zerolog.Nop()).Acquire(context.Background(), testCreds())
	if !errors.Is(err, ErrUpstreamUnavailable) || !errors.Is(err, errMissingToken) {
		t.Fatalf("expected ErrUpstreamUnavailable with errMissingToken, got %v", err)
	}
	if src.refreshCalls != 1 {
		t.Fatalf("expected one refresh call, got %d", src.refreshCalls)
	}
}
