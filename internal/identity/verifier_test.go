package identity

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"pkt.systems/agenthub/schema"
)

func TestVerifyResolvesUser(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/auth/v1/user" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if r.Header.Get("Authorization") != "Bearer tok-1" {
			t.Errorf("missing bearer header")
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("missing apikey header")
		}
		w.Write([]byte(`{"id":"user-1"}`))
	}))
	defer srv.Close()

	v := NewVerifier(Config{BaseURL: srv.URL, APIKey: "anon-key"}, nil)
	user, err := v.Verify(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if user != "user-1" {
		t.Fatalf("unexpected user %q", user)
	}
}

func TestVerifyCachesPositiveResults(t *testing.T) {
	var hits atomic.Int64
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.Write([]byte(`{"id":"user-1"}`))
	}))
	defer srv.Close()

	v := NewVerifier(Config{BaseURL: srv.URL}, nil)
	for i := 0; i < 5; i++ {
		if _, err := v.Verify(context.Background(), "tok-1"); err != nil {
			t.Fatalf("verify: %v", err)
		}
	}
	if hits.Load() != 1 {
		t.Fatalf("expected one provider call, got %d", hits.Load())
	}
}

func TestVerifyRejections(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := NewVerifier(Config{BaseURL: srv.URL}, nil)
	if _, err := v.Verify(context.Background(), ""); !errors.Is(err, schema.ErrMissingToken) {
		t.Fatalf("expected ErrMissingToken, got %v", err)
	}
	if _, err := v.Verify(context.Background(), "bad"); !errors.Is(err, schema.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestVerifyUnavailableProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`not json`))
	}))
	defer srv.Close()

	v := NewVerifier(Config{BaseURL: srv.URL}, nil)
	if _, err := v.Verify(context.Background(), "tok"); !errors.Is(err, schema.ErrIdentityUnavailable) {
		t.Fatalf("expected ErrIdentityUnavailable, got %v", err)
	}
}

func TestVerifyEmptyUserIDRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"id":""}`))
	}))
	defer srv.Close()

	v := NewVerifier(Config{BaseURL: srv.URL}, nil)
	if _, err := v.Verify(context.Background(), "tok"); !errors.Is(err, schema.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}
