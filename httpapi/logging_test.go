package httpapi

import (
	"net/http"
	"net/http/httptest"
	"testing"
)

var _ http.Hijacker = (*responseRecorder)(nil)

func TestResponseRecorderHijackDelegation(t *testing.T) {
	// httptest.ResponseRecorder cannot hijack, so delegation must surface
	// an error instead of panicking.
	rec := &responseRecorder{writer: httptest.NewRecorder()}
	if _, _, err := rec.Hijack(); err == nil {
		t.Fatalf("expected error when the inner writer cannot hijack")
	}
}

func TestResponseRecorderRecordsStatusAndBytes(t *testing.T) {
	inner := httptest.NewRecorder()
	rec := &responseRecorder{writer: inner}
	rec.WriteHeader(http.StatusTeapot)
	if _, err := rec.Write([]byte("short and stout")); err != nil {
		t.Fatalf("write: %v", err)
	}
	if rec.status != http.StatusTeapot || rec.bytes != 15 {
		t.Fatalf("unexpected recording: status=%d bytes=%d", rec.status, rec.bytes)
	}
}
