package whttp

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func TestSendHTTPRequestRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		body, _ := io.ReadAll(r.Body)
		if string(body) != "payload" || r.Header.Get("X-Test") != "1" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	client := NewClient(2)
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = time.Millisecond

	res, err := SendHTTPRequest(context.Background(), &WHTTPReq{
		Method:  "POST",
		URL:     srv.URL,
		Headers: []WHTTPHeader{{Name: "X-Test", Value: "1"}},
		Body:    []byte("payload"),
	}, client)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.StatusCode != http.StatusOK || res.BodyString != `{"ok":true}` {
		t.Fatalf("unexpected response: %#v", res)
	}
	if calls.Load() != 2 {
		t.Fatalf("expected one retry, got %d calls", calls.Load())
	}
}

func TestSendHTTPRequestGivesUp(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	client := NewClient(1)
	client.RetryWaitMin = time.Millisecond
	client.RetryWaitMax = time.Millisecond

	if _, err := SendHTTPRequest(context.Background(), &WHTTPReq{Method: "GET", URL: srv.URL}, client); err == nil {
		t.Fatal("expected error after exhausting retries")
	}
}

func TestSetupProxyRejectsBadURL(t *testing.T) {
	if err := SetupProxy("://bad"); err == nil {
		t.Fatal("expected error")
	}
}
