package fetch

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestFetchPassesServerRequest(t *testing.T) {
	var gotConnection, gotHost string
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotConnection = r.Header.Get("Connection")
		gotHost = r.Host
		w.Write([]byte("Hello world"))
	}))
	defer origin.Close()

	// a request as received by a server, with RequestURI set
	req := httptest.NewRequest("GET", origin.URL+"/page", nil)
	req.Header.Set("Connection", "close")
	f := NewHTTPFetcher(nil)
	f.Host = "my-app.com"

	res, err := f.Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	defer res.Body.Close()
	body, _ := io.ReadAll(res.Body)
	if string(body) != "Hello world" {
		t.Fatalf("Body is %s", body)
	}
	if gotConnection != "" {
		t.Fatalf("Connection header forwarded: %s", gotConnection)
	}
	if gotHost != "my-app.com" {
		t.Fatalf("Host is %s", gotHost)
	}
	if req.Header.Get("Connection") != "close" {
		t.Fatal("Original request was modified")
	}
}

func TestFetchSetsDate(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// suppress the date header go adds by default
		w.Header()["Date"] = nil
		w.Write([]byte("no date"))
	}))
	defer origin.Close()

	req, _ := http.NewRequest("GET", origin.URL, nil)
	res, err := NewHTTPFetcher(nil).Fetch(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	res.Body.Close()
	if res.Header.Get("Date") == "" {
		t.Fatal("Date header not set")
	}
}

func TestFetcherFunc(t *testing.T) {
	called := false
	var f Fetcher = FetcherFunc(func(ctx context.Context, r *http.Request) (*http.Response, error) {
		called = true
		return nil, context.Canceled
	})
	req, _ := http.NewRequest("GET", "http://example.com", nil)
	if _, err := f.Fetch(context.Background(), req); err != context.Canceled || !called {
		t.Fatalf("Error is %v", err)
	}
}
