package feed

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"digestbot/pkg/logx"
)

const rssFixture = `<?xml version="1.0" encoding="UTF-8"?>
<rss version="2.0">
  <channel>
    <title>Example Blog</title>
    <item>
      <title>Post One</title>
      <link>https://blog.example/one</link>
      <pubDate>Mon, 17 Aug 2026 10:00:00 GMT</pubDate>
    </item>
    <item>
      <title>Post Two</title>
      <link>https://blog.example/two</link>
      <pubDate>Tue, 18 Aug 2026 10:00:00 GMT</pubDate>
    </item>
  </channel>
</rss>`

func rssServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/rss+xml")
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func failingServer(t *testing.T) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestFetchToleratesPartialFeedFailure(t *testing.T) {
	t.Parallel()
	good := rssServer(t, rssFixture)
	bad := failingServer(t)

	f := NewFetcher(logx.Nop())
	items, err := f.Fetch(context.Background(), SourceConfig{
		Key:   "blog",
		Feeds: []string{bad.URL, good.URL},
	})
	if err != nil {
		t.Fatalf("Fetch with one dead feed: %v", err)
	}
	if len(items) != 2 {
		t.Fatalf("got %d items, want 2 from the surviving feed", len(items))
	}
	// Newest first.
	if items[0].Title != "Post Two" || items[1].Title != "Post One" {
		t.Errorf("items out of order: %q, %q", items[0].Title, items[1].Title)
	}
}

func TestFetchFailsWhenAllFeedsFail(t *testing.T) {
	t.Parallel()
	bad := failingServer(t)

	f := NewFetcher(logx.Nop())
	_, err := f.Fetch(context.Background(), SourceConfig{
		Key:   "blog",
		Feeds: []string{bad.URL, bad.URL},
	})
	if err == nil {
		t.Fatal("Fetch succeeded although every feed failed")
	}
	if !strings.Contains(err.Error(), "all 2 feeds failed") {
		t.Errorf("err = %v, want the all-feeds-failed message", err)
	}
}

func TestFetchAppliesItemLimit(t *testing.T) {
	t.Parallel()
	srv := rssServer(t, rssFixture)

	f := NewFetcher(logx.Nop())
	items, err := f.Fetch(context.Background(), SourceConfig{
		Key:   "blog",
		Feeds: []string{srv.URL},
		Limit: 1,
	})
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("got %d items, want the configured limit of 1", len(items))
	}
	if items[0].Title != "Post Two" {
		t.Errorf("kept %q, want the newest item", items[0].Title)
	}
}
