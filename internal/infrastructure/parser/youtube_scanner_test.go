package parser

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"NewsDigest/internal/logging"
	"NewsDigest/internal/scanner"
)

const channelFeed = `<?xml version="1.0" encoding="UTF-8"?>
<feed xmlns:yt="http://www.youtube.com/xml/schemas/2015" xmlns:media="http://search.yahoo.com/mrss/" xmlns="http://www.w3.org/2005/Atom">
  <title>Matthew Berman</title>
  <entry>
    <id>yt:video:abc123XYZ00</id>
    <yt:videoId>abc123XYZ00</yt:videoId>
    <title>New open model beats benchmarks</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=abc123XYZ00"/>
    <published>2025-11-08T09:00:00+00:00</published>
    <media:group>
      <media:title>New open model beats benchmarks</media:title>
      <media:description>A walkthrough of the release.</media:description>
    </media:group>
  </entry>
  <entry>
    <id>yt:video:old00000000</id>
    <yt:videoId>old00000000</yt:videoId>
    <title>Last week video</title>
    <link rel="alternate" href="https://www.youtube.com/watch?v=old00000000"/>
    <published>2025-10-30T09:00:00+00:00</published>
  </entry>
</feed>`

func TestYouTubeScannerScan(t *testing.T) {
	t.Parallel()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/feeds/videos.xml":
			if r.URL.Query().Get("channel_id") != "UCawZsQWqfGSbCI5yjkdVkTA" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte(channelFeed))
		case "/transcript":
			if r.URL.Query().Get("video_id") != "abc123XYZ00" {
				http.NotFound(w, r)
				return
			}
			_, _ = w.Write([]byte("hello and welcome\n to the video"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	sc := NewYouTubeScanner(server.Client(), "", logging.Discard())
	sc.feedBase = server.URL + "/feeds/videos.xml"

	req := scanner.Request{
		Day:      scanDay,
		Since:    scanDay.Add(-24 * time.Hour),
		SiteName: "YouTube",
		Feeds:    []scanner.Feed{{Name: "Matthew Berman", URL: "https://www.youtube.com/channel/UCawZsQWqfGSbCI5yjkdVkTA"}},
	}

	items, err := sc.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan error: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("expected 1 video, got %d", len(items))
	}
	if items[0].CanonicalID != "youtube:abc123XYZ00" {
		t.Fatalf("unexpected canonical id %q", items[0].CanonicalID)
	}
	if items[0].Text != "A walkthrough of the release." {
		t.Fatalf("expected media description, got %q", items[0].Text)
	}

	req.Options = map[string]string{"transcriptEndpoint": server.URL + "/transcript"}
	items, err = sc.Scan(context.Background(), req)
	if err != nil {
		t.Fatalf("Scan with transcripts error: %v", err)
	}
	if items[0].Text != "hello and welcome to the video" {
		t.Fatalf("expected transcript text, got %q", items[0].Text)
	}
}

func TestYouTubeScannerRejectsUnknownChannel(t *testing.T) {
	t.Parallel()

	sc := NewYouTubeScanner(nil, "", logging.Discard())
	_, err := sc.Scan(context.Background(), scanner.Request{
		Day:   scanDay,
		Feeds: []scanner.Feed{{Name: "bad", URL: "@somehandle"}},
	})
	if err == nil {
		t.Fatal("expected error for unparseable channel")
	}
}

func TestVideoIDFromURL(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		"https://www.youtube.com/watch?v=abc123XYZ00&t=10": "abc123XYZ00",
		"https://youtu.be/abc123XYZ00?si=share":            "abc123XYZ00",
		"https://www.youtube.com/embed/abc123XYZ00":        "abc123XYZ00",
		"https://www.youtube.com/shorts/abc123XYZ00":       "abc123XYZ00",
		"https://example.com/video":                        "",
	}
	for link, want := range cases {
		if got := videoIDFromURL(link); got != want {
			t.Errorf("videoIDFromURL(%q) = %q, want %q", link, got, want)
		}
	}
}
