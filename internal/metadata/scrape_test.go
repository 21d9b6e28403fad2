package metadata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

type fakeSearcher struct {
	url    string
	err    error
	artist string
	title  string
}

func (f *fakeSearcher) Search(_ context.Context, artist, title string) (string, error) {
	f.artist = artist
	f.title = title
	return f.url, f.err
}

func TestScrapeClient_Fetch(t *testing.T) {
	tests := []struct {
		name       string
		page       string
		statusCode int
		wantErr    bool
		wantNil    bool
		wantTitle  string
		wantArtist string
	}{
		{
			name: "title and artist extracted",
			page: `<html><body>
				<p class="titre-song"><a href="/song/123">Le Banana Split</a></p>
				<p class="titre-song2"><a href="/artist/45">Lio</a></p>
			</body></html>`,
			statusCode: http.StatusOK,
			wantTitle:  "Le Banana Split",
			wantArtist: "Lio",
		},
		{
			name: "markers split across lines",
			page: `<p
				class="titre-song"><a
				href="/song/9">Il   jouait
				du piano debout</a></p>
				<p class="titre-song2"><a href="/a/1">France Gall</a></p>`,
			statusCode: http.StatusOK,
			wantTitle:  "Il jouait du piano debout",
			wantArtist: "France Gall",
		},
		{
			name:       "missing artist yields nothing",
			page:       `<p class="titre-song"><a href="/s/1">Alone</a></p>`,
			statusCode: http.StatusOK,
			wantNil:    true,
		},
		{
			name:       "missing title yields nothing",
			page:       `<p class="titre-song2"><a href="/a/1">Solo Artist</a></p>`,
			statusCode: http.StatusOK,
			wantNil:    true,
		},
		{
			name:       "markers absent",
			page:       `<html><body>maintenance</body></html>`,
			statusCode: http.StatusOK,
			wantNil:    true,
		},
		{
			name:       "server error",
			page:       ``,
			statusCode: http.StatusServiceUnavailable,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.page))
			}))
			defer server.Close()

			client := NewScrapeClient(WithScrapeBaseURL(server.URL))

			meta, err := client.Fetch(context.Background(), "radio-info.php", &fakeCovers{})
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if tt.wantNil {
				if meta != nil {
					t.Fatalf("expected nil metadata, got %+v", meta)
				}
				return
			}
			if meta == nil {
				t.Fatal("expected metadata, got nil")
			}
			if meta.Title != tt.wantTitle {
				t.Errorf("Title = %q, want %q", meta.Title, tt.wantTitle)
			}
			if meta.Artist != tt.wantArtist {
				t.Errorf("Artist = %q, want %q", meta.Artist, tt.wantArtist)
			}
		})
	}
}

func TestScrapeClient_FetchResolvesArtwork(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p class="titre-song"><a href="/s/1">Magnolias for Ever</a></p>` +
			`<p class="titre-song2"><a href="/a/1">Claude Francois</a></p>`))
	}))
	defer server.Close()

	searcher := &fakeSearcher{url: "https://covers.example.com/m.jpg"}
	covers := &fakeCovers{data: []byte{1, 2, 3}}

	client := NewScrapeClient(
		WithScrapeBaseURL(server.URL),
		WithScrapeArtworkSearcher(searcher),
	)

	meta, err := client.Fetch(context.Background(), "", covers)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil {
		t.Fatal("expected metadata, got nil")
	}
	if searcher.artist != "Claude Francois" || searcher.title != "Magnolias for Ever" {
		t.Errorf("searcher called with artist=%q title=%q", searcher.artist, searcher.title)
	}
	if meta.CoverURL != searcher.url {
		t.Errorf("CoverURL = %q, want %q", meta.CoverURL, searcher.url)
	}
	if len(meta.CoverImage) == 0 {
		t.Error("expected cover image bytes")
	}
}

func TestScrapeClient_FetchSearchFailureKeepsTrack(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`<p class="titre-song"><a href="/s/1">T</a></p>` +
			`<p class="titre-song2"><a href="/a/1">A</a></p>`))
	}))
	defer server.Close()

	client := NewScrapeClient(
		WithScrapeBaseURL(server.URL),
		WithScrapeArtworkSearcher(&fakeSearcher{err: errors.New("not found")}),
	)

	meta, err := client.Fetch(context.Background(), "", &fakeCovers{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if meta == nil || meta.Title != "T" || meta.Artist != "A" {
		t.Fatalf("got %+v", meta)
	}
	if meta.CoverURL != "" || meta.CoverImage != nil {
		t.Errorf("expected no cover, got url=%q", meta.CoverURL)
	}
}
