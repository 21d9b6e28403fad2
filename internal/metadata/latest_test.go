package metadata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestLatestClient_Fetch(t *testing.T) {
	tests := []struct {
		name       string
		response   string
		statusCode int
		wantErr    bool
		wantNil    bool
		wantTitle  string
		wantArtist string
		wantCover  string
	}{
		{
			name: "string image template",
			response: `{
				"data": [
					{
						"titles": {"primary": "Bohemian Rhapsody", "secondary": "Queen"},
						"image_url": "https://ichef.example.com/images/ic/{recipe}/p01.jpg"
					}
				]
			}`,
			statusCode: http.StatusOK,
			wantTitle:  "Bohemian Rhapsody",
			wantArtist: "Queen",
			wantCover:  "https://ichef.example.com/images/ic/400x400/p01.jpg",
		},
		{
			name: "object image template",
			response: `{
				"data": [
					{
						"titles": {"primary": "Yellow", "secondary": "Coldplay"},
						"image_url": {"template": "https://ichef.example.com/images/ic/{recipe}/p02.jpg"}
					}
				]
			}`,
			statusCode: http.StatusOK,
			wantTitle:  "Yellow",
			wantArtist: "Coldplay",
			wantCover:  "https://ichef.example.com/images/ic/400x400/p02.jpg",
		},
		{
			name: "synopses image fallback",
			response: `{
				"data": [
					{
						"titles": {"primary": "Creep", "secondary": "Radiohead"},
						"synopses": {"image_url": {"template": "https://ichef.example.com/images/ic/{recipe}/p03.jpg"}}
					}
				]
			}`,
			statusCode: http.StatusOK,
			wantTitle:  "Creep",
			wantArtist: "Radiohead",
			wantCover:  "https://ichef.example.com/images/ic/400x400/p03.jpg",
		},
		{
			name:       "no image",
			response:   `{"data": [{"titles": {"primary": "News", "secondary": ""}}]}`,
			statusCode: http.StatusOK,
			wantTitle:  "News",
		},
		{
			name:       "empty feed",
			response:   `{"data": []}`,
			statusCode: http.StatusOK,
			wantNil:    true,
		},
		{
			name:       "titleless segment",
			response:   `{"data": [{"titles": {"primary": "  ", "secondary": "X"}}]}`,
			statusCode: http.StatusOK,
			wantNil:    true,
		},
		{
			name:       "server error",
			response:   `{}`,
			statusCode: http.StatusBadGateway,
			wantErr:    true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/v2/services/bbc_radio_two/segments/latest" {
					t.Errorf("unexpected path: %s", r.URL.Path)
				}
				if got := r.URL.Query().Get("limit"); got != "1" {
					t.Errorf("limit = %q, want 1", got)
				}
				w.WriteHeader(tt.statusCode)
				w.Write([]byte(tt.response))
			}))
			defer server.Close()

			client := NewLatestClient(WithLatestBaseURL(server.URL))

			meta, err := client.Fetch(context.Background(), "bbc_radio_two", &fakeCovers{})
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
			if meta.CoverURL != tt.wantCover {
				t.Errorf("CoverURL = %q, want %q", meta.CoverURL, tt.wantCover)
			}
		})
	}
}
