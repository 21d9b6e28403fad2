package artwork

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
)

func testResolver(t *testing.T, handler http.HandlerFunc) *Resolver {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewResolver(WithBaseURL(srv.URL), WithHTTPClient(srv.Client()))
}

func TestSearchPrefers600(t *testing.T) {
	r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		if got := req.URL.Query().Get("media"); got != "music" {
			t.Errorf("media = %q, want music", got)
		}
		if got := req.URL.Query().Get("term"); got != "Daft Punk One More Time" {
			t.Errorf("term = %q", got)
		}
		w.Write([]byte(`{"resultCount":1,"results":[{"artworkUrl600":"http://img.example/600.jpg","artworkUrl100":"http://img.example/100.jpg"}]}`))
	})

	url, err := r.Search(context.Background(), "Daft Punk", "One More Time")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if url != "http://img.example/600.jpg" {
		t.Errorf("url = %q, want 600px rendition", url)
	}
}

func TestSearchFallsBackTo100(t *testing.T) {
	r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte(`{"resultCount":1,"results":[{"artworkUrl100":"http://img.example/100.jpg"}]}`))
	})

	url, err := r.Search(context.Background(), "a", "b")
	if err != nil {
		t.Fatalf("Search() error = %v", err)
	}
	if url != "http://img.example/100.jpg" {
		t.Errorf("url = %q, want 100px rendition", url)
	}
}

func TestSearchNotFound(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty results", `{"resultCount":0,"results":[]}`},
		{"result without artwork", `{"resultCount":1,"results":[{}]}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
				w.Write([]byte(tt.body))
			})
			if _, err := r.Search(context.Background(), "x", "y"); !errors.Is(err, ErrNotFound) {
				t.Errorf("Search() error = %v, want ErrNotFound", err)
			}
		})
	}
}

func TestSearchTemporaryFailure(t *testing.T) {
	r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	if _, err := r.Search(context.Background(), "x", "y"); !errors.Is(err, ErrTemporaryFailure) {
		t.Errorf("Search() error = %v, want ErrTemporaryFailure", err)
	}
}

func TestSearchUnexpectedStatus(t *testing.T) {
	r := testResolver(t, func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})

	_, err := r.Search(context.Background(), "x", "y")
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrTemporaryFailure) {
		t.Errorf("Search() error = %v, want plain error", err)
	}
}

func tinyPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 1, 1))
	img.Set(0, 0, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestDownload(t *testing.T) {
	cover := tinyPNG(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		switch req.URL.Path {
		case "/cover.png":
			w.Write(cover)
		case "/broken.png":
			w.Write([]byte("this is not an image"))
		default:
			http.NotFound(w, req)
		}
	}))
	defer srv.Close()

	r := NewResolver(WithHTTPClient(srv.Client()))

	t.Run("valid image", func(t *testing.T) {
		data := r.Download(context.Background(), srv.URL+"/cover.png")
		if !bytes.Equal(data, cover) {
			t.Errorf("Download() = %d bytes, want the served image", len(data))
		}
	})

	t.Run("undecodable body", func(t *testing.T) {
		if data := r.Download(context.Background(), srv.URL+"/broken.png"); data != nil {
			t.Errorf("Download() = %d bytes for garbage body, want nil", len(data))
		}
	})

	t.Run("missing image", func(t *testing.T) {
		if data := r.Download(context.Background(), srv.URL+"/missing.png"); data != nil {
			t.Errorf("Download() = %d bytes for 404, want nil", len(data))
		}
	})
}

func TestRateLimiterHonorsContext(t *testing.T) {
	l := newRateLimiter(1)

	if err := l.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if err := l.Wait(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Wait() after cancel = %v, want context.Canceled", err)
	}
}
