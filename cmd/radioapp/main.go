// Package main is the entry point for the RadioApp playback backend.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ltn22/RadioApp/internal/artwork"
	"github.com/ltn22/RadioApp/internal/cast"
	"github.com/ltn22/RadioApp/internal/metadata"
	"github.com/ltn22/RadioApp/internal/player"
	"github.com/ltn22/RadioApp/internal/station"
	"github.com/ltn22/RadioApp/internal/stats"
	"github.com/ltn22/RadioApp/internal/transport/socketio"
	"github.com/ltn22/RadioApp/internal/version"
)

func main() {
	// Command line flags
	port := flag.String("port", "3001", "HTTP server port")
	stationsPath := flag.String("stations", "stations.yaml", "Station catalog file")
	dbPath := flag.String("db", "radioapp.db", "SQLite statistics database")
	castURL := flag.String("cast-url", "", "Cast receiver control socket URL (empty disables casting)")
	staticDir := flag.String("static", "", "Directory to serve static files from (optional)")
	debug := flag.Bool("debug", false, "Enable debug logging")
	flag.Parse()

	// Setup logging
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	if *debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	} else {
		zerolog.SetGlobalLevel(zerolog.InfoLevel)
	}
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Each running instance gets a fresh id so clients and health probes can
	// tell a restart from a reconnect.
	instanceID := uuid.NewString()

	// Print startup banner
	versionInfo := version.GetInfo()
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().Msgf("  %s", versionInfo.String())
	log.Info().Msg("  Internet Radio Playback Backend")
	log.Info().Msg("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	log.Info().
		Str("port", *port).
		Str("stations", *stationsPath).
		Str("db", *dbPath).
		Bool("cast_enabled", *castURL != "").
		Str("instance_id", instanceID).
		Msg("Configuration")

	// Load the station catalog
	catalog, err := station.LoadCatalog(*stationsPath)
	if err != nil {
		log.Fatal().Err(err).Str("path", *stationsPath).Msg("Failed to load station catalog")
	}
	log.Info().Int("stations", catalog.Len()).Msg("Station catalog loaded")

	// Open the statistics store
	store := stats.NewStore(*dbPath)
	if err := store.Open(); err != nil {
		log.Fatal().Err(err).Str("path", *dbPath).Msg("Failed to open statistics database")
	}
	defer store.Close()

	tracker := stats.NewTracker(store)

	// Artwork resolver doubles as cover fetcher and inline-tag searcher
	art := artwork.NewResolver()

	aggregator := metadata.NewAggregator(art,
		metadata.WithScrapeClient(metadata.NewScrapeClient(
			metadata.WithScrapeArtworkSearcher(art),
		)),
	)

	// Cast receiver client; without a URL playback stays local-only
	var castOpts []cast.Option
	if *castURL != "" {
		castOpts = append(castOpts, cast.WithURL(*castURL))
	}
	castClient := cast.NewClient(castOpts...)
	defer castClient.Close()

	// Create the playback controller
	controller := player.NewController(player.Config{
		Catalog:  catalog,
		Tracker:  tracker,
		Bytes:    store,
		Metadata: aggregator,
		Artwork:  art,
		Remote:   castClient,
	})
	defer controller.Close()

	castClient.SetListener(controller)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := castClient.Connect(ctx); err != nil {
		// Casting is optional; the local output keeps working without it.
		log.Warn().Err(err).Msg("Cast receiver unavailable")
	}

	// Create Socket.io server
	socketServer, err := socketio.NewServer(controller, catalog, store)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create Socket.io server")
	}
	defer socketServer.Close()

	controller.SetListener(socketServer)

	// Setup HTTP server
	mux := http.NewServeMux()

	// Socket.io endpoint
	mux.Handle("/socket.io/", socketServer)

	// Health check
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"status":     "ok",
			"instanceId": instanceID,
			"state":      controller.Status().State,
		})
	})

	// Version endpoint
	mux.HandleFunc("/api/v1/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]any{
			"name":       version.Name,
			"version":    version.Version,
			"buildTime":  version.BuildTime,
			"gitCommit":  version.GitCommit,
			"instanceId": instanceID,
		})
	})

	// Usage statistics endpoint (REST fallback for the Socket.io getStats)
	mux.HandleFunc("/api/v1/stats", func(w http.ResponseWriter, r *http.Request) {
		type entry struct {
			StationID       int    `json:"stationId"`
			StationName     string `json:"stationName"`
			PlayCount       int64  `json:"playCount"`
			ListeningTime   string `json:"listeningTime"`
			ListeningTimeMs int64  `json:"listeningTimeMs"`
			DataConsumed    string `json:"dataConsumed"`
			DataBytes       int64  `json:"dataBytes"`
		}
		entries := make([]entry, 0, catalog.Len())
		for _, st := range catalog.SortedByPlayCount(store) {
			plays, _ := store.GetPlayCount(st.ID)
			ms, _ := store.GetListeningTime(st.ID)
			bytes, _ := store.GetDataConsumed(st.ID)
			entries = append(entries, entry{
				StationID:       st.ID,
				StationName:     st.Name,
				PlayCount:       plays,
				ListeningTime:   stats.FormatListeningTime(ms),
				ListeningTimeMs: ms,
				DataConsumed:    stats.FormatDataSize(bytes),
				DataBytes:       bytes,
			})
		}
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(entries)
	})

	// Basic state endpoint (REST fallback)
	mux.HandleFunc("/api/v1/getState", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(controller.Status())
	})

	// Serve static files if directory specified (SPA mode)
	if *staticDir != "" {
		log.Info().Str("dir", *staticDir).Msg("Serving static files")
		fs := http.FileServer(http.Dir(*staticDir))
		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			path := *staticDir + r.URL.Path
			if r.URL.Path == "/" {
				path = *staticDir + "/index.html"
			}
			if _, err := os.Stat(path); os.IsNotExist(err) {
				// For SPA routing, serve index.html for non-existing paths
				http.ServeFile(w, r, *staticDir+"/index.html")
				return
			}
			fs.ServeHTTP(w, r)
		})
	}

	// Start HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      corsMiddleware(mux),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh

		log.Info().Msg("Shutting down...")

		// Stop playback first so listening time and byte counters are
		// flushed to the store before it closes.
		controller.Stop()
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	log.Info().Str("addr", ":"+*port).Msg("HTTP server listening")
	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("HTTP server error")
	}

	log.Info().Msg("Server stopped")
}
