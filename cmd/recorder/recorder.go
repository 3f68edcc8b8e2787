package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/piste-data/touche.report/internal/api"
	"github.com/piste-data/touche.report/internal/camera"
	"github.com/piste-data/touche.report/internal/clip"
	"github.com/piste-data/touche.report/internal/config"
	"github.com/piste-data/touche.report/internal/db"
	"github.com/piste-data/touche.report/internal/encode"
	"github.com/piste-data/touche.report/internal/fsutil"
	"github.com/piste-data/touche.report/internal/httputil"
	"github.com/piste-data/touche.report/internal/recorder"
	"github.com/piste-data/touche.report/internal/serialmux"
	"github.com/piste-data/touche.report/internal/timeutil"
	"github.com/piste-data/touche.report/internal/version"
)

var (
	listen     = flag.String("listen", ":8080", "HTTP listen address")
	port       = flag.String("port", "", "Serial port of the scoring machine (empty disables telemetry)")
	baud       = flag.Int("baud", 9600, "Serial baud rate")
	replayFile = flag.String("replay", "", "Replay a binary telemetry capture file instead of a serial port")
	cameraID   = flag.Int("camera", 0, "Capture device ID")
	synthetic  = flag.Bool("synthetic", false, "Use the synthetic test-pattern source instead of a webcam")
	width      = flag.Int("width", 1280, "Capture width in pixels")
	height     = flag.Int("height", 720, "Capture height in pixels")
	fps        = flag.Int("fps", 30, "Capture frames per second")
	clipsDir   = flag.String("clips", "./clips", "Directory recorded clips are written to")
	dbFile     = flag.String("db", "touche.db", "Path to the SQLite database file")
	tuningFile = flag.String("tuning", "", "Path to a JSON tuning config (defaults apply when empty)")
	frameDirs  = flag.Bool("frame-dir-encoder", false, "Write clips as JPEG frame directories instead of MP4")
	check      = flag.Bool("check", false, "Probe a running recorder's health endpoint and exit")
)

// baseURL turns a listen address into a local probe URL.
func baseURL(listen string) string {
	if strings.HasPrefix(listen, ":") {
		return "http://localhost" + listen
	}
	return "http://" + listen
}

// probeHealth checks the health endpoint of a running recorder at base.
func probeHealth(client httputil.HTTPClient, base string) error {
	resp, err := client.Get(base + "/api/health")
	if err != nil {
		return fmt.Errorf("health endpoint not responding: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned status %d", resp.StatusCode)
	}

	var health map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return fmt.Errorf("failed to decode health response: %w", err)
	}
	if health["status"] != "ok" {
		return fmt.Errorf("service reports status %q", health["status"])
	}
	return nil
}

// Main
func main() {
	// "recorder migrate ..." dispatches to the migration CLI; the serve flags
	// below do not apply there.
	if len(os.Args) > 1 && os.Args[1] == "migrate" {
		fs := flag.NewFlagSet("migrate", flag.ExitOnError)
		migrateDB := fs.String("db", "touche.db", "Path to the SQLite database file")
		fs.Parse(os.Args[2:])
		db.RunMigrateCommand(fs.Args(), *migrateDB)
		return
	}

	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	if *check {
		client := httputil.NewStandardClient(&http.Client{Timeout: 5 * time.Second})
		if err := probeHealth(client, baseURL(*listen)); err != nil {
			log.Fatalf("Health check failed: %v", err)
		}
		fmt.Println("✓ Service is healthy")
		return
	}

	log.Printf("touche recorder %s", version.String())

	// Telemetry transport: capture replay beats a live port; neither means
	// manual triggers only.
	var telemetry serialmux.SerialMuxInterface
	var serialStatus string
	switch {
	case *replayFile != "":
		replay, err := serialmux.NewReplayMux(*replayFile, time.Second)
		if err != nil {
			log.Fatalf("Failed to open replay capture: %v", err)
		}
		telemetry = replay
		serialStatus = fmt.Sprintf("replaying %s", *replayFile)
	case *port != "":
		real, err := serialmux.NewRealSerialMux(*port, serialmux.PortOptions{BaudRate: *baud})
		if err != nil {
			log.Fatalf("Failed to open serial port: %v", err)
		}
		telemetry = real
		serialStatus = fmt.Sprintf("%s @ %d baud", *port, *baud)
	default:
		log.Print("No serial port configured; telemetry disabled (manual triggers only)")
		telemetry = serialmux.NewDisabledSerialMux()
		serialStatus = "disabled (manual triggers only)"
	}
	defer telemetry.Close()

	// Video source. The REC overlay callback reads the service lazily; svc is
	// assigned before Run starts pulling frames.
	var svc *recorder.Service
	captureOpts := camera.Options{
		DeviceID: *cameraID,
		Width:    *width,
		Height:   *height,
		FPS:      *fps,
		IsRecording: func() bool {
			return svc != nil && svc.Recording()
		},
	}
	var source camera.Source
	var sourceStatus string
	if *synthetic {
		source = camera.NewSynthetic(captureOpts, timeutil.RealClock{})
		sourceStatus = fmt.Sprintf("synthetic %dx%d @ %d fps", *width, *height, *fps)
	} else {
		webcam, err := camera.NewWebcam(captureOpts)
		if err != nil {
			log.Fatalf("Failed to open capture device: %v (use -synthetic to run without one)", err)
		}
		source = webcam
		sourceStatus = fmt.Sprintf("device %d, %dx%d @ %d fps", *cameraID, *width, *height, *fps)
	}

	var encoder clip.Encoder
	if *frameDirs {
		encoder = encode.NewFrameDir(*clipsDir, fsutil.OSFileSystem{})
	} else {
		writer, err := encode.NewVideoWriter(*clipsDir, *fps)
		if err != nil {
			log.Fatalf("Failed to create video encoder: %v (or use -frame-dir-encoder)", err)
		}
		encoder = writer
	}

	tuning := config.DefaultTuningConfig()
	if *tuningFile != "" {
		loaded, err := config.LoadTuningConfig(*tuningFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		tuning = loaded
		log.Printf("Loaded tuning config from %s", *tuningFile)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	svc = recorder.NewService(recorder.Config{
		Mux:     telemetry,
		Source:  source,
		Encoder: encoder,
		Store:   database,
		Tuning:  tuning,
	})
	log.Printf("Session %s: serial %s; video %s; clips in %s", svc.SessionID(), serialStatus, sourceStatus, *clipsDir)

	// Create a wait group for the HTTP server, serial monitor, and pipeline routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := telemetry.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// run the capture and telemetry loops
	wg.Add(1)
	go func() {
		defer wg.Done()
		svc.Run(ctx)
		log.Print("pipeline routine terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		apiServer := api.NewServer(svc, database)

		mux := http.NewServeMux()
		mux.Handle("/api/", http.StripPrefix("/api", apiServer.ServeMux()))

		telemetry.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)
		apiServer.AttachDebugRoutes(mux)

		// recorded clips are downloadable directly
		mux.Handle("/clips/", http.StripPrefix("/clips/", http.FileServer(http.Dir(*clipsDir))))

		mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != "/" {
				http.NotFound(w, r)
				return
			}
			w.Header().Set("Content-Type", "text/html")
			fmt.Fprintf(w, `
<!DOCTYPE html>
<html>
<head><title>Touche Recorder</title></head>
<body>
	<h1>Touche Recorder</h1>
	<p>Version %s</p>
	<p>Session %s</p>
	<p>Serial: %s</p>
	<p>Video: %s</p>
	<ul>
		<li><a href="/api/health">Health check</a></li>
		<li><a href="/api/status">Pipeline status</a></li>
		<li><a href="/api/actions">Recent actions</a></li>
		<li><a href="/api/clips">Recent clips</a></li>
		<li><a href="/clips/">Clip downloads</a></li>
		<li><a href="/debug/">Debug</a></li>
	</ul>
</body>
</html>`, version.String(), svc.SessionID(), serialStatus, sourceStatus)
		})

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
			log.Printf("Starting HTTP server on %s", *listen)
			if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		// Wait for context cancellation to shut down server
		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		// Create a shutdown context with a shorter timeout
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			// Force close the server if graceful shutdown fails
			if err := server.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	// Wait for all goroutines to finish, then let the in-flight extraction
	// drain before the source is released.
	wg.Wait()
	if err := svc.Close(); err != nil {
		log.Printf("service close error: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
