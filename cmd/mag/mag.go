package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/banshee-data/compass.report/internal/api"
	"github.com/banshee-data/compass.report/internal/board"
	"github.com/banshee-data/compass.report/internal/config"
	"github.com/banshee-data/compass.report/internal/db"
	"github.com/banshee-data/compass.report/internal/mag/monitor"
	"github.com/banshee-data/compass.report/internal/session"
	"github.com/banshee-data/compass.report/internal/version"
)

var (
	devMode       = flag.Bool("dev", false, "Run in dev mode with a simulated sense board")
	disableBoard  = flag.Bool("disable-board", false, "Run without a board: API and stored data only")
	listen        = flag.String("listen", ":8080", "Listen address")
	port          = flag.String("port", "/dev/ttyACM0", "Serial port to use (ignored in dev mode)")
	baud          = flag.Int("baud", 0, "Serial baud rate (0 uses the tuning config)")
	dbFile        = flag.String("db", "compass_data.db", "Path to the SQLite database file")
	configFile    = flag.String("config", "", "Path to a tuning config JSON file")
	meshN         = flag.Int("mesh-n", 0, "Default coverage mesh divisions (0 uses the tuning config)")
	mockInterval  = flag.Duration("mock-interval", 250*time.Millisecond, "Sample cadence of the dev-mode board")
	migrationsDir = flag.String("migrations", "internal/db/migrations", "Path to the migrations directory")
)

// Main
func main() {
	flag.Parse()

	// `mag migrate <action>` manages schema versions and exits.
	if args := flag.Args(); len(args) > 0 && args[0] == "migrate" {
		db.RunMigrateCommand(args[1:], *dbFile, *migrationsDir)
		return
	}

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	log.Printf("compass.report %s", version.String())

	cfg := config.EmptyTuningConfig()
	if *configFile != "" {
		var err error
		cfg, err = config.LoadTuningConfig(*configFile)
		if err != nil {
			log.Fatalf("Failed to load tuning config: %v", err)
		}
		log.Printf("loaded tuning config from %s", *configFile)
	}
	if *meshN > 0 {
		cfg.MeshDivisions = meshN
	}

	var boardMux board.BoardMuxInterface
	switch {
	case *devMode:
		boardMux = board.NewMockBoardMux(*mockInterval)
	case *disableBoard:
		boardMux = board.NewDisabledBoardMux()
	default:
		if *port == "" {
			log.Fatal("Serial port is required")
		}
		baudRate := *baud
		if baudRate <= 0 {
			baudRate = cfg.GetBaudRate()
		}
		var err error
		boardMux, err = board.NewRealBoardMux(*port, board.PortOptions{BaudRate: baudRate})
		if err != nil {
			log.Fatalf("failed to open board port %s: %v", *port, err)
		}
	}
	defer boardMux.Close()

	if err := boardMux.Initialize(); err != nil {
		log.Fatalf("failed to initialize board: %v", err)
	}

	database, err := db.NewDB(*dbFile)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer database.Close()

	if stamped, err := database.BaselineIfFresh(*migrationsDir); err != nil {
		log.Fatalf("Failed to baseline fresh database: %v", err)
	} else if stamped {
		log.Printf("new database stamped at the current schema version")
	}
	if shouldExit, err := database.CheckAndPromptMigrations(*migrationsDir); shouldExit {
		log.Fatal(err)
	} else if err != nil {
		log.Fatalf("Migration check failed: %v", err)
	}

	recorder := session.NewRecorder(database, cfg, nil)

	// Create a wait group for the HTTP server, serial monitor, and recorder routines
	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// run the monitor routine to manage IO on the serial port
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := boardMux.Monitor(ctx); err != nil && err != context.Canceled {
			log.Printf("failed to monitor serial port: %v", err)
		}
		log.Print("monitor routine terminated")
	}()

	// subscribe to the board's line stream
	// and pass samples to the recorder
	wg.Add(1)
	go func() {
		defer wg.Done()
		id, c := boardMux.Subscribe()
		defer boardMux.Unsubscribe(id)
		for {
			select {
			case line := <-c:
				if err := recorder.HandleLine(line); err != nil {
					log.Printf("error handling board line: %v", err)
				}
			case <-ctx.Done():
				log.Printf("subscribe routine terminated")
				return
			}
		}
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		// create a new API server instance using the board mux, database and
		// recorder, and mount the API handlers
		mux := api.NewServer(boardMux, database, recorder, cfg).ServeMux()

		boardMux.AttachAdminRoutes(mux)
		database.AttachAdminRoutes(mux)
		monitor.NewChartHandlers(recorder, database).Attach(mux)

		server := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		// Start server in a goroutine so it doesn't block
		go func() {
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

	// Wait for all goroutines to finish
	wg.Wait()

	// Close out any session still recording so its stop time is persisted.
	if _, err := recorder.Stop(); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
		log.Printf("failed to stop active session: %v", err)
	}
	log.Printf("Graceful shutdown complete")
}
