/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the booking engine server. Handles
  configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store (bookings + settlement)
  3. Wire the ledger, lifecycle engine and notifier
  4. Start the completion scheduler (immediate first sweep)
  5. Start the HTTP server with graceful shutdown

COMMAND-LINE FLAGS:
  -port    HTTP server port (default: 8080)
  -db      SQLite database path (default: bookings.db)
           Use ":memory:" for in-memory database
  -sweep   Completion sweep interval (default: 60s)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler, waiting for an in-flight sweep
  4. Close database connection
  5. Exit

EXAMPLES:
  # Run with file database
  ./server -db="./data/bookings.db"

  # Run with in-memory database and a fast sweep
  ./server -db=":memory:" -sweep=5s

ENVIRONMENT:
  No environment variables currently. All config via flags.

SEE ALSO:
  - api/server.go: Router configuration
  - booking/scheduler.go: The completion sweep
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/classly/booking-engine/api"
	"github.com/classly/booking-engine/booking"
	"github.com/classly/booking-engine/notify"
	"github.com/classly/booking-engine/settlement"
	"github.com/classly/booking-engine/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "bookings.db", "SQLite database path")
	sweep := flag.Duration("sweep", 60*time.Second, "completion sweep interval")
	flag.Parse()

	// Initialize store (implements both booking.Store and settlement.Store)
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Wire the domain
	notifier := notify.LogNotifier{}
	ledger := settlement.NewLedger(store, notifier)
	engine := booking.NewEngine(store, ledger, notifier)

	// Background completion sweep
	scheduler := booking.NewCompletionScheduler(engine, store)
	scheduler.Interval = *sweep
	scheduler.Start()
	defer scheduler.Stop()

	// HTTP surface
	handler := api.NewHandler(engine, ledger)
	router := api.NewRouter(handler)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("🚀 Server starting on http://localhost:%d", *port)
		log.Printf("📊 API available at http://localhost:%d/api", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
