// Standalone mock event feed for testing the CLI.
//
// Usage:
//
//	go run ./example/cmd/mockserver
//
// Then in another terminal:
//
//	go run ./cmd/pulsesync serve -c example/config.yaml
//
// POST /invalidate/{stream} makes the next page of that stream ask for a
// cache rebuild.
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/jpalmerr/pulsesync/example/mockfeed"
)

func main() {
	fmt.Println("Mock event feed starting on :9999")
	fmt.Println("Pages at /events/{stream}?since={cursor}, one new event per stream every 2s")
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()

	feed := mockfeed.New("/events", mockfeed.WithPeriod(2*time.Second))

	mux := http.NewServeMux()
	mux.Handle("/events/", feed)
	mux.HandleFunc("POST /invalidate/{stream}", func(w http.ResponseWriter, r *http.Request) {
		feed.Invalidate(r.PathValue("stream"))
		w.WriteHeader(http.StatusAccepted)
	})

	if err := http.ListenAndServe(":9999", mux); err != nil {
		slog.Error("server error", "error", err)
		os.Exit(1)
	}
}
