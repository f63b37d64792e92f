// Backend is a simple test HTTP server used for load balancer testing.
// It answers /health, echoes every other request as JSON tagged with its
// own name, and can stream a chunked body to exercise the forwarder's
// streaming path.
//
// Usage:
//
//	go run ./scripts/backend -port 8081 -name ep1
//	go run ./scripts/backend -port 8082 -name ep2 -chunks 10 -chunk-delay 200ms
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"time"
)

func main() {
	var (
		port       = flag.Int("port", 8081, "Port to listen on")
		name       = flag.String("name", "", "Name reported in responses (defaults to the port)")
		chunks     = flag.Int("chunks", 0, "If > 0, stream this many chunks on /v1/completions")
		chunkDelay = flag.Duration("chunk-delay", 100*time.Millisecond, "Delay between streamed chunks")
		unhealthy  = flag.Bool("unhealthy", false, "Answer /health with 503")
	)
	flag.Parse()

	server := *name
	if server == "" {
		server = fmt.Sprintf("backend-%d", *port)
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if *unhealthy {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		log.Printf("%s %s %s from %s", r.Method, r.URL.Path, r.URL.RawQuery, r.RemoteAddr)

		if *chunks > 0 && r.URL.Path == "/v1/completions" {
			w.Header().Set("Content-Type", "text/event-stream")
			flusher := w.(http.Flusher)
			for i := 0; i < *chunks; i++ {
				fmt.Fprintf(w, "data: {\"server\":%q,\"token\":%d}\n\n", server, i)
				flusher.Flush()
				time.Sleep(*chunkDelay)
			}
			return
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{
			"server": server,
			"method": r.Method,
			"path":   r.URL.Path,
			"query":  r.URL.RawQuery,
		})
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("test backend %s listening on %s", server, addr)
	log.Fatal(http.ListenAndServe(addr, mux))
}
