// Loadtest is a concurrent HTTP load testing tool that measures
// throughput, latency percentiles, and per-endpoint distribution for
// load balancer testing. It pairs with scripts/backend, whose JSON
// responses carry the serving endpoint's name.
//
// Usage:
//
//	go run ./scripts/loadtest -url http://localhost:8080/v1/models -concurrency 10 -requests 1000
//	go run ./scripts/loadtest -url http://localhost:8080 -concurrency 50 -requests 5000 -out summary.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

type endpointStats struct {
	Count     int32           `json:"count"`
	Success   int32           `json:"success"`
	Failure   int32           `json:"failure"`
	Latencies []time.Duration `json:"-"`
}

type summary struct {
	Total     int32                     `json:"total"`
	Success   int32                     `json:"success"`
	Failure   int32                     `json:"failure"`
	Duration  string                    `json:"duration"`
	Rps       float64                   `json:"requests_per_second"`
	P50Ms     float64                   `json:"p50_ms"`
	P90Ms     float64                   `json:"p90_ms"`
	P99Ms     float64                   `json:"p99_ms"`
	Endpoints map[string]*endpointStats `json:"endpoints"`
	Statuses  map[int]int32             `json:"status_codes"`
}

func main() {
	var (
		url         = flag.String("url", "http://localhost:8080/v1/models", "Target URL")
		concurrency = flag.Int("concurrency", 10, "Number of concurrent workers")
		requests    = flag.Int("requests", 100, "Total number of requests to send")
		method      = flag.String("method", "GET", "HTTP method")
		timeoutSec  = flag.Int("timeout", 10, "Per-request timeout in seconds")
		outJSON     = flag.String("out", "", "Write JSON summary to this file (optional)")
	)
	flag.Parse()

	client := &http.Client{Timeout: time.Duration(*timeoutSec) * time.Second}

	jobs := make(chan int)
	var wg sync.WaitGroup

	var total, success, failure int32

	stats := make(map[string]*endpointStats)
	var statsMu sync.Mutex

	var allLatencies []time.Duration
	var latMu sync.Mutex

	statusCodes := make(map[int]int32)
	var statusMu sync.Mutex

	testStart := time.Now()

	for i := 0; i < *concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range jobs {
				atomic.AddInt32(&total, 1)
				start := time.Now()

				req, err := http.NewRequest(*method, *url, nil)
				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}

				resp, err := client.Do(req)
				dur := time.Since(start)

				latMu.Lock()
				allLatencies = append(allLatencies, dur)
				latMu.Unlock()

				if err != nil {
					atomic.AddInt32(&failure, 1)
					continue
				}

				var body struct {
					Server string `json:"server"`
				}
				json.NewDecoder(resp.Body).Decode(&body)
				resp.Body.Close()

				statusMu.Lock()
				statusCodes[resp.StatusCode]++
				statusMu.Unlock()

				server := body.Server
				if server == "" {
					server = "unknown"
				}

				statsMu.Lock()
				st, ok := stats[server]
				if !ok {
					st = &endpointStats{}
					stats[server] = st
				}
				st.Count++
				st.Latencies = append(st.Latencies, dur)
				if resp.StatusCode >= 200 && resp.StatusCode < 400 {
					st.Success++
					atomic.AddInt32(&success, 1)
				} else {
					st.Failure++
					atomic.AddInt32(&failure, 1)
				}
				statsMu.Unlock()
			}
		}()
	}

	for i := 0; i < *requests; i++ {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	elapsed := time.Since(testStart)

	sort.Slice(allLatencies, func(i, j int) bool { return allLatencies[i] < allLatencies[j] })

	sum := summary{
		Total:     total,
		Success:   success,
		Failure:   failure,
		Duration:  elapsed.String(),
		Rps:       float64(total) / elapsed.Seconds(),
		P50Ms:     percentileMs(allLatencies, 0.50),
		P90Ms:     percentileMs(allLatencies, 0.90),
		P99Ms:     percentileMs(allLatencies, 0.99),
		Endpoints: stats,
		Statuses:  statusCodes,
	}

	fmt.Printf("total=%d success=%d failure=%d rps=%.1f p50=%.1fms p90=%.1fms p99=%.1fms\n",
		sum.Total, sum.Success, sum.Failure, sum.Rps, sum.P50Ms, sum.P90Ms, sum.P99Ms)
	for name, st := range stats {
		share := float64(st.Count) / float64(total) * 100
		fmt.Printf("  %-20s count=%-6d share=%.1f%% success=%d failure=%d\n",
			name, st.Count, share, st.Success, st.Failure)
	}

	if *outJSON != "" {
		f, err := os.Create(*outJSON)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create summary file: %v\n", err)
			os.Exit(1)
		}
		defer f.Close()
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		enc.Encode(sum)
	}
}

func percentileMs(sorted []time.Duration, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(float64(len(sorted)) * p)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx]) / float64(time.Millisecond)
}
