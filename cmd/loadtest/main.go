// Command loadtest submits generated documents to a running pipeline and
// reports submit latency and, with -wait, time to a terminal status.
//
// Usage:
//
//	go run ./cmd/loadtest -url http://localhost:8080 -concurrency 8 -duration 30s -wait
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Sections    int
	Strategy    string
	Wait        bool
}

// latencies is an append-only sample set safe for concurrent use.
type latencies struct {
	mu      sync.Mutex
	samples []time.Duration
}

func (l *latencies) add(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, d)
	l.mu.Unlock()
}

func (l *latencies) sorted() []time.Duration {
	l.mu.Lock()
	out := append([]time.Duration(nil), l.samples...)
	l.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

type Stats struct {
	submitted atomic.Int64
	rejected  atomic.Int64
	errors    atomic.Int64
	completed atomic.Int64
	failed    atomic.Int64

	submitLatency     latencies
	completionLatency latencies

	statusMu    sync.Mutex
	statusCodes map[int]int64
}

func NewStats() *Stats {
	return &Stats{statusCodes: make(map[int]int64)}
}

func (s *Stats) recordSubmit(d time.Duration, statusCode int, err error) {
	if err != nil {
		s.errors.Add(1)
		return
	}
	s.statusMu.Lock()
	s.statusCodes[statusCode]++
	s.statusMu.Unlock()
	if statusCode != http.StatusAccepted {
		s.rejected.Add(1)
		return
	}
	s.submitted.Add(1)
	s.submitLatency.add(d)
}

func main() {
	cfg := Config{}
	flag.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the pipeline")
	flag.IntVar(&cfg.Concurrency, "concurrency", 8, "number of concurrent submitters")
	flag.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flag.IntVar(&cfg.Sections, "sections", 20, "markdown sections per generated document")
	flag.StringVar(&cfg.Strategy, "strategy", "", "chunking strategy to request (empty for the server default)")
	flag.BoolVar(&cfg.Wait, "wait", false, "poll each document until it reaches a terminal status")
	flag.Parse()

	fmt.Println("=== Document Pipeline Load Test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Sections:    %d per document\n", cfg.Sections)
	fmt.Println()

	stats := runLoadTest(cfg)
	printReport(stats, cfg)
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 30 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	fmt.Print("Running")
	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for n := 0; ctx.Err() == nil; n++ {
				name := fmt.Sprintf("load-%d-%d.md", workerID, n)
				start := time.Now()
				docID, code, err := submit(ctx, client, cfg, name)
				stats.recordSubmit(time.Since(start), code, err)
				if err != nil || code != http.StatusAccepted || !cfg.Wait {
					continue
				}
				status, err := waitTerminal(ctx, client, cfg.BaseURL, docID)
				if err != nil {
					continue
				}
				stats.completionLatency.add(time.Since(start))
				if status == "completed" {
					stats.completed.Add(1)
				} else {
					stats.failed.Add(1)
				}
			}
		}(w)
	}

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				fmt.Print(".")
			}
		}
	}()

	wg.Wait()
	fmt.Println(" done!")
	fmt.Println()
	return stats
}

func generateDocument(name string, sections int) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", name)
	for i := 1; i <= sections; i++ {
		fmt.Fprintf(&b, "## Section %d\n\n", i)
		for j := 1; j <= 5; j++ {
			fmt.Fprintf(&b, "Sentence %d of section %d exercises conversion and chunking under load. ", j, i)
		}
		b.WriteString("\n\n")
	}
	return []byte(b.String())
}

func submit(ctx context.Context, client *http.Client, cfg Config, name string) (string, int, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile("file", name)
	if err != nil {
		return "", 0, err
	}
	if _, err := part.Write(generateDocument(name, cfg.Sections)); err != nil {
		return "", 0, err
	}
	if cfg.Strategy != "" {
		if err := mw.WriteField("strategy", cfg.Strategy); err != nil {
			return "", 0, err
		}
	}
	if err := mw.Close(); err != nil {
		return "", 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.BaseURL+"/api/v1/documents", &body)
	if err != nil {
		return "", 0, err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := client.Do(req)
	if err != nil {
		return "", 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusAccepted {
		io.Copy(io.Discard, resp.Body)
		return "", resp.StatusCode, nil
	}
	var out struct {
		DocID string `json:"doc_id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", resp.StatusCode, err
	}
	return out.DocID, resp.StatusCode, nil
}

func waitTerminal(ctx context.Context, client *http.Client, baseURL, docID string) (string, error) {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-ticker.C:
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/v1/documents/"+docID+"/status", nil)
		if err != nil {
			return "", err
		}
		resp, err := client.Do(req)
		if err != nil {
			return "", err
		}
		var out struct {
			Status string `json:"status"`
		}
		err = json.NewDecoder(resp.Body).Decode(&out)
		resp.Body.Close()
		if err != nil {
			return "", err
		}
		switch out.Status {
		case "completed", "failed", "cancelled":
			return out.Status, nil
		}
	}
}

func printReport(stats *Stats, cfg Config) {
	submitted := stats.submitted.Load()
	rejected := stats.rejected.Load()
	errs := stats.errors.Load()
	total := submitted + rejected + errs

	fmt.Println("=== Results ===")
	fmt.Printf("Requests:        %d\n", total)
	fmt.Printf("Accepted:        %d\n", submitted)
	fmt.Printf("Rejected:        %d\n", rejected)
	fmt.Printf("Errors:          %d\n", errs)
	if total > 0 {
		fmt.Printf("Submits/sec:     %.2f\n", float64(total)/cfg.Duration.Seconds())
	}
	if cfg.Wait {
		fmt.Printf("Completed:       %d\n", stats.completed.Load())
		fmt.Printf("Failed:          %d\n", stats.failed.Load())
	}

	printLatency("Submit latency", stats.submitLatency.sorted())
	if cfg.Wait {
		printLatency("Time to terminal status", stats.completionLatency.sorted())
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code])
	}
	stats.statusMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the pipeline running?")
		os.Exit(1)
	}
}

func printLatency(title string, sorted []time.Duration) {
	if len(sorted) == 0 {
		return
	}
	var sum time.Duration
	for _, l := range sorted {
		sum += l
	}
	avg := sum / time.Duration(len(sorted))
	var sumSquared float64
	for _, l := range sorted {
		diff := float64(l) - float64(avg)
		sumSquared += diff * diff
	}

	fmt.Println()
	fmt.Printf("=== %s ===\n", title)
	fmt.Printf("Min:    %s\n", sorted[0])
	fmt.Printf("Avg:    %s\n", avg)
	fmt.Printf("P50:    %s\n", percentile(sorted, 50))
	fmt.Printf("P95:    %s\n", percentile(sorted, 95))
	fmt.Printf("P99:    %s\n", percentile(sorted, 99))
	fmt.Printf("Max:    %s\n", sorted[len(sorted)-1])
	fmt.Printf("StdDev: %s\n", time.Duration(math.Sqrt(sumSquared/float64(len(sorted)))))
}

func percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(p/100*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
