package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"math"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	// Collide is the share of requests that reuse a number from a small hot
	// pool, so that concurrent creates race on the same card.
	Collide     float64
	HotPool     int
	Cleanup     bool
}

type Stats struct {
	totalRequests atomic.Int64
	created       atomic.Int64
	duplicates    atomic.Int64
	errorCount    atomic.Int64
	latencies     []time.Duration
	latenciesMu   sync.Mutex
	statusCodes   map[int]*atomic.Int64
	statusCodesMu sync.Mutex
}

func NewStats() *Stats {
	return &Stats{
		latencies:   make([]time.Duration, 0, 100000),
		statusCodes: make(map[int]*atomic.Int64),
	}
}

func (s *Stats) RecordRequest(duration time.Duration, statusCode int, err error) {
	s.totalRequests.Add(1)

	if err != nil {
		s.errorCount.Add(1)
		return
	}

	switch {
	case statusCode == http.StatusCreated:
		s.created.Add(1)
	case statusCode == http.StatusBadRequest:
		s.duplicates.Add(1)
	default:
		s.errorCount.Add(1)
	}

	s.latenciesMu.Lock()
	s.latencies = append(s.latencies, duration)
	s.latenciesMu.Unlock()

	s.statusCodesMu.Lock()
	if _, ok := s.statusCodes[statusCode]; !ok {
		s.statusCodes[statusCode] = &atomic.Int64{}
	}
	s.statusCodes[statusCode].Add(1)
	s.statusCodesMu.Unlock()
}

func main() {
	baseURL := flag.String("url", "http://localhost:3000", "base URL of the o-results api")
	concurrency := flag.Int("concurrency", 10, "number of concurrent workers")
	duration := flag.Duration("duration", 30*time.Second, "test duration")
	collide := flag.Float64("collide", 0.3, "share of requests drawn from the hot number pool")
	hotPool := flag.Int("hot", 20, "size of the hot number pool")
	cleanup := flag.Bool("cleanup", true, "soft-delete the cards created by the run")
	flag.Parse()

	cfg := Config{
		BaseURL:     *baseURL,
		Concurrency: *concurrency,
		Duration:    *duration,
		Collide:     *collide,
		HotPool:     *hotPool,
		Cleanup:     *cleanup,
	}

	fmt.Println("=== o-results Card Load Test ===")
	fmt.Printf("Target:      %s/cards\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Collide:     %.0f%% over %d numbers\n", cfg.Collide*100, cfg.HotPool)
	fmt.Println()

	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	stats, ids := runLoadTest(client, cfg)
	printReport(stats, cfg.Duration)

	dupes, err := checkUnique(client, cfg.BaseURL)
	if err != nil {
		fmt.Printf("\nWARNING: could not verify uniqueness: %v\n", err)
	} else if dupes > 0 {
		fmt.Printf("\nFAIL: %d card numbers are active more than once\n", dupes)
	} else {
		fmt.Println("\nUniqueness: no active card number repeats")
	}

	if cfg.Cleanup {
		cleanupCards(client, cfg.BaseURL, ids)
	}
	if dupes > 0 {
		os.Exit(1)
	}
}

// nextNumber returns a card number: hot numbers sit at the top of the
// 7-digit range, cold ones are unique per worker and sequence.
func nextNumber(r *rand.Rand, cfg Config, worker int, seq int) string {
	if cfg.HotPool > 0 && r.Float64() < cfg.Collide {
		return strconv.Itoa(9999999 - r.IntN(cfg.HotPool))
	}
	return strconv.Itoa((worker*100000 + seq) % 9000000)
}

func runLoadTest(client *http.Client, cfg Config) (*Stats, []string) {
	stats := NewStats()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var (
		wg    sync.WaitGroup
		idsMu sync.Mutex
		ids   []string
	)
	fmt.Print("Running")

	for w := 0; w < cfg.Concurrency; w++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(workerID), uint64(time.Now().UnixNano())))
			for seq := 0; ; seq++ {
				select {
				case <-ctx.Done():
					return
				default:
				}

				body, _ := json.Marshal(map[string]string{"number": nextNumber(r, cfg, workerID, seq)})
				start := time.Now()
				resp, err := client.Do(mustNewRequest(ctx, http.MethodPost, cfg.BaseURL+"/cards", body))
				duration := time.Since(start)
				if err != nil {
					if ctx.Err() == nil {
						stats.RecordRequest(duration, 0, err)
					}
					continue
				}
				if resp.StatusCode == http.StatusCreated {
					if id := createdID(resp.Body); id != "" {
						idsMu.Lock()
						ids = append(ids, id)
						idsMu.Unlock()
					}
				}
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()

				stats.RecordRequest(duration, resp.StatusCode, nil)
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
	return stats, ids
}

type envelope struct {
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func createdID(body io.Reader) string {
	var env envelope
	if err := json.NewDecoder(body).Decode(&env); err != nil {
		return ""
	}
	var doc struct {
		ID string `json:"_id"`
	}
	if err := json.Unmarshal(env.Data, &doc); err != nil {
		return ""
	}
	return doc.ID
}

// checkUnique lists active cards and counts numbers that appear twice.
func checkUnique(client *http.Client, baseURL string) (int, error) {
	resp, err := client.Get(baseURL + "/cards")
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("list cards: status %d", resp.StatusCode)
	}
	var env envelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return 0, err
	}
	var cards []card
	if err := json.Unmarshal(env.Data, &cards); err != nil {
		return 0, err
	}
	return countRepeats(cards, func(c card) string { return c.Number }), nil
}

type card struct {
	Number string `json:"number"`
}

func countRepeats[T any](items []T, key func(T) string) int {
	seen := make(map[string]int, len(items))
	for _, it := range items {
		seen[key(it)]++
	}
	repeats := 0
	for _, n := range seen {
		if n > 1 {
			repeats++
		}
	}
	return repeats
}

func cleanupCards(client *http.Client, baseURL string, ids []string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()
	failed := 0
	for _, id := range ids {
		resp, err := client.Do(mustNewRequest(ctx, http.MethodDelete, baseURL+"/cards/"+id, nil))
		if err != nil {
			failed++
			continue
		}
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			failed++
		}
	}
	fmt.Printf("Cleanup:    %d cards removed, %d failed\n", len(ids)-failed, failed)
}

func mustNewRequest(ctx context.Context, method, rawURL string, body []byte) *http.Request {
	req, err := http.NewRequestWithContext(ctx, method, rawURL, bytes.NewReader(body))
	if err != nil {
		panic(fmt.Sprintf("creating request: %v", err))
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	return req
}

func printReport(stats *Stats, duration time.Duration) {
	total := stats.totalRequests.Load()
	created := stats.created.Load()
	duplicates := stats.duplicates.Load()
	errors := stats.errorCount.Load()

	fmt.Println("=== Results ===")
	fmt.Printf("Total Requests:  %d\n", total)
	fmt.Printf("Created:         %d\n", created)
	fmt.Printf("Rejected (400):  %d\n", duplicates)
	fmt.Printf("Errors:          %d\n", errors)

	if total > 0 {
		errorRate := float64(errors) / float64(total) * 100
		fmt.Printf("Error Rate:      %.2f%%\n", errorRate)
		rps := float64(total) / duration.Seconds()
		fmt.Printf("Requests/sec:    %.2f\n", rps)
	}

	stats.latenciesMu.Lock()
	latencies := make([]time.Duration, len(stats.latencies))
	copy(latencies, stats.latencies)
	stats.latenciesMu.Unlock()

	if len(latencies) > 0 {
		sort.Slice(latencies, func(i, j int) bool {
			return latencies[i] < latencies[j]
		})

		var sum time.Duration
		for _, l := range latencies {
			sum += l
		}
		avg := sum / time.Duration(len(latencies))

		fmt.Println()
		fmt.Println("=== Latency ===")
		fmt.Printf("Min:    %s\n", latencies[0])
		fmt.Printf("Avg:    %s\n", avg)
		fmt.Printf("P50:    %s\n", percentile(latencies, 50))
		fmt.Printf("P95:    %s\n", percentile(latencies, 95))
		fmt.Printf("P99:    %s\n", percentile(latencies, 99))
		fmt.Printf("Max:    %s\n", latencies[len(latencies)-1])
	}

	fmt.Println()
	fmt.Println("=== Status Codes ===")
	stats.statusCodesMu.Lock()
	codes := make([]int, 0, len(stats.statusCodes))
	for code := range stats.statusCodes {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		fmt.Printf("  %d: %d\n", code, stats.statusCodes[code].Load())
	}
	stats.statusCodesMu.Unlock()

	if total == 0 {
		fmt.Println()
		fmt.Println("WARNING: No requests completed. Is the api running?")
		os.Exit(1)
	}
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
