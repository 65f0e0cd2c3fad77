//go:build ignore
// +build ignore

// Events Load Test - drives the journey API with synthetic campaign traffic
//
// Phases:
// 1. Ingest - POST email events for N recipients across M campaigns
// 2. Analyze - create a project for the merchant and stream one full analysis
//
// Usage:
//
//	go run scripts/events_loadtest.go \
//	  --api="http://localhost:8080" \
//	  --recipients=10000 \
//	  --campaigns=8 \
//	  --workers=16
package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// CONFIGURATION
// =============================================================================

// LoadTestConfig defines the test configuration
type LoadTestConfig struct {
	APIURL      string
	Sender      string
	Recipients  int
	Campaigns   int
	Workers     int
	WorkerName  string
	SkipAnalyze bool
	// DropRate is the chance a recipient stops receiving after each campaign.
	DropRate float64
}

// DefaultLoadTestConfig returns sensible defaults
func DefaultLoadTestConfig() *LoadTestConfig {
	return &LoadTestConfig{
		APIURL:     "http://localhost:8080",
		Sender:     "news@loadtest-shop.com",
		Recipients: 10_000,
		Campaigns:  8,
		Workers:    16,
		WorkerName: "loadtest-" + uuid.NewString()[:8],
		DropRate:   0.15,
	}
}

// =============================================================================
// METRICS COLLECTION
// =============================================================================

// LoadTestMetrics holds all collected metrics
type LoadTestMetrics struct {
	StartTime time.Time
	EndTime   time.Time

	EventsAttempted int64
	EventsSucceeded int64
	EventLatencies  []time.Duration

	AnalysisDuration time.Duration
	AnalysisEvents   map[string]int
	AnalysisStatus   string
	AnalysisError    string

	ErrorsByStatus map[int]int64

	mu sync.Mutex
}

// NewLoadTestMetrics creates a new metrics collector
func NewLoadTestMetrics() *LoadTestMetrics {
	return &LoadTestMetrics{
		EventLatencies: make([]time.Duration, 0, 100000),
		AnalysisEvents: make(map[string]int),
		ErrorsByStatus: make(map[int]int64),
	}
}

// RecordEvent records a single event POST
func (m *LoadTestMetrics) RecordEvent(latency time.Duration, status int, err error) {
	atomic.AddInt64(&m.EventsAttempted, 1)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil || status != http.StatusCreated {
		m.ErrorsByStatus[status]++
		return
	}
	atomic.AddInt64(&m.EventsSucceeded, 1)
	if len(m.EventLatencies) < 100000 {
		m.EventLatencies = append(m.EventLatencies, latency)
	}
}

func percentile(durations []time.Duration, p int) time.Duration {
	if len(durations) == 0 {
		return 0
	}

	sorted := make([]time.Duration, len(durations))
	copy(sorted, durations)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)-1) * float64(p) / 100)
	return sorted[idx]
}

// =============================================================================
// LOAD TEST RUNNER
// =============================================================================

// LoadTest drives the API
type LoadTest struct {
	config  *LoadTestConfig
	metrics *LoadTestMetrics
	client  *http.Client

	merchantID string
}

// NewLoadTest creates a new runner
func NewLoadTest(config *LoadTestConfig) *LoadTest {
	return &LoadTest{
		config:  config,
		metrics: NewLoadTestMetrics(),
		client:  &http.Client{Timeout: 30 * time.Second},
	}
}

type trackEvent struct {
	Sender     string    `json:"sender"`
	Subject    string    `json:"subject"`
	Recipient  string    `json:"recipient"`
	ReceivedAt time.Time `json:"received_at"`
	WorkerName string    `json:"worker_name"`
}

// subjectFor returns the campaign subject at position i. Position 0 is a
// welcome email so root detection has something to find.
func subjectFor(i int) string {
	if i == 0 {
		return "Welcome to the club!"
	}
	return fmt.Sprintf("Weekly deals #%d", i)
}

// RunIngest posts every recipient's event sequence using a bounded worker pool.
func (t *LoadTest) RunIngest(ctx context.Context) error {
	base := time.Now().UTC().Add(-time.Duration(t.config.Campaigns) * 24 * time.Hour)
	jobs := make(chan trackEvent, t.config.Workers*4)

	var wg sync.WaitGroup
	var merchantOnce sync.Once
	for i := 0; i < t.config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ev := range jobs {
				start := time.Now()
				status, merchantID, err := t.postEvent(ctx, ev)
				t.metrics.RecordEvent(time.Since(start), status, err)
				if merchantID != "" {
					merchantOnce.Do(func() { t.merchantID = merchantID })
				}
			}
		}()
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	for r := 0; r < t.config.Recipients && ctx.Err() == nil; r++ {
		recipient := fmt.Sprintf("user%07d@loadtest.example.com", r)
		// Most recipients start at the welcome email; the rest join mid-stream.
		first := 0
		if rng.Float64() < 0.3 {
			first = 1 + rng.Intn(t.config.Campaigns-1)
		}
		for c := first; c < t.config.Campaigns; c++ {
			jobs <- trackEvent{
				Sender:     t.config.Sender,
				Subject:    subjectFor(c),
				Recipient:  recipient,
				ReceivedAt: base.Add(time.Duration(c)*24*time.Hour + time.Duration(r)*time.Millisecond),
				WorkerName: t.config.WorkerName,
			}
			if rng.Float64() < t.config.DropRate {
				break
			}
		}
	}
	close(jobs)
	wg.Wait()
	return ctx.Err()
}

func (t *LoadTest) postEvent(ctx context.Context, ev trackEvent) (int, string, error) {
	body, _ := json.Marshal(ev)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.config.APIURL+"/api/events", bytes.NewReader(body))
	if err != nil {
		return 0, "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := t.client.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	var out struct {
		MerchantID string `json:"merchant_id"`
	}
	_ = json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out.MerchantID, nil
}

// RunAnalyze creates a project and follows its analysis stream to the end.
func (t *LoadTest) RunAnalyze(ctx context.Context) error {
	if t.merchantID == "" {
		return fmt.Errorf("no merchant created during ingest")
	}

	body, _ := json.Marshal(map[string]any{
		"merchant_id":  t.merchantID,
		"name":         "Load test " + t.config.WorkerName,
		"worker_names": []string{t.config.WorkerName},
	})
	resp, err := t.client.Post(t.config.APIURL+"/api/projects", "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create project: %w", err)
	}
	var project struct {
		ID string `json:"id"`
	}
	err = json.NewDecoder(resp.Body).Decode(&project)
	resp.Body.Close()
	if err != nil || resp.StatusCode != http.StatusCreated {
		return fmt.Errorf("create project: status %d: %v", resp.StatusCode, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		t.config.APIURL+"/api/projects/"+project.ID+"/analyze", nil)
	if err != nil {
		return err
	}
	stream := &http.Client{}
	start := time.Now()
	resp, err = stream.Do(req)
	if err != nil {
		return fmt.Errorf("start analysis: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("start analysis: status %d", resp.StatusCode)
	}

	scanner := bufio.NewScanner(resp.Body)
	var event string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
			t.metrics.AnalysisEvents[event]++
		case strings.HasPrefix(line, "data:") && (event == "complete" || event == "error"):
			t.metrics.AnalysisStatus = event
			if event == "error" {
				t.metrics.AnalysisError = strings.TrimSpace(strings.TrimPrefix(line, "data:"))
			}
			t.metrics.AnalysisDuration = time.Since(start)
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	return fmt.Errorf("stream ended without a terminal event")
}

// GenerateReport renders the collected metrics
func (t *LoadTest) GenerateReport() string {
	m := t.metrics
	c := t.config
	elapsed := m.EndTime.Sub(m.StartTime)

	var buf bytes.Buffer
	w := func(format string, args ...interface{}) {
		fmt.Fprintf(&buf, format+"\n", args...)
	}

	w("")
	w(strings.Repeat("=", 80))
	w("                    EVENTS LOAD TEST REPORT")
	w(strings.Repeat("=", 80))
	w("")
	w("Test Configuration:")
	w("  API:              %s", c.APIURL)
	w("  Recipients:       %d", c.Recipients)
	w("  Campaigns:        %d", c.Campaigns)
	w("  Workers:          %d", c.Workers)
	w("  Worker Name:      %s", c.WorkerName)
	w("")

	w("INGEST PERFORMANCE")
	w(strings.Repeat("-", 40))
	w("  Events:           %d / %d", m.EventsSucceeded, m.EventsAttempted)
	if elapsed > 0 {
		w("  Rate:             %.0f events/second", float64(m.EventsSucceeded)/elapsed.Seconds())
	}
	w("  Latency P50:      %v", percentile(m.EventLatencies, 50))
	w("  Latency P99:      %v", percentile(m.EventLatencies, 99))
	for status, n := range m.ErrorsByStatus {
		w("  Errors (HTTP %d): %d", status, n)
	}
	w("")

	if !c.SkipAnalyze {
		w("ANALYSIS")
		w(strings.Repeat("-", 40))
		w("  Result:           %s", m.AnalysisStatus)
		w("  Duration:         %v", m.AnalysisDuration.Round(time.Millisecond))
		for name, n := range m.AnalysisEvents {
			w("  Events (%s): %d", name, n)
		}
		if m.AnalysisError != "" {
			w("  Error:            %s", m.AnalysisError)
		}
		w("")
	}
	return buf.String()
}

func main() {
	config := DefaultLoadTestConfig()

	flag.StringVar(&config.APIURL, "api", config.APIURL, "Journey API base URL")
	flag.StringVar(&config.Sender, "sender", config.Sender, "Sender address for every event")
	flag.IntVar(&config.Recipients, "recipients", config.Recipients, "Number of synthetic recipients")
	flag.IntVar(&config.Campaigns, "campaigns", config.Campaigns, "Number of campaigns in the sequence")
	flag.IntVar(&config.Workers, "workers", config.Workers, "Concurrent HTTP workers")
	flag.StringVar(&config.WorkerName, "worker-name", config.WorkerName, "worker_name tag for ingested events")
	flag.Float64Var(&config.DropRate, "drop-rate", config.DropRate, "Chance a recipient stops after each campaign")
	flag.BoolVar(&config.SkipAnalyze, "skip-analyze", false, "Only ingest events")
	flag.Parse()

	if config.Campaigns < 2 {
		log.Fatalf("--campaigns must be at least 2")
	}

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════════════════════════════════════╗")
	fmt.Println("║                    CAMPAIGN JOURNEY EVENTS LOAD TEST                         ║")
	fmt.Println("╚══════════════════════════════════════════════════════════════════════════════╝")
	fmt.Println()

	runner := NewLoadTest(config)

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("\nReceived interrupt signal, shutting down gracefully...")
		cancel()
	}()

	runner.metrics.StartTime = time.Now()
	if err := runner.RunIngest(ctx); err != nil && err != context.Canceled {
		log.Printf("Ingest error: %v", err)
	}
	runner.metrics.EndTime = time.Now()

	failed := false
	if !config.SkipAnalyze && ctx.Err() == nil {
		if err := runner.RunAnalyze(ctx); err != nil {
			log.Printf("Analysis error: %v", err)
			failed = true
		}
		if runner.metrics.AnalysisStatus != "complete" {
			failed = true
		}
	}

	fmt.Println(runner.GenerateReport())

	if failed || runner.metrics.EventsSucceeded < runner.metrics.EventsAttempted {
		os.Exit(1)
	}
}
