// Benchmark tool for driving FinSentinel with synthetic transactions.
//
// Usage:
//
//	go run ./cmd/benchmark -url http://localhost:8080 -n 1000 -workers 10
//
// This tool:
//  1. Generates records with the same generator the live feed uses
//  2. Submits each one to /api/detect-fraud (or /api/generate-mock-transaction)
//  3. Tallies risk classes, error statuses, latency and throughput
//  4. Optionally writes every result to a CSV file
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/opensource-finance/finsentinel/internal/api"
	"github.com/opensource-finance/finsentinel/internal/domain"
	"github.com/opensource-finance/finsentinel/internal/generator"
)

// Metrics tracks benchmark results.
type Metrics struct {
	mu       sync.Mutex
	classes  map[domain.RiskClass]int64
	statuses map[int]int64
	rows     [][]string

	TotalProcessed   int64
	TotalErrors      int64
	ProcessingTimeMs int64
}

func newMetrics() *Metrics {
	return &Metrics{
		classes:  make(map[domain.RiskClass]int64),
		statuses: make(map[int]int64),
	}
}

func (m *Metrics) record(res *domain.ScoringResult, status int, elapsed time.Duration) {
	atomic.AddInt64(&m.ProcessingTimeMs, elapsed.Milliseconds())
	atomic.AddInt64(&m.TotalProcessed, 1)

	m.mu.Lock()
	defer m.mu.Unlock()

	m.statuses[status]++
	if res == nil {
		atomic.AddInt64(&m.TotalErrors, 1)
		return
	}
	m.classes[res.RiskClass]++
	m.rows = append(m.rows, []string{
		res.ID,
		string(res.APISource),
		strconv.FormatFloat(res.TransactionAmount, 'f', 2, 64),
		strconv.FormatFloat(res.OverallRisk, 'f', 2, 64),
		string(res.RiskClass),
		strconv.FormatInt(elapsed.Milliseconds(), 10),
	})
}

func main() {
	baseURL := flag.String("url", "http://localhost:8080", "FinSentinel base URL")
	count := flag.Int("n", 1000, "Number of transactions to submit")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	mock := flag.Bool("mock", false, "Use /api/generate-mock-transaction instead of manual entry")
	seed := flag.Uint64("seed", 0, "Generator seed (0 = random)")
	csvPath := flag.String("csv", "", "Write per-transaction results to this CSV file")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	endpoint := "/api/detect-fraud"
	if *mock {
		endpoint = "/api/generate-mock-transaction"
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         FINSENTINEL BENCHMARK - Synthetic Transactions        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nURL:         %s%s\n", *baseURL, endpoint)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Count:       %d\n", *count)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: FinSentinel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure FinSentinel is running:")
		fmt.Println("  go run ./cmd/finsentinel")
		os.Exit(1)
	}
	fmt.Println("✓ FinSentinel is healthy")

	var opts []generator.Option
	if *seed != 0 {
		opts = append(opts, generator.WithSeed(*seed))
	}
	gen := generator.New(opts...)

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(gen, *baseURL+endpoint, *mock, *count, *workers, *verbose)
	duration := time.Since(startTime)

	printResults(metrics, duration)

	if *csvPath != "" {
		if err := writeCSV(*csvPath, metrics); err != nil {
			fmt.Printf("ERROR: Failed to write CSV: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("✓ Wrote %d rows to %s\n", len(metrics.rows), *csvPath)
	}
}

func checkHealth(baseURL string) error {
	resp, err := http.Get(baseURL + "/health")
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}
	return nil
}

func runBenchmark(gen *generator.Generator, url string, mock bool, count, numWorkers int, verbose bool) *Metrics {
	metrics := newMetrics()

	// Only this goroutine calls the generator.
	work := make(chan *domain.TransactionRecord, 100)
	var wg sync.WaitGroup

	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 15 * time.Second}

			for rec := range work {
				start := time.Now()
				res, status, err := submit(client, url, mock, rec)
				elapsed := time.Since(start)
				metrics.record(res, status, elapsed)

				if !verbose {
					continue
				}
				if err != nil {
					fmt.Printf("✗ %-8s $%12.2f -> %v\n", rec.Currency, rec.TransactionAmount, err)
					continue
				}
				fmt.Printf("✓ %-8s $%12.2f | overall %6.2f | %-6s | %v\n",
					rec.Currency, res.TransactionAmount, res.OverallRisk, res.RiskClass, elapsed.Round(time.Millisecond))
			}
		}()
	}

	for i := 0; i < count; i++ {
		if mock {
			work <- nil
			continue
		}
		work <- gen.Generate()
	}
	close(work)

	wg.Wait()
	return metrics
}

// submit posts one record and returns the scored result. In mock mode the
// server generates the record and rec is nil.
func submit(client *http.Client, url string, mock bool, rec *domain.TransactionRecord) (*domain.ScoringResult, int, error) {
	var body []byte
	if !mock {
		var err error
		if body, err = json.Marshal(rec); err != nil {
			return nil, 0, err
		}
	}

	req, err := http.NewRequest(http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		return nil, resp.StatusCode, fmt.Errorf("status %d: %s", resp.StatusCode, e.Error)
	}

	if mock {
		var out api.MockTransactionResponse
		if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
			return nil, resp.StatusCode, err
		}
		return out.Result, resp.StatusCode, nil
	}

	var out domain.ScoringResult
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, resp.StatusCode, err
	}
	return &out, resp.StatusCode, nil
}

func writeCSV(path string, m *Metrics) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write([]string{"id", "api_source", "amount", "overall_risk", "risk_class", "latency_ms"}); err != nil {
		return err
	}
	if err := w.WriteAll(m.rows); err != nil {
		return err
	}
	return file.Sync()
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	scored := m.TotalProcessed - m.TotalErrors
	fmt.Printf("\n📊 SUBMISSIONS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Scored:           %d\n", scored)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 RISK CLASSES\n")
	for _, class := range []domain.RiskClass{domain.RiskHigh, domain.RiskMedium, domain.RiskLow} {
		n := m.classes[class]
		pct := float64(0)
		if scored > 0 {
			pct = 100 * float64(n) / float64(scored)
		}
		fmt.Printf("   %-8s %8d  (%.2f%%)\n", class, n, pct)
	}

	fmt.Printf("\n🔍 HTTP STATUSES\n")
	codes := make([]int, 0, len(m.statuses))
	for code := range m.statuses {
		codes = append(codes, code)
	}
	sort.Ints(codes)
	for _, code := range codes {
		label := http.StatusText(code)
		if code == 0 {
			label = "transport error"
		}
		fmt.Printf("   %3d %-22s %d\n", code, label, m.statuses[code])
	}
	if m.statuses[http.StatusTooManyRequests] > 0 {
		fmt.Println("   ⚠️  Rate limited: raise rate_limit.burst or use -mock")
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	fmt.Println()
}
