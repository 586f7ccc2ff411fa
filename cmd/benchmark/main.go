// Benchmark tool for replaying labeled gifting traffic against Kestrel.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/gifts.csv -url http://localhost:8080
//
// This tool:
//   1. Reads a CSV of gift transactions (with abuse labels)
//   2. Sends each transaction to Kestrel for evaluation
//   3. Compares Kestrel's decision (blocked/review vs approved) with the labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
//
// Expected CSV columns (header required, order free):
//   user_id, receiver_id, session_id, type, amount, is_abuse
//
// Senders referenced by the CSV must already exist in the Kestrel store;
// unknown users are rejected by the API and counted as errors.
package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// GiftRecord represents a row from the labeled gift dataset
type GiftRecord struct {
	UserID     string
	ReceiverID string
	SessionID  string
	Type       string
	Amount     float64
	IsAbuse    bool
}

// EvaluateRequest is the Kestrel API request format
type EvaluateRequest struct {
	UserID     string  `json:"userId"`
	ReceiverID string  `json:"receiverId,omitempty"`
	SessionID  string  `json:"sessionId,omitempty"`
	Type       string  `json:"type"`
	Amount     float64 `json:"amount"`
}

// EvaluateResponse is the Kestrel API response format
type EvaluateResponse struct {
	TransactionID string `json:"transactionId"`
	Decision      struct {
		Outcome string `json:"outcome"`
		Reason  string `json:"reason"`
	} `json:"decision"`
	Status string `json:"status"`
	Points int    `json:"transactionScore"`
	Failed bool   `json:"failureFlag"`
}

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Abuse flagged (blocked or review)
	FalsePositives int64 // Legitimate gift flagged
	TrueNegatives  int64 // Legitimate gift approved
	FalseNegatives int64 // Abuse approved (missed!)

	TotalProcessed int64
	TotalAbuse     int64
	TotalLegit     int64
	TotalErrors    int64

	Blocked  int64
	Reviewed int64
	Approved int64

	ProcessingTimeMs int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled gift CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum transactions to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	abuseOnly := flag.Bool("abuse-only", false, "Only replay abusive transactions")
	sampleRate := flag.Float64("sample", 1.0, "Sample rate for legitimate gifts (0.0-1.0)")
	verbose := flag.Bool("verbose", false, "Print each transaction result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/gifts.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║          KESTREL BENCHMARK - Gift Abuse Detection             ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:    %s\n", *csvPath)
	fmt.Printf("Kestrel URL: %s\n", *baseURL)
	fmt.Printf("Workers:     %d\n", *workers)
	fmt.Printf("Limit:       %d\n", *limit)
	fmt.Printf("Abuse Only:  %v\n", *abuseOnly)
	fmt.Printf("Sample Rate: %.2f\n", *sampleRate)
	fmt.Println()

	// Check Kestrel is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	// Read labeled traffic
	fmt.Printf("\nReading gift data from %s...\n", *csvPath)
	gifts, err := readGiftCSV(*csvPath, *limit, *abuseOnly, *sampleRate)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d transactions\n", len(gifts))

	// Count abuse vs legitimate
	abuseCount := 0
	for _, g := range gifts {
		if g.IsAbuse {
			abuseCount++
		}
	}
	fmt.Printf("  - Abuse:      %d (%.2f%%)\n", abuseCount, 100*float64(abuseCount)/float64(len(gifts)))
	fmt.Printf("  - Legitimate: %d (%.2f%%)\n", len(gifts)-abuseCount, 100*float64(len(gifts)-abuseCount)/float64(len(gifts)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(gifts, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

	// Print results
	printResults(metrics, duration)
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

func readGiftCSV(path string, limit int, abuseOnly bool, sampleRate float64) ([]GiftRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	// Read header
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	// Map column indices
	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	for _, required := range []string{"user_id", "amount", "is_abuse"} {
		if _, ok := colIndex[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	col := func(record []string, name string) string {
		idx, ok := colIndex[name]
		if !ok || idx >= len(record) {
			return ""
		}
		return record[idx]
	}

	var gifts []GiftRecord
	sampleCounter := 0

	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isAbuse := col(record, "is_abuse") == "1"

		// Apply filters
		if abuseOnly && !isAbuse {
			continue
		}

		// Sample legitimate transactions
		if !isAbuse && sampleRate < 1.0 {
			sampleCounter++
			if float64(sampleCounter%100)/100.0 >= sampleRate {
				continue
			}
		}

		amount, _ := strconv.ParseFloat(col(record, "amount"), 64)
		giftType := col(record, "type")
		if giftType == "" {
			giftType = "tip"
		}

		gifts = append(gifts, GiftRecord{
			UserID:     col(record, "user_id"),
			ReceiverID: col(record, "receiver_id"),
			SessionID:  col(record, "session_id"),
			Type:       giftType,
			Amount:     amount,
			IsAbuse:    isAbuse,
		})

		if limit > 0 && len(gifts) >= limit {
			break
		}
	}

	return gifts, nil
}

func runBenchmark(gifts []GiftRecord, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	// Create work channel
	work := make(chan GiftRecord, 100)
	var wg sync.WaitGroup

	// Start workers
	for i := 0; i < numWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			client := &http.Client{Timeout: 10 * time.Second}

			for gift := range work {
				start := time.Now()
				result, err := evaluateGift(client, baseURL, gift)
				elapsed := time.Since(start).Milliseconds()

				atomic.AddInt64(&metrics.ProcessingTimeMs, elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", gift.UserID, err)
					}
					continue
				}

				// Track actual labels
				if gift.IsAbuse {
					atomic.AddInt64(&metrics.TotalAbuse, 1)
				} else {
					atomic.AddInt64(&metrics.TotalLegit, 1)
				}

				// Track outcome distribution
				switch result.Decision.Outcome {
				case "blocked":
					atomic.AddInt64(&metrics.Blocked, 1)
				case "review":
					atomic.AddInt64(&metrics.Reviewed, 1)
				default:
					atomic.AddInt64(&metrics.Approved, 1)
				}

				// Calculate confusion matrix
				predicted := result.Decision.Outcome != "approved"
				actual := gift.IsAbuse

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else { // !predicted && actual
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					name := gift.UserID
					if len(name) > 10 {
						name = name[:10]
					}
					fmt.Printf("%s %-10s | Type: %-8s | Amount: %10.2f | Abuse: %-5v | Kestrel: %-8s (+%d) | %s\n",
						status,
						name,
						gift.Type,
						gift.Amount,
						gift.IsAbuse,
						result.Decision.Outcome,
						result.Points,
						result.Status,
					)
				}
			}
		}()
	}

	// Send work
	for _, gift := range gifts {
		work <- gift
	}
	close(work)

	// Wait for completion
	wg.Wait()

	return metrics
}

func evaluateGift(client *http.Client, baseURL string, gift GiftRecord) (*EvaluateResponse, error) {
	req := EvaluateRequest{
		UserID:     gift.UserID,
		ReceiverID: gift.ReceiverID,
		SessionID:  gift.SessionID,
		Type:       gift.Type,
		Amount:     gift.Amount,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/evaluate", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status %d", resp.StatusCode)
	}

	var result EvaluateResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return &result, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Abuse:      %d\n", m.TotalAbuse)
	fmt.Printf("   Total Legit:      %d\n", m.TotalLegit)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📋 DECISION DISTRIBUTION\n")
	fmt.Printf("   Approved:  %d\n", m.Approved)
	fmt.Printf("   Review:    %d\n", m.Reviewed)
	fmt.Printf("   Blocked:   %d\n", m.Blocked)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                  Flagged     Approved")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  A  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("           L  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

	// Calculate metrics
	precision := float64(0)
	if m.TruePositives+m.FalsePositives > 0 {
		precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}

	recall := float64(0)
	if m.TruePositives+m.FalseNegatives > 0 {
		recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}

	f1 := float64(0)
	if precision+recall > 0 {
		f1 = 2 * (precision * recall) / (precision + recall)
	}

	accuracy := float64(0)
	total := m.TruePositives + m.TrueNegatives + m.FalsePositives + m.FalseNegatives
	if total > 0 {
		accuracy = float64(m.TruePositives+m.TrueNegatives) / float64(total)
	}

	fmt.Printf("\n🎯 DETECTION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of flagged gifts, how many were actual abuse)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of abuse, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalAbuse > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalAbuse) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalAbuse) * 100
		fmt.Printf("   Abuse Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalAbuse, detectionRate)
		fmt.Printf("   Abuse Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalAbuse, missRate)
	}
	if m.TotalLegit > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalLegit) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalLegit, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		avgMs := float64(m.ProcessingTimeMs) / float64(m.TotalProcessed)
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Avg Latency:      %.2f ms\n", avgMs)
		fmt.Printf("   Throughput:       %.2f tx/sec\n", tps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most abuse")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some abuse")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant abuse being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most abuse is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - flags are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
