// Benchmark tool for testing Kestrel against labeled credit application data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/applications.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled application data (with default outcomes)
//   2. Sends each application to Kestrel for scoring
//   3. Compares Kestrel's decision (APPROVE/REJECT) with actual default labels
//   4. Calculates precision, recall, F1-score, confusion matrix, and latency percentiles
package main

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// LabeledApplication is a row from the training CSV with its default outcome.
type LabeledApplication struct {
	ApplicationID         string
	Age                   int
	Gender                string
	MaritalStatus         string
	Education             string
	AnnualIncome          float64
	EmploymentStatus      string
	WorkExperienceYears   int
	HousingType           string
	ExistingLoansCount    int
	TotalExistingDebt     float64
	CreditCardUtilization float64
	PastDelinquencies     int
	LoanAmount            float64
	LoanTermMonths        int
	IsDefault             bool
}

// ScoreRequest mirrors the Kestrel API request format.
type ScoreRequest struct {
	Application map[string]any `json:"application"`
	UserID      string         `json:"user_id,omitempty"`
}

// ScoreResponse mirrors the Kestrel API response format.
type ScoreResponse struct {
	RequestID       string  `json:"request_id"`
	ApplicationID   string  `json:"application_id"`
	PredictionScore float64 `json:"prediction_score"`
	RiskCategory    string  `json:"risk_category"`
	Decision        string  `json:"decision"` // "APPROVE" or "REJECT"
}

// Metrics tracks benchmark results.
type Metrics struct {
	TruePositives  int64 // Defaulters rejected
	FalsePositives int64 // Non-defaulters rejected
	TrueNegatives  int64 // Non-defaulters approved
	FalseNegatives int64 // Defaulters approved (missed risk!)

	TotalProcessed int64
	TotalDefault   int64
	TotalGood      int64
	TotalErrors    int64

	mu        sync.Mutex
	latencies []time.Duration
}

func (m *Metrics) recordLatency(d time.Duration) {
	m.mu.Lock()
	m.latencies = append(m.latencies, d)
	m.mu.Unlock()
}

func (m *Metrics) percentile(p float64) time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(m.latencies))
	copy(sorted, m.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := int(p * float64(len(sorted)-1))
	return sorted[idx]
}

func main() {
	csvPath := flag.String("csv", "", "Path to labeled applications CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "Kestrel base URL")
	limit := flag.Int("limit", 10000, "Maximum applications to process (0 = all)")
	workers := flag.Int("workers", 10, "Number of concurrent workers")
	defaultOnly := flag.Bool("default-only", false, "Only test applications that defaulted")
	verbose := flag.Bool("verbose", false, "Print each application result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/applications.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║         KESTREL BENCHMARK - Credit Default Scoring            ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:     %s\n", *csvPath)
	fmt.Printf("Kestrel URL:  %s\n", *baseURL)
	fmt.Printf("Workers:      %d\n", *workers)
	fmt.Printf("Limit:        %d\n", *limit)
	fmt.Printf("Default Only: %v\n", *defaultOnly)
	fmt.Println()

	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: Kestrel not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure Kestrel is running:")
		fmt.Println("  go run cmd/kestrel/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ Kestrel is healthy")

	fmt.Printf("\nReading application data from %s...\n", *csvPath)
	apps, err := readApplicationsCSV(*csvPath, *limit, *defaultOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d applications\n", len(apps))

	defaultCount := 0
	for _, a := range apps {
		if a.IsDefault {
			defaultCount++
		}
	}
	fmt.Printf("  - Defaulted: %d (%.2f%%)\n", defaultCount, 100*float64(defaultCount)/float64(len(apps)))
	fmt.Printf("  - Repaid:    %d (%.2f%%)\n", len(apps)-defaultCount, 100*float64(len(apps)-defaultCount)/float64(len(apps)))

	fmt.Printf("\nRunning benchmark with %d workers...\n", *workers)
	startTime := time.Now()
	metrics := runBenchmark(apps, *baseURL, *workers, *verbose)
	duration := time.Since(startTime)

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

func readApplicationsCSV(path string, limit int, defaultOnly bool) ([]LabeledApplication, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	reader := csv.NewReader(file)

	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	colIndex := make(map[string]int)
	for i, col := range header {
		colIndex[strings.ToLower(strings.TrimSpace(col))] = i
	}
	if _, ok := colIndex["is_default"]; !ok {
		return nil, fmt.Errorf("CSV has no is_default column; benchmark needs labeled data")
	}

	var apps []LabeledApplication
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			continue // Skip malformed rows
		}

		isDefault := record[colIndex["is_default"]] == "1"
		if defaultOnly && !isDefault {
			continue
		}

		atoi := func(col string) int {
			v, _ := strconv.Atoi(record[colIndex[col]])
			return v
		}
		atof := func(col string) float64 {
			v, _ := strconv.ParseFloat(record[colIndex[col]], 64)
			return v
		}

		apps = append(apps, LabeledApplication{
			ApplicationID:         record[colIndex["application_id"]],
			Age:                   atoi("age"),
			Gender:                record[colIndex["gender"]],
			MaritalStatus:         record[colIndex["marital_status"]],
			Education:             record[colIndex["education"]],
			AnnualIncome:          atof("annual_income"),
			EmploymentStatus:      record[colIndex["employment_status"]],
			WorkExperienceYears:   atoi("work_experience_years"),
			HousingType:           record[colIndex["housing_type"]],
			ExistingLoansCount:    atoi("existing_loans_count"),
			TotalExistingDebt:     atof("total_existing_debt"),
			CreditCardUtilization: atof("credit_card_utilization"),
			PastDelinquencies:     atoi("past_delinquencies"),
			LoanAmount:            atof("loan_amount"),
			LoanTermMonths:        atoi("loan_term_months"),
			IsDefault:             isDefault,
		})

		if limit > 0 && len(apps) >= limit {
			break
		}
	}

	return apps, nil
}

func runBenchmark(apps []LabeledApplication, baseURL string, numWorkers int, verbose bool) *Metrics {
	metrics := &Metrics{}

	work := make(chan LabeledApplication, 100)

	g, _ := errgroup.WithContext(context.Background())
	for i := 0; i < numWorkers; i++ {
		g.Go(func() error {
			client := &http.Client{Timeout: 10 * time.Second}

			for app := range work {
				start := time.Now()
				result, err := scoreApplication(client, baseURL, app)
				elapsed := time.Since(start)

				metrics.recordLatency(elapsed)
				atomic.AddInt64(&metrics.TotalProcessed, 1)

				if err != nil {
					atomic.AddInt64(&metrics.TotalErrors, 1)
					if verbose {
						fmt.Printf("ERROR: %s -> %v\n", app.ApplicationID, err)
					}
					continue
				}

				if app.IsDefault {
					atomic.AddInt64(&metrics.TotalDefault, 1)
				} else {
					atomic.AddInt64(&metrics.TotalGood, 1)
				}

				predicted := result.Decision == "REJECT"
				actual := app.IsDefault

				if predicted && actual {
					atomic.AddInt64(&metrics.TruePositives, 1)
				} else if predicted && !actual {
					atomic.AddInt64(&metrics.FalsePositives, 1)
				} else if !predicted && !actual {
					atomic.AddInt64(&metrics.TrueNegatives, 1)
				} else {
					atomic.AddInt64(&metrics.FalseNegatives, 1)
				}

				if verbose {
					status := "✓"
					if (predicted && !actual) || (!predicted && actual) {
						status = "✗"
					}
					fmt.Printf("%s %-12s | Income: %14.0f | Loan: %14.0f | Default: %-5v | Kestrel: %-7s (%.4f, %s)\n",
						status,
						app.ApplicationID,
						app.AnnualIncome,
						app.LoanAmount,
						app.IsDefault,
						result.Decision,
						result.PredictionScore,
						result.RiskCategory,
					)
				}
			}
			return nil
		})
	}

	for _, app := range apps {
		work <- app
	}
	close(work)

	g.Wait()

	return metrics
}

func scoreApplication(client *http.Client, baseURL string, app LabeledApplication) (*ScoreResponse, error) {
	req := ScoreRequest{
		Application: map[string]any{
			"application_id":          app.ApplicationID,
			"age":                     app.Age,
			"gender":                  app.Gender,
			"marital_status":          app.MaritalStatus,
			"education":               app.Education,
			"annual_income":           app.AnnualIncome,
			"employment_status":       app.EmploymentStatus,
			"work_experience_years":   app.WorkExperienceYears,
			"housing_type":            app.HousingType,
			"existing_loans_count":    app.ExistingLoansCount,
			"total_existing_debt":     app.TotalExistingDebt,
			"credit_card_utilization": app.CreditCardUtilization,
			"past_delinquencies":      app.PastDelinquencies,
			"loan_amount":             app.LoanAmount,
			"loan_term_months":        app.LoanTermMonths,
		},
		UserID: "benchmark",
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequest(http.MethodPost, baseURL+"/score", bytes.NewReader(body))
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

	var result ScoreResponse
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
	fmt.Printf("   Total Defaulted:  %d\n", m.TotalDefault)
	fmt.Printf("   Total Repaid:     %d\n", m.TotalGood)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                   REJECT     APPROVE")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  D  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          ND  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
	fmt.Println("              └──────────┴──────────┘")

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

	fmt.Printf("\n🎯 DECISION METRICS\n")
	fmt.Printf("   Precision:  %.4f  (of rejections, how many would have defaulted)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of defaulters, how many did we reject)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct decisions)\n", accuracy)

	fmt.Printf("\n🔍 RISK ANALYSIS\n")
	if m.TotalDefault > 0 {
		catchRate := float64(m.TruePositives) / float64(m.TotalDefault) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalDefault) * 100
		fmt.Printf("   Defaults Caught:   %d / %d (%.2f%%)\n", m.TruePositives, m.TotalDefault, catchRate)
		fmt.Printf("   Defaults Missed:   %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalDefault, missRate)
	}
	if m.TotalGood > 0 {
		lostBusiness := float64(m.FalsePositives) / float64(m.TotalGood) * 100
		fmt.Printf("   Good Rejected:     %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalGood, lostBusiness)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	if m.TotalProcessed > 0 {
		tps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f req/sec\n", tps)
		fmt.Printf("   Latency p50:      %v\n", m.percentile(0.50).Round(time.Microsecond))
		fmt.Printf("   Latency p95:      %v\n", m.percentile(0.95).Round(time.Microsecond))
		fmt.Printf("   Latency p99:      %v\n", m.percentile(0.99).Round(time.Microsecond))
	}

	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most defaulters")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some defaulters")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant risk being approved")
	} else {
		fmt.Println("   ❌ Poor recall - most defaulters are being approved!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - rejections are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - turning away many good applicants")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false rejections")
	}

	fmt.Println()
}
