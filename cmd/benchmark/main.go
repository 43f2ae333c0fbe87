// Benchmark tool for testing FraudGuard against labeled customer data.
//
// Usage:
//   go run cmd/benchmark/main.go -csv /path/to/customers.csv -url http://localhost:8080
//
// This tool:
//   1. Reads labeled customer records (with is_fraud ground truth)
//   2. Uploads them as batches and runs all three pipeline stages
//   3. Compares predicted risk (HIGH/CRITICAL) with actual fraud labels
//   4. Calculates precision, recall, F1-score, and confusion matrix
package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/ingest"
)

// Metrics tracks benchmark results
type Metrics struct {
	TruePositives  int64 // Fraud predicted HIGH/CRITICAL
	FalsePositives int64 // Non-fraud predicted HIGH/CRITICAL
	TrueNegatives  int64 // Non-fraud predicted below HIGH
	FalseNegatives int64 // Fraud predicted below HIGH (missed fraud!)

	TotalProcessed int64
	TotalFraud     int64
	TotalNonFraud  int64
	TotalErrors    int64

	StageTimeMs [3]int64
}

func main() {
	// Parse flags
	csvPath := flag.String("csv", "", "Path to labeled customer CSV file")
	baseURL := flag.String("url", "http://localhost:8080", "FraudGuard base URL")
	limit := flag.Int("limit", 10000, "Maximum records to process (0 = all)")
	batchSize := flag.Int("batch-size", 500, "Records per uploaded batch")
	fraudOnly := flag.Bool("fraud-only", false, "Only test fraud records")
	verbose := flag.Bool("verbose", false, "Print each record result")
	flag.Parse()

	if *csvPath == "" {
		fmt.Println("Usage: benchmark -csv /path/to/customers.csv [-url http://localhost:8080]")
		fmt.Println("\nFlags:")
		flag.PrintDefaults()
		os.Exit(1)
	}

	fmt.Println("╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║        FRAUDGUARD BENCHMARK - Labeled Customer Records        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")
	fmt.Printf("\nCSV File:        %s\n", *csvPath)
	fmt.Printf("FraudGuard URL:  %s\n", *baseURL)
	fmt.Printf("Batch Size:      %d\n", *batchSize)
	fmt.Printf("Limit:           %d\n", *limit)
	fmt.Printf("Fraud Only:      %v\n", *fraudOnly)
	fmt.Println()

	// Check FraudGuard is running
	if err := checkHealth(*baseURL); err != nil {
		fmt.Printf("ERROR: FraudGuard not reachable at %s: %v\n", *baseURL, err)
		fmt.Println("\nMake sure FraudGuard is running:")
		fmt.Println("  go run cmd/fraudguard/main.go")
		os.Exit(1)
	}
	fmt.Println("✓ FraudGuard is healthy")

	// Read labeled records
	fmt.Printf("\nReading customer records from %s...\n", *csvPath)
	records, err := readRecords(*csvPath, *limit, *fraudOnly)
	if err != nil {
		fmt.Printf("ERROR: Failed to read CSV: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("✓ Loaded %d records\n", len(records))

	// Count fraud vs non-fraud
	fraudCount := 0
	for _, r := range records {
		if r.IsFraud == 1 {
			fraudCount++
		}
	}
	fmt.Printf("  - Fraud:     %d (%.2f%%)\n", fraudCount, 100*float64(fraudCount)/float64(len(records)))
	fmt.Printf("  - Non-fraud: %d (%.2f%%)\n", len(records)-fraudCount, 100*float64(len(records)-fraudCount)/float64(len(records)))

	// Run benchmark
	fmt.Printf("\nRunning benchmark in batches of %d...\n", *batchSize)
	startTime := time.Now()
	metrics := runBenchmark(records, *baseURL, *batchSize, *verbose)
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

func readRecords(path string, limit int, fraudOnly bool) ([]domain.CustomerRecord, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	all, err := ingest.ParseCSV(file)
	if err != nil {
		return nil, err
	}

	var records []domain.CustomerRecord
	for _, r := range all {
		if fraudOnly && r.IsFraud != 1 {
			continue
		}
		records = append(records, r)
		if limit > 0 && len(records) >= limit {
			break
		}
	}

	return records, nil
}

func runBenchmark(records []domain.CustomerRecord, baseURL string, batchSize int, verbose bool) *Metrics {
	metrics := &Metrics{}
	client := &http.Client{Timeout: 60 * time.Second}

	for start := 0; start < len(records); start += batchSize {
		end := start + batchSize
		if end > len(records) {
			end = len(records)
		}
		chunk := records[start:end]

		assessments, err := runBatch(client, baseURL, chunk, metrics)
		if err != nil {
			fmt.Printf("ERROR: batch starting at record %d failed: %v\n", start, err)
			metrics.TotalErrors += int64(len(chunk))
			continue
		}

		byID := make(map[string]*domain.CustomerAssessment, len(assessments))
		for _, a := range assessments {
			byID[a.CustomerID] = a
		}

		for _, r := range chunk {
			a := byID[r.CustomerID]
			if a == nil || a.Fraud == nil {
				metrics.TotalErrors++
				continue
			}
			metrics.TotalProcessed++

			actual := r.IsFraud == 1
			if actual {
				metrics.TotalFraud++
			} else {
				metrics.TotalNonFraud++
			}

			predicted := a.Fraud.RiskCategory == domain.RiskHigh || a.Fraud.RiskCategory == domain.RiskCritical

			if predicted && actual {
				metrics.TruePositives++
			} else if predicted && !actual {
				metrics.FalsePositives++
			} else if !predicted && !actual {
				metrics.TrueNegatives++
			} else { // !predicted && actual
				metrics.FalseNegatives++
			}

			if verbose {
				status := "✓"
				if predicted != actual {
					status = "✗"
				}
				fmt.Printf("%s %-12s | City: %-14s | Fraud: %-5v | Predicted: %-8s (%.3f) | Final: %.3f\n",
					status,
					r.CustomerID,
					r.City,
					actual,
					a.Fraud.RiskCategory,
					a.Fraud.FraudProbability,
					finalScore(a),
				)
			}
		}
	}

	return metrics
}

func finalScore(a *domain.CustomerAssessment) float64 {
	if a.Similarity != nil {
		return a.Similarity.FinalRiskScore
	}
	return 0
}

// runBatch uploads one chunk, runs the three stages, and returns assessments.
func runBatch(client *http.Client, baseURL string, chunk []domain.CustomerRecord, metrics *Metrics) ([]*domain.CustomerAssessment, error) {
	body, err := json.Marshal(domain.CreateBatchRequest{
		Name:    fmt.Sprintf("benchmark %s", time.Now().Format("15:04:05.000")),
		Records: chunk,
	})
	if err != nil {
		return nil, err
	}

	resp, err := client.Post(baseURL+"/batches", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		return nil, fmt.Errorf("create batch: status %d", resp.StatusCode)
	}

	var batch domain.Batch
	if err := json.NewDecoder(resp.Body).Decode(&batch); err != nil {
		return nil, err
	}

	for stage := 1; stage <= 3; stage++ {
		start := time.Now()
		req, err := http.NewRequest(http.MethodPost,
			fmt.Sprintf("%s/batches/%s/steps/%d", baseURL, batch.ID, stage), nil)
		if err != nil {
			return nil, err
		}
		stepResp, err := client.Do(req)
		if err != nil {
			return nil, err
		}
		stepResp.Body.Close()
		metrics.StageTimeMs[stage-1] += time.Since(start).Milliseconds()

		if stepResp.StatusCode != http.StatusOK && stepResp.StatusCode != http.StatusAccepted {
			return nil, fmt.Errorf("stage %d: status %d", stage, stepResp.StatusCode)
		}
	}

	aResp, err := client.Get(baseURL + "/batches/" + batch.ID + "/assessments")
	if err != nil {
		return nil, err
	}
	defer aResp.Body.Close()

	if aResp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("assessments: status %d", aResp.StatusCode)
	}

	var result struct {
		Assessments []*domain.CustomerAssessment `json:"assessments"`
	}
	if err := json.NewDecoder(aResp.Body).Decode(&result); err != nil {
		return nil, err
	}

	return result.Assessments, nil
}

func printResults(m *Metrics, duration time.Duration) {
	fmt.Println("\n╔═══════════════════════════════════════════════════════════════╗")
	fmt.Println("║                      BENCHMARK RESULTS                        ║")
	fmt.Println("╚═══════════════════════════════════════════════════════════════╝")

	fmt.Printf("\n📊 DATASET STATISTICS\n")
	fmt.Printf("   Total Processed:  %d\n", m.TotalProcessed)
	fmt.Printf("   Total Fraud:      %d\n", m.TotalFraud)
	fmt.Printf("   Total Non-Fraud:  %d\n", m.TotalNonFraud)
	fmt.Printf("   Errors:           %d\n", m.TotalErrors)

	fmt.Printf("\n📈 CONFUSION MATRIX\n")
	fmt.Println("                        Predicted")
	fmt.Println("                    HIGH+       below")
	fmt.Println("              ┌──────────┬──────────┐")
	fmt.Printf("   Actual  F  │ %8d │ %8d │  (TP, FN)\n", m.TruePositives, m.FalseNegatives)
	fmt.Println("              ├──────────┼──────────┤")
	fmt.Printf("          NF  │ %8d │ %8d │  (FP, TN)\n", m.FalsePositives, m.TrueNegatives)
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
	fmt.Printf("   Precision:  %.4f  (of flagged records, how many were actual fraud)\n", precision)
	fmt.Printf("   Recall:     %.4f  (of fraud, how many did we catch)\n", recall)
	fmt.Printf("   F1-Score:   %.4f  (harmonic mean of precision & recall)\n", f1)
	fmt.Printf("   Accuracy:   %.4f  (overall correct predictions)\n", accuracy)

	// Detection rate analysis
	fmt.Printf("\n🔍 DETECTION ANALYSIS\n")
	if m.TotalFraud > 0 {
		detectionRate := float64(m.TruePositives) / float64(m.TotalFraud) * 100
		missRate := float64(m.FalseNegatives) / float64(m.TotalFraud) * 100
		fmt.Printf("   Fraud Detected:    %d / %d (%.2f%%)\n", m.TruePositives, m.TotalFraud, detectionRate)
		fmt.Printf("   Fraud Missed:      %d / %d (%.2f%%) ⚠️\n", m.FalseNegatives, m.TotalFraud, missRate)
	}
	if m.TotalNonFraud > 0 {
		falseAlarmRate := float64(m.FalsePositives) / float64(m.TotalNonFraud) * 100
		fmt.Printf("   False Alarms:      %d / %d (%.2f%%)\n", m.FalsePositives, m.TotalNonFraud, falseAlarmRate)
	}

	fmt.Printf("\n⏱️  PERFORMANCE\n")
	fmt.Printf("   Total Duration:   %v\n", duration.Round(time.Millisecond))
	fmt.Printf("   Stage 1 (fraud detection):     %d ms\n", m.StageTimeMs[0])
	fmt.Printf("   Stage 2 (market intelligence): %d ms\n", m.StageTimeMs[1])
	fmt.Printf("   Stage 3 (customer search):     %d ms\n", m.StageTimeMs[2])
	if m.TotalProcessed > 0 {
		rps := float64(m.TotalProcessed) / duration.Seconds()
		fmt.Printf("   Throughput:       %.2f records/sec\n", rps)
	}

	// Interpretation
	fmt.Printf("\n💡 INTERPRETATION\n")
	if recall >= 0.9 {
		fmt.Println("   ✅ Excellent recall - catching most fraud")
	} else if recall >= 0.7 {
		fmt.Println("   ⚠️  Good recall - but missing some fraud")
	} else if recall >= 0.5 {
		fmt.Println("   ⚠️  Moderate recall - significant fraud being missed")
	} else {
		fmt.Println("   ❌ Poor recall - most fraud is being missed!")
	}

	if precision >= 0.5 {
		fmt.Println("   ✅ Good precision - alerts are meaningful")
	} else if precision >= 0.2 {
		fmt.Println("   ⚠️  Low precision - many false alarms")
	} else {
		fmt.Println("   ❌ Very low precision - mostly false alarms")
	}

	fmt.Println()
}
