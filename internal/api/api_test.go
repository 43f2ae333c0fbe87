package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/fraudguard-io/fraudguard/internal/cache"
	"github.com/fraudguard-io/fraudguard/internal/domain"
	"github.com/fraudguard-io/fraudguard/internal/intel"
	"github.com/fraudguard-io/fraudguard/internal/repository"
	"github.com/fraudguard-io/fraudguard/internal/scoring"
	"github.com/fraudguard-io/fraudguard/internal/similarity"
	"github.com/fraudguard-io/fraudguard/internal/stats"
	"github.com/fraudguard-io/fraudguard/internal/workflow"
)

// createTestServer wires a server against a temp sqlite database.
func createTestServer(t *testing.T) *Server {
	t.Helper()

	f, err := os.CreateTemp("", "api-test-*.db")
	if err != nil {
		t.Fatalf("failed to create temp db: %v", err)
	}
	f.Close()
	t.Cleanup(func() { os.Remove(f.Name()) })

	repo, err := repository.New(domain.RepositoryConfig{
		Driver:     "sqlite",
		SQLitePath: f.Name(),
	})
	if err != nil {
		t.Fatalf("failed to create repository: %v", err)
	}
	t.Cleanup(func() { repo.Close() })

	engine, err := scoring.NewEngine(nil)
	if err != nil {
		t.Fatalf("failed to create scoring engine: %v", err)
	}

	lru := cache.NewLRUCache(100)
	opts := domain.DefaultConfig().Intel

	wf := workflow.New(
		repo,
		scoring.NewDetector(engine, 4),
		intel.NewEngine(opts),
		similarity.NewSearcher(similarity.NewCosineMatcher(0.85)),
		nil,
		lru,
		opts,
	)

	cfg := domain.ServerConfig{
		Host:         "localhost",
		Port:         8080,
		ReadTimeout:  30,
		WriteTimeout: 30,
	}

	return NewServer(cfg, wf, stats.NewService(repo, lru, 0), engine, repo, lru, "test-v1", false)
}

func testRecords() []domain.CustomerRecord {
	return []domain.CustomerRecord{
		{
			CustomerID:  "CUST-001",
			City:        "Mumbai",
			Pincode:     "400001",
			CreditScore: 720,

			DocumentQualityScore:       0.8,
			DocumentConsistencyScore:   0.7,
			BiometricVerificationScore: 0.9,
			IdentityMatchScore:         0.85,
			FinancialRiskScore:         0.2,
			DigitalConsistencyScore:    0.75,
			DigitalFootprintScore:      0.6,
			IncomeAlignmentScore:       0.7,
			DigitalReputationScore:     0.65,
			IdentityMismatchScore:      0.1,
		},
		{
			CustomerID:  "CUST-002",
			City:        "Mumbai",
			Pincode:     "400001",
			CreditScore: 480,
			IsFraud:     1,

			DocumentQualityScore:       0.2,
			DocumentConsistencyScore:   0.3,
			BiometricVerificationScore: 0.4,
			IdentityMatchScore:         0.3,
			FinancialRiskScore:         0.9,
			DigitalConsistencyScore:    0.2,
			DigitalFootprintScore:      0.3,
			IncomeAlignmentScore:       0.25,
			DigitalReputationScore:     0.3,
			IdentityMismatchScore:      0.8,
		},
	}
}

// createBatch posts a batch through the API and returns its ID.
func createBatch(t *testing.T, server *Server) string {
	t.Helper()

	body, _ := json.Marshal(domain.CreateBatchRequest{
		Name:    "test batch",
		Records: testRecords(),
	})
	req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBuffer(body))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var batch domain.Batch
	if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
		t.Fatalf("failed to parse response: %v", err)
	}
	return batch.ID
}

// runStep posts a pipeline step and fails the test unless it returns the
// wanted status.
func runStep(t *testing.T, server *Server, batchID, step string, want int) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodPost, "/batches/"+batchID+"/steps/"+step, nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != want {
		t.Fatalf("step %s: expected status %d, got %d: %s", step, want, rr.Code, rr.Body.String())
	}
	return rr
}

func TestBatchEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("CreateBatch", func(t *testing.T) {
		body, _ := json.Marshal(domain.CreateBatchRequest{
			Name:    "september batch",
			Records: testRecords(),
		})
		req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var batch domain.Batch
		if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}

		if batch.ID != "BATCH-001" {
			t.Errorf("expected id BATCH-001, got %s", batch.ID)
		}
		if batch.Status != domain.BatchPending {
			t.Errorf("expected status pending, got %s", batch.Status)
		}
		if batch.CurrentStep != 1 {
			t.Errorf("expected currentStep 1, got %d", batch.CurrentStep)
		}
		if batch.TotalRecords != 2 {
			t.Errorf("expected totalRecords 2, got %d", batch.TotalRecords)
		}
	})

	t.Run("InvalidJSON", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBufferString("not-json"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("EmptyRecords", func(t *testing.T) {
		body, _ := json.Marshal(domain.CreateBatchRequest{Name: "empty"})
		req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
		}
	})

	t.Run("InvalidRecordReportsRows", func(t *testing.T) {
		records := testRecords()
		records[0].DocumentQualityScore = 1.5

		body, _ := json.Marshal(domain.CreateBatchRequest{Name: "bad", Records: records})
		req := httptest.NewRequest(http.MethodPost, "/batches", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Fatalf("expected status 400, got %d", rr.Code)
		}

		var resp struct {
			Rows []domain.RowError `json:"rows"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.Rows) == 0 {
			t.Error("expected row errors in response")
		}
	})

	t.Run("GetBatch", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/BATCH-001", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var batch domain.Batch
		if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if batch.ID != "BATCH-001" {
			t.Errorf("expected id BATCH-001, got %s", batch.ID)
		}
	})

	t.Run("GetBatchNotFound", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/BATCH-999", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusNotFound {
			t.Errorf("expected status 404, got %d", rr.Code)
		}
	})

	t.Run("ListBatches", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var resp struct {
			Batches []domain.Batch `json:"batches"`
			Count   int            `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 1 {
			t.Errorf("expected 1 batch, got %d", resp.Count)
		}
	})
}

func TestImportEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("ValidCSV", func(t *testing.T) {
		csv := "customer_id,city,pincode,credit_score,is_fraud,document_quality_score,financial_risk_score\n" +
			"CUST-101,Pune,411001,710,0,0.8,0.2\n" +
			"CUST-102,Pune,411001,520,1,0.3,0.8\n"

		req := httptest.NewRequest(http.MethodPost, "/batches/import", strings.NewReader(csv))
		req.Header.Set("Content-Type", "text/csv")
		req.Header.Set(BatchNameHeader, "pune upload")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusCreated {
			t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
		}

		var batch domain.Batch
		if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if batch.Name != "pune upload" {
			t.Errorf("expected name 'pune upload', got %q", batch.Name)
		}
		if batch.TotalRecords != 2 {
			t.Errorf("expected 2 records, got %d", batch.TotalRecords)
		}
	})

	t.Run("MissingIDColumn", func(t *testing.T) {
		csv := "city,credit_score\nPune,710\n"

		req := httptest.NewRequest(http.MethodPost, "/batches/import", strings.NewReader(csv))
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestRunStepEndpoint(t *testing.T) {
	server := createTestServer(t)
	batchID := createBatch(t, server)

	t.Run("StepMustBeNumeric", func(t *testing.T) {
		runStep(t, server, batchID, "abc", http.StatusBadRequest)
	})

	t.Run("UnknownStage", func(t *testing.T) {
		runStep(t, server, batchID, "4", http.StatusBadRequest)
	})

	t.Run("LockedStage", func(t *testing.T) {
		runStep(t, server, batchID, "2", http.StatusConflict)
	})

	t.Run("UnknownBatch", func(t *testing.T) {
		runStep(t, server, "BATCH-999", "1", http.StatusNotFound)
	})

	t.Run("FraudDetection", func(t *testing.T) {
		rr := runStep(t, server, batchID, "1", http.StatusOK)

		var batch domain.Batch
		if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if batch.CurrentStep != 2 {
			t.Errorf("expected currentStep 2, got %d", batch.CurrentStep)
		}
		if batch.Status != domain.BatchProcessing {
			t.Errorf("expected status processing, got %s", batch.Status)
		}
		if batch.Results.FraudDetection == nil {
			t.Fatal("expected fraud detection summary")
		}
		if batch.Results.FraudDetection.Processed != 2 {
			t.Errorf("expected 2 processed, got %d", batch.Results.FraudDetection.Processed)
		}
	})

	t.Run("RemainingStages", func(t *testing.T) {
		runStep(t, server, batchID, "2", http.StatusOK)
		rr := runStep(t, server, batchID, "3", http.StatusOK)

		var batch domain.Batch
		if err := json.Unmarshal(rr.Body.Bytes(), &batch); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if batch.Status != domain.BatchCompleted {
			t.Errorf("expected status completed, got %s", batch.Status)
		}
		if batch.Results.CustomerSearch == nil {
			t.Error("expected customer search summary")
		}
	})
}

func TestResultEndpoints(t *testing.T) {
	server := createTestServer(t)
	batchID := createBatch(t, server)
	for _, step := range []string{"1", "2", "3"} {
		runStep(t, server, batchID, step, http.StatusOK)
	}

	t.Run("Assessments", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/"+batchID+"/assessments", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Assessments []domain.CustomerAssessment `json:"assessments"`
			Count       int                         `json:"count"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if resp.Count != 2 {
			t.Fatalf("expected 2 assessments, got %d", resp.Count)
		}
		for _, a := range resp.Assessments {
			if a.Fraud == nil || a.Geo == nil || a.Similarity == nil {
				t.Errorf("customer %s: expected all three stage assessments", a.CustomerID)
			}
		}
	})

	t.Run("GroupsByCity", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/"+batchID+"/groups?by=city", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var resp struct {
			Groups []domain.GroupRiskProfile `json:"groups"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if len(resp.Groups) != 1 {
			t.Fatalf("expected 1 city group, got %d", len(resp.Groups))
		}
		if resp.Groups[0].Key != "Mumbai" {
			t.Errorf("expected Mumbai group, got %s", resp.Groups[0].Key)
		}
	})

	t.Run("GroupsBadKey", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/"+batchID+"/groups?by=country", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("GroupsBadView", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/"+batchID+"/groups?view=everything", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("Export", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/batches/"+batchID+"/export", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}
		if ct := rr.Header().Get("Content-Type"); ct != "text/csv" {
			t.Errorf("expected Content-Type text/csv, got %s", ct)
		}
		if cd := rr.Header().Get("Content-Disposition"); !strings.Contains(cd, batchID) {
			t.Errorf("expected batch id in Content-Disposition, got %s", cd)
		}

		lines := strings.Split(strings.TrimSpace(rr.Body.String()), "\n")
		if len(lines) != 3 {
			t.Fatalf("expected header plus 2 rows, got %d lines", len(lines))
		}
		if !strings.HasPrefix(lines[0], "customer_id,") {
			t.Errorf("unexpected export header: %s", lines[0])
		}
	})

	t.Run("Stats", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		var dashboard stats.Dashboard
		if err := json.Unmarshal(rr.Body.Bytes(), &dashboard); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if dashboard.TotalBatches != 1 {
			t.Errorf("expected 1 batch, got %d", dashboard.TotalBatches)
		}
		if dashboard.CompletedBatches != 1 {
			t.Errorf("expected 1 completed batch, got %d", dashboard.CompletedBatches)
		}
		if dashboard.RecordsProcessed != 2 {
			t.Errorf("expected 2 processed records, got %d", dashboard.RecordsProcessed)
		}
	})
}

func TestScoringEndpoints(t *testing.T) {
	server := createTestServer(t)

	t.Run("GetDefault", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/scoring", nil)
		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d", rr.Code)
		}

		var cfg domain.ScoringConfig
		if err := json.Unmarshal(rr.Body.Bytes(), &cfg); err != nil {
			t.Fatalf("failed to parse response: %v", err)
		}
		if cfg.Expression == "" {
			t.Error("expected a default expression")
		}
	})

	t.Run("UpdateExpression", func(t *testing.T) {
		body, _ := json.Marshal(UpdateScoringRequest{
			ID:         "strict-documents",
			Name:       "Strict Documents",
			Expression: "1.0 - document_quality",
		})
		req := httptest.NewRequest(http.MethodPut, "/scoring", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
		}

		current := server.Handler().engine.Current()
		if current.ID != "strict-documents" {
			t.Errorf("expected active config strict-documents, got %s", current.ID)
		}
	})

	t.Run("InvalidExpression", func(t *testing.T) {
		body, _ := json.Marshal(UpdateScoringRequest{
			ID:         "broken",
			Name:       "Broken",
			Expression: "document_quality +",
		})
		req := httptest.NewRequest(http.MethodPut, "/scoring", bytes.NewBuffer(body))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})

	t.Run("MissingFields", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPut, "/scoring", bytes.NewBufferString("{}"))
		req.Header.Set("Content-Type", "application/json")

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusBadRequest {
			t.Errorf("expected status 400, got %d", rr.Code)
		}
	})
}

func TestHealthEndpoint(t *testing.T) {
	server := createTestServer(t)

	t.Run("HealthCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}

		var resp map[string]string
		json.Unmarshal(rr.Body.Bytes(), &resp)

		if resp["status"] != "healthy" {
			t.Errorf("expected status 'healthy', got '%s'", resp["status"])
		}
		if resp["version"] != "test-v1" {
			t.Errorf("expected version 'test-v1', got '%s'", resp["version"])
		}
	})

	t.Run("ReadyCheck", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/ready", nil)

		rr := httptest.NewRecorder()
		server.Router().ServeHTTP(rr, req)

		if rr.Code != http.StatusOK {
			t.Errorf("expected status 200, got %d", rr.Code)
		}
	})
}

func TestMiddleware(t *testing.T) {
	t.Run("TracingMiddlewareSetsRequestID", func(t *testing.T) {
		var capturedRequestID string

		handler := TracingMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			capturedRequestID = GetRequestID(r.Context())
			w.WriteHeader(http.StatusOK)
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()
		handler.ServeHTTP(rr, req)

		if capturedRequestID == "" {
			t.Error("expected request ID to be set")
		}

		if rr.Header().Get("X-Request-ID") == "" {
			t.Error("expected X-Request-ID response header")
		}
	})

	t.Run("RecoverMiddlewareHandlesPanic", func(t *testing.T) {
		handler := RecoverMiddleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			panic("test panic")
		}))

		req := httptest.NewRequest(http.MethodGet, "/", nil)
		rr := httptest.NewRecorder()

		// Should not panic
		handler.ServeHTTP(rr, req)

		if rr.Code != http.StatusInternalServerError {
			t.Errorf("expected status 500, got %d", rr.Code)
		}
	})
}
