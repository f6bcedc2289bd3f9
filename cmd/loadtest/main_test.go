package main

import (
	"context"
	"encoding/json"
	"flag"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func withFlagArgs(t *testing.T, args []string, fn func()) {
	t.Helper()

	oldArgs := os.Args
	oldCommandLine := flag.CommandLine

	os.Args = append([]string{"loadtest"}, args...)
	flag.CommandLine = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)

	defer func() {
		os.Args = oldArgs
		flag.CommandLine = oldCommandLine
	}()

	fn()
}

func TestParseMode(t *testing.T) {
	cases := []struct {
		raw     string
		want    loadMode
		wantErr bool
	}{
		{"checkout", modeCheckout, false},
		{" Checkout-Status ", modeCheckoutStatus, false},
		{"PRODUCTS", modeProducts, false},
		{"create-pay", "", true},
		{"", "", true},
	}

	for _, tc := range cases {
		got, err := parseMode(tc.raw)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseMode(%q): expected error", tc.raw)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseMode(%q) failed: %v", tc.raw, err)
			continue
		}
		if got != tc.want {
			t.Errorf("parseMode(%q) = %s, want %s", tc.raw, got, tc.want)
		}
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	withFlagArgs(t, nil, func() {
		cfg, err := parseConfig()
		if err != nil {
			t.Fatalf("parseConfig failed: %v", err)
		}
		if cfg.baseURL != "http://localhost:8080" {
			t.Errorf("unexpected base URL: %s", cfg.baseURL)
		}
		if cfg.mode != modeCheckout {
			t.Errorf("unexpected mode: %s", cfg.mode)
		}
		if cfg.total != 400 || cfg.concurrency != 40 {
			t.Errorf("unexpected defaults: total=%d concurrency=%d", cfg.total, cfg.concurrency)
		}
		if cfg.timeout != 5*time.Second {
			t.Errorf("unexpected timeout: %s", cfg.timeout)
		}
	})
}

func TestParseConfig_Validation(t *testing.T) {
	cases := [][]string{
		{"-total=0"},
		{"-concurrency=0"},
		{"-qty=0"},
		{"-timeout=0s"},
		{"-mode=unknown"},
		{"-base-url= "},
		{"-duration=-5s"},
	}

	for _, args := range cases {
		withFlagArgs(t, args, func() {
			if _, err := parseConfig(); err == nil {
				t.Errorf("expected error for args %v", args)
			}
		})
	}
}

func TestParseConfig_TrimsBaseURL(t *testing.T) {
	withFlagArgs(t, []string{"-base-url=http://localhost:8080/"}, func() {
		cfg, err := parseConfig()
		if err != nil {
			t.Fatalf("parseConfig failed: %v", err)
		}
		if cfg.baseURL != "http://localhost:8080" {
			t.Errorf("trailing slash should be trimmed, got %s", cfg.baseURL)
		}
	})
}

func TestDispatchJobs_CountMode(t *testing.T) {
	jobs := make(chan int)
	cfg := config{total: 5}

	var got []int
	done := make(chan struct{})
	go func() {
		defer close(done)
		for idx := range jobs {
			got = append(got, idx)
		}
	}()

	dispatchJobs(context.Background(), jobs, cfg)
	<-done

	if len(got) != 5 {
		t.Fatalf("expected 5 jobs, got %d", len(got))
	}
}

func TestDispatchJobs_DurationMode(t *testing.T) {
	jobs := make(chan int)
	cfg := config{duration: 50 * time.Millisecond}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.duration)
	defer cancel()

	var count atomic.Int64
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range jobs {
			count.Add(1)
		}
	}()

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()

	if count.Load() == 0 {
		t.Fatal("expected at least one job in duration mode")
	}
}

func TestCollectorAndReport(t *testing.T) {
	stats := newCollector()

	stats.record("checkout", 10*time.Millisecond, http.StatusCreated)
	stats.record("checkout", 20*time.Millisecond, http.StatusConflict)
	stats.record("checkout", 30*time.Millisecond, 0)
	stats.record("scenario", 40*time.Millisecond, http.StatusOK)
	stats.record("scenario", 50*time.Millisecond, 0)

	result := stats.buildReport(time.Now(), time.Second)

	if result.TotalScenarios != 2 || result.SuccessScenarios != 1 || result.FailedScenarios != 1 {
		t.Fatalf("unexpected scenario counts: %+v", result)
	}
	if result.ErrorRate != 0.5 {
		t.Errorf("expected error rate 0.5, got %f", result.ErrorRate)
	}
	if result.RPS != 2 {
		t.Errorf("expected rps 2, got %f", result.RPS)
	}

	checkout, ok := result.Endpoints["checkout"]
	if !ok {
		t.Fatal("expected checkout endpoint in report")
	}
	if checkout.Calls != 3 || checkout.Success != 1 || checkout.Failed != 2 {
		t.Fatalf("unexpected checkout stats: %+v", checkout)
	}
	if checkout.Codes["201"] != 1 || checkout.Codes["409"] != 1 || checkout.Codes["transport_error"] != 1 {
		t.Fatalf("unexpected checkout codes: %v", checkout.Codes)
	}
}

func TestCodeLabel(t *testing.T) {
	if codeLabel(0) != "transport_error" {
		t.Errorf("zero status should map to transport_error, got %s", codeLabel(0))
	}
	if codeLabel(404) != "404" {
		t.Errorf("expected 404, got %s", codeLabel(404))
	}
}

func TestLatencySummaryAndPercentile(t *testing.T) {
	values := []float64{10, 20, 30, 40, 50}
	summary := buildLatencySummary(values)

	if summary.Min != 10 || summary.Max != 50 {
		t.Errorf("unexpected min/max: %+v", summary)
	}
	if summary.Avg != 30 {
		t.Errorf("expected avg 30, got %f", summary.Avg)
	}
	if summary.P50 != 30 {
		t.Errorf("expected p50 30, got %f", summary.P50)
	}

	if got := percentile(nil, 95); got != 0 {
		t.Errorf("empty percentile should be 0, got %f", got)
	}
	if got := percentile([]float64{7}, 99); got != 7 {
		t.Errorf("single value percentile should be 7, got %f", got)
	}

	empty := buildLatencySummary(nil)
	if empty != (latencySummary{}) {
		t.Errorf("empty summary should be zero value, got %+v", empty)
	}
}

func TestRatio(t *testing.T) {
	if got := ratio(1, 4); got != 0.25 {
		t.Errorf("expected 0.25, got %f", got)
	}
	if got := ratio(3, 0); got != 0 {
		t.Errorf("zero total should give 0, got %f", got)
	}
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "report.json")

	result := report{TotalScenarios: 3, SuccessScenarios: 3}
	if err := writeJSONReport(path, result); err != nil {
		t.Fatalf("writeJSONReport failed: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report failed: %v", err)
	}

	var parsed report
	if err := json.Unmarshal(raw, &parsed); err != nil {
		t.Fatalf("report is not valid json: %v", err)
	}
	if parsed.TotalScenarios != 3 {
		t.Errorf("expected 3 scenarios in report, got %d", parsed.TotalScenarios)
	}
}

func TestRunScenario_CheckoutStatus(t *testing.T) {
	var checkoutHits, statusHits atomic.Int64

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodPost && r.URL.Path == "/api/checkout":
			checkoutHits.Add(1)
			if r.Header.Get("Idempotency-Key") == "" {
				t.Error("checkout request must carry an idempotency key")
			}
			w.WriteHeader(http.StatusCreated)
			_ = json.NewEncoder(w).Encode(map[string]string{"orderId": "order-99"})
		case r.Method == http.MethodGet && r.URL.Path == "/api/order/order-99/status":
			statusHits.Add(1)
			_ = json.NewEncoder(w).Encode(map[string]string{"status": "created"})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	cfg := config{
		baseURL:     srv.URL,
		mode:        modeCheckoutStatus,
		productID:   "prod-1",
		qty:         1,
		customerTag: "load",
	}
	stats := newCollector()
	var seq atomic.Int64

	runScenario(context.Background(), srv.Client(), cfg, stats, 0, &seq)

	if checkoutHits.Load() != 1 || statusHits.Load() != 1 {
		t.Fatalf("expected one checkout and one status call, got %d/%d", checkoutHits.Load(), statusHits.Load())
	}

	result := stats.buildReport(time.Now(), time.Second)
	if result.SuccessScenarios != 1 {
		t.Fatalf("expected successful scenario, got %+v", result)
	}
	if result.Endpoints["checkout"].Success != 1 {
		t.Errorf("checkout call should be recorded as success")
	}
	if result.Endpoints["order_status"].Success != 1 {
		t.Errorf("status call should be recorded as success")
	}
}

func TestRunScenario_TransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close()

	cfg := config{
		baseURL:     srv.URL,
		mode:        modeCheckout,
		productID:   "prod-1",
		qty:         1,
		customerTag: "load",
	}
	stats := newCollector()
	var seq atomic.Int64

	runScenario(context.Background(), http.DefaultClient, cfg, stats, 0, &seq)

	result := stats.buildReport(time.Now(), time.Second)
	if result.FailedScenarios != 1 {
		t.Fatalf("expected failed scenario against closed server, got %+v", result)
	}
	if result.Endpoints["checkout"].Codes["transport_error"] != 1 {
		t.Errorf("expected transport_error code, got %v", result.Endpoints["checkout"].Codes)
	}
}

func TestRunScenario_Products(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		_ = json.NewEncoder(w).Encode([]map[string]any{{"id": "prod-1", "name": "Букет пионов"}})
	}))
	defer srv.Close()

	cfg := config{baseURL: srv.URL, mode: modeProducts, qty: 1}
	stats := newCollector()
	var seq atomic.Int64

	runScenario(context.Background(), srv.Client(), cfg, stats, 0, &seq)

	result := stats.buildReport(time.Now(), time.Second)
	if result.SuccessScenarios != 1 {
		t.Fatalf("expected successful products scenario, got %+v", result)
	}
}
