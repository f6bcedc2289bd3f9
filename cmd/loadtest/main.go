package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

const (
	defaultQty = int32(1)
)

type loadMode string

const (
	modeCheckout       loadMode = "checkout"
	modeCheckoutStatus loadMode = "checkout-status"
	modeProducts       loadMode = "products"
)

type config struct {
	baseURL     string
	total       int
	totalSet    bool
	duration    time.Duration
	concurrency int
	timeout     time.Duration
	mode        loadMode
	productID   string
	qty         int32
	customerTag string
	shipping    bool
	outputPath  string
}

type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type endpointReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time                 `json:"started_at"`
	DurationSeconds   float64                   `json:"duration_seconds"`
	TotalScenarios    int64                     `json:"total_scenarios"`
	SuccessScenarios  int64                     `json:"success_scenarios"`
	FailedScenarios   int64                     `json:"failed_scenarios"`
	ErrorRate         float64                   `json:"error_rate"`
	RPS               float64                   `json:"rps"`
	ScenarioLatencyMs latencySummary            `json:"scenario_latency_ms"`
	Endpoints         map[string]endpointReport `json:"endpoints"`
}

type endpointStats struct {
	calls     int64
	success   int64
	failed    int64
	codes     map[string]int64
	latencies []float64
}

type collector struct {
	mu        sync.Mutex
	endpoints map[string]*endpointStats
}

func newCollector() *collector {
	return &collector{
		endpoints: make(map[string]*endpointStats),
	}
}

func (c *collector) record(endpoint string, latency time.Duration, statusCode int) {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats, ok := c.endpoints[endpoint]
	if !ok {
		stats = &endpointStats{
			codes: make(map[string]int64),
		}
		c.endpoints[endpoint] = stats
	}

	stats.calls++
	if statusCode >= 200 && statusCode < 300 {
		stats.success++
	} else {
		stats.failed++
	}
	stats.codes[codeLabel(statusCode)]++
	stats.latencies = append(stats.latencies, float64(latency.Microseconds())/1000.0)
}

// codeLabel переводит HTTP-статус в ключ для отчёта. Нулевой статус
// означает транспортную ошибку до получения ответа.
func codeLabel(statusCode int) string {
	if statusCode == 0 {
		return "transport_error"
	}
	return strconv.Itoa(statusCode)
}

func (c *collector) buildReport(startedAt time.Time, duration time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: duration.Seconds(),
		Endpoints:       make(map[string]endpointReport, len(c.endpoints)),
	}

	scenarioStats := c.endpoints["scenario"]
	if scenarioStats != nil {
		result.TotalScenarios = scenarioStats.calls
		result.SuccessScenarios = scenarioStats.success
		result.FailedScenarios = scenarioStats.failed
		result.ErrorRate = ratio(scenarioStats.failed, scenarioStats.calls)
		result.ScenarioLatencyMs = buildLatencySummary(scenarioStats.latencies)
	}
	if duration > 0 {
		result.RPS = float64(result.TotalScenarios) / duration.Seconds()
	}

	for name, stats := range c.endpoints {
		codesCopy := make(map[string]int64, len(stats.codes))
		for code, count := range stats.codes {
			codesCopy[code] = count
		}
		result.Endpoints[name] = endpointReport{
			Calls:     stats.calls,
			Success:   stats.success,
			Failed:    stats.failed,
			ErrorRate: ratio(stats.failed, stats.calls),
			Codes:     codesCopy,
			LatencyMs: buildLatencySummary(stats.latencies),
		}
	}

	return result
}

func parseConfig() (config, error) {
	var cfg config
	var modeValue string
	var timeoutValue string
	var durationValue string
	var qtyValue int

	flag.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "storefront base URL")
	flag.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	flag.StringVar(&durationValue, "duration", "0s", "optional time-based run duration (e.g. 10m, 15m)")
	flag.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	flag.StringVar(&timeoutValue, "timeout", "5s", "per-request timeout")
	flag.StringVar(&modeValue, "mode", string(modeCheckout), "load mode: checkout | checkout-status | products")
	flag.StringVar(&cfg.productID, "product-id", "prod-load", "catalog product id used in checkout items")
	flag.IntVar(&qtyValue, "qty", int(defaultQty), "item quantity per checkout")
	flag.StringVar(&cfg.customerTag, "customer-tag", "load", "customer name prefix")
	flag.BoolVar(&cfg.shipping, "shipping", false, "request shipping with a generated address")
	flag.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	flag.Parse()

	timeout, err := time.ParseDuration(strings.TrimSpace(timeoutValue))
	if err != nil {
		return cfg, fmt.Errorf("parse timeout: %w", err)
	}
	cfg.timeout = timeout

	duration, err := time.ParseDuration(strings.TrimSpace(durationValue))
	if err != nil {
		return cfg, fmt.Errorf("parse duration: %w", err)
	}
	cfg.duration = duration

	flag.CommandLine.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.qty = int32(qtyValue)

	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")
	if cfg.baseURL == "" {
		return cfg, errors.New("base-url must not be empty")
	}
	if cfg.duration < 0 {
		return cfg, errors.New("duration must be >= 0")
	}
	if cfg.duration == 0 && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when duration is not set")
	}
	if cfg.duration > 0 && cfg.totalSet && cfg.total <= 0 {
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	}
	if cfg.concurrency <= 0 {
		return cfg, errors.New("concurrency must be > 0")
	}
	if cfg.qty <= 0 {
		return cfg, errors.New("qty must be > 0")
	}
	if cfg.timeout <= 0 {
		return cfg, errors.New("timeout must be > 0")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.ToLower(strings.TrimSpace(value))) {
	case modeCheckout:
		return modeCheckout, nil
	case modeCheckoutStatus:
		return modeCheckoutStatus, nil
	case modeProducts:
		return modeProducts, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	client := &http.Client{Timeout: cfg.timeout}
	stats := newCollector()

	ctx := context.Background()
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	var scenarioSeq atomic.Int64

	startedAt := time.Now()
	for worker := 0; worker < cfg.concurrency; worker++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for index := range jobs {
				runScenario(ctx, client, cfg, stats, index, &scenarioSeq)
			}
		}()
	}

	dispatchJobs(ctx, jobs, cfg)
	wg.Wait()
	elapsed := time.Since(startedAt)

	result := stats.buildReport(startedAt, elapsed)
	printReport(result, cfg)

	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// dispatchJobs раздаёт номера сценариев воркерам до исчерпания счётчика
// или истечения дедлайна прогона.
func dispatchJobs(ctx context.Context, jobs chan<- int, cfg config) {
	defer close(jobs)

	if cfg.duration > 0 && !cfg.totalSet {
		index := 0
		for {
			select {
			case <-ctx.Done():
				return
			case jobs <- index:
				index++
			}
		}
	}

	for index := 0; index < cfg.total; index++ {
		select {
		case <-ctx.Done():
			return
		case jobs <- index:
		}
	}
}

func runScenario(ctx context.Context, client *http.Client, cfg config, stats *collector, index int, seq *atomic.Int64) {
	scenarioStart := time.Now()
	ok := true

	switch cfg.mode {
	case modeProducts:
		start := time.Now()
		_, code := callGet(ctx, client, cfg.baseURL+"/api/products")
		stats.record("products", time.Since(start), code)
		ok = code == http.StatusOK

	default:
		orderID, code := callCheckout(ctx, client, cfg, stats, index, seq)
		ok = code == http.StatusCreated || code == http.StatusOK
		if ok && cfg.mode == modeCheckoutStatus {
			start := time.Now()
			_, statusCode := callGet(ctx, client, cfg.baseURL+"/api/order/"+orderID+"/status")
			stats.record("order_status", time.Since(start), statusCode)
			ok = statusCode == http.StatusOK
		}
	}

	scenarioCode := http.StatusOK
	if !ok {
		scenarioCode = 0
	}
	stats.record("scenario", time.Since(scenarioStart), scenarioCode)
}

type checkoutItemPayload struct {
	ProductID string `json:"productId"`
	Quantity  int32  `json:"quantity"`
}

type checkoutPayload struct {
	Items           []checkoutItemPayload `json:"items"`
	CustomerName    string                `json:"customerName"`
	CustomerPhone   string                `json:"customerPhone"`
	CustomerEmail   string                `json:"customerEmail"`
	CustomerAddress string                `json:"customerAddress,omitempty"`
	Shipping        bool                  `json:"shipping"`
}

type checkoutResponse struct {
	OrderID string `json:"orderId"`
}

func callCheckout(ctx context.Context, client *http.Client, cfg config, stats *collector, index int, seq *atomic.Int64) (string, int) {
	n := seq.Add(1)
	payload := checkoutPayload{
		Items: []checkoutItemPayload{
			{ProductID: cfg.productID, Quantity: cfg.qty},
		},
		CustomerName:  fmt.Sprintf("%s-%d", cfg.customerTag, n),
		CustomerPhone: fmt.Sprintf("+7916%07d", n%10000000),
		CustomerEmail: fmt.Sprintf("%s-%d@example.com", cfg.customerTag, n),
		Shipping:      cfg.shipping,
	}
	if cfg.shipping {
		payload.CustomerAddress = fmt.Sprintf("Москва, Тестовая улица, дом %d", index+1)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", 0
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, cfg.baseURL+"/api/checkout", bytes.NewReader(body))
	if err != nil {
		return "", 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", uuid.NewString())

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		stats.record("checkout", time.Since(start), 0)
		return "", 0
	}
	defer resp.Body.Close()

	var parsed checkoutResponse
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	_ = json.Unmarshal(raw, &parsed)

	stats.record("checkout", time.Since(start), resp.StatusCode)
	return parsed.OrderID, resp.StatusCode
}

func callGet(ctx context.Context, client *http.Client, url string) ([]byte, int) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, 0
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	return raw, resp.StatusCode
}

func writeJSONReport(path string, result report) error {
	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}

	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create report dir: %w", err)
		}
	}

	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}

func printReport(result report, cfg config) {
	fmt.Printf("mode=%s base_url=%s concurrency=%d\n", cfg.mode, cfg.baseURL, cfg.concurrency)
	fmt.Printf("scenarios: total=%d success=%d failed=%d error_rate=%.4f rps=%.1f\n",
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate, result.RPS)
	fmt.Printf("scenario latency ms: p50=%.1f p95=%.1f p99=%.1f max=%.1f\n",
		result.ScenarioLatencyMs.P50, result.ScenarioLatencyMs.P95, result.ScenarioLatencyMs.P99, result.ScenarioLatencyMs.Max)

	names := make([]string, 0, len(result.Endpoints))
	for name := range result.Endpoints {
		if name == "scenario" {
			continue
		}
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		ep := result.Endpoints[name]
		fmt.Printf("%s: calls=%d success=%d failed=%d p95=%.1fms codes=%v\n",
			name, ep.Calls, ep.Success, ep.Failed, ep.LatencyMs.P95, ep.Codes)
	}
}

func buildLatencySummary(values []float64) latencySummary {
	if len(values) == 0 {
		return latencySummary{}
	}

	sorted := make([]float64, len(values))
	copy(sorted, values)
	sort.Float64s(sorted)

	var sum float64
	for _, v := range sorted {
		sum += v
	}

	return latencySummary{
		Min: sorted[0],
		Max: sorted[len(sorted)-1],
		Avg: sum / float64(len(sorted)),
		P50: percentile(sorted, 50),
		P95: percentile(sorted, 95),
		P99: percentile(sorted, 99),
	}
}

func percentile(sorted []float64, p float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	if len(sorted) == 1 {
		return sorted[0]
	}

	rank := (p / 100) * float64(len(sorted)-1)
	lower := int(math.Floor(rank))
	upper := int(math.Ceil(rank))
	if lower == upper {
		return sorted[lower]
	}

	weight := rank - float64(lower)
	return sorted[lower]*(1-weight) + sorted[upper]*weight
}

func ratio(failed, total int64) float64 {
	if total == 0 {
		return 0
	}
	return float64(failed) / float64(total)
}
