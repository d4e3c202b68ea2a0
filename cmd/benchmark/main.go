package main

import (
	"bytes"
	"encoding/json"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/punchamoorthee/tipledger/internal/domain"
	"github.com/punchamoorthee/tipledger/internal/logger"
)

var (
	targetURL   string
	concurrency int
	duration    time.Duration
	workload    string
	accounts    int
	adapter     string
	replayRate  float64
)

var (
	totalRequests  uint64
	created201     uint64
	replayed200    uint64
	rejected422    uint64
	failOther      uint64
	transportError uint64
)

func init() {
	flag.StringVar(&targetURL, "url", "http://localhost:8080", "API Base URL")
	flag.IntVar(&concurrency, "workers", 10, "Number of concurrent workers")
	flag.DurationVar(&duration, "duration", 30*time.Second, "Test duration")
	flag.StringVar(&workload, "workload", "uniform", "Workload type: uniform | hotspot")
	flag.IntVar(&accounts, "accounts", 1000, "Number of seeded accounts")
	flag.StringVar(&adapter, "adapter", "bench", "Adapter of the seeded accounts")
	flag.Float64Var(&replayRate, "replay", 0.05, "Fraction of requests that resend an earlier idempotency key")
}

func main() {
	flag.Parse()

	log, err := logger.New("production", "info")
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting benchmark",
		zap.String("workload", workload),
		zap.Int("workers", concurrency),
		zap.Duration("duration", duration))

	start := time.Now()
	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go worker(&wg, i, start, log)
	}
	wg.Wait()

	if err := printResults(time.Since(start)); err != nil {
		log.Error("write results", zap.Error(err))
	}
}

type sentTip struct {
	key  string
	body []byte
}

func worker(wg *sync.WaitGroup, id int, start time.Time, log *zap.Logger) {
	defer wg.Done()
	client := &http.Client{Timeout: 5 * time.Second}
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(id)))
	var sent []sentTip

	for n := 0; time.Since(start) < duration; n++ {
		var tip sentTip
		if len(sent) > 0 && rng.Float64() < replayRate {
			tip = sent[rng.Intn(len(sent))]
		} else {
			from, to := pickAccounts(rng)
			body, _ := json.Marshal(domain.TipRequest{
				Adapter:  adapter,
				SourceID: fmt.Sprintf("user-%d", from),
				TargetID: fmt.Sprintf("user-%d", to),
				Amount:   "0.01",
			})
			tip = sentTip{key: fmt.Sprintf("bench-%d-%d-%d", id, n, start.UnixNano()), body: body}
			sent = append(sent, tip)
		}

		req, _ := http.NewRequest(http.MethodPost, targetURL+"/api/v1/tips", bytes.NewReader(tip.body))
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Idempotency-Key", tip.key)

		resp, err := client.Do(req)
		if err != nil {
			atomic.AddUint64(&transportError, 1)
			log.Debug("request failed", zap.Error(err))
			continue
		}

		atomic.AddUint64(&totalRequests, 1)
		switch resp.StatusCode {
		case http.StatusCreated:
			atomic.AddUint64(&created201, 1)
		case http.StatusOK:
			atomic.AddUint64(&replayed200, 1)
		case http.StatusUnprocessableEntity:
			atomic.AddUint64(&rejected422, 1)
		default:
			atomic.AddUint64(&failOther, 1)
		}
		resp.Body.Close()
	}
}

func pickAccounts(rng *rand.Rand) (int, int) {
	if workload == "hotspot" {
		// 90% of traffic between accounts 1 and 2
		if rng.Float32() < 0.90 {
			if rng.Float32() < 0.5 {
				return 1, 2
			}
			return 2, 1
		}
	}

	a := rng.Intn(accounts) + 1
	b := rng.Intn(accounts) + 1
	for a == b {
		b = rng.Intn(accounts) + 1
	}
	return a, b
}

func printResults(d time.Duration) error {
	total := atomic.LoadUint64(&totalRequests)
	results := map[string]interface{}{
		"workload":         workload,
		"duration_sec":     d.Seconds(),
		"total_requests":   total,
		"throughput_tps":   float64(total) / d.Seconds(),
		"success_created":  atomic.LoadUint64(&created201),
		"success_replay":   atomic.LoadUint64(&replayed200),
		"rejected":         atomic.LoadUint64(&rejected422),
		"errors":           atomic.LoadUint64(&failOther),
		"transport_errors": atomic.LoadUint64(&transportError),
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(results); err != nil {
		return err
	}

	file, err := os.Create(fmt.Sprintf("results_%s.json", workload))
	if err != nil {
		return err
	}
	defer file.Close()
	return json.NewEncoder(file).Encode(results)
}
