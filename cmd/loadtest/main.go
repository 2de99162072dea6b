// Команда loadtest гоняет сценарии заказов через gRPC API сервиса и печатает сводку задержек.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/vladislavdragonenkov/orders/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/orders/internal/service/grpc"
)

const (
	idempotencyHeader = "idempotency-key"
	scenarioOp        = "scenario"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateGet    loadMode = "create-get"
	modeCreateCancel loadMode = "create-cancel"
)

// orderClient — вызовы OrderService, которые использует нагрузочный сценарий.
type orderClient interface {
	CreateOrder(ctx context.Context, in *grpcsvc.CreateOrderRequest, opts ...grpc.CallOption) (*grpcsvc.CreateOrderResponse, error)
	GetOrder(ctx context.Context, in *grpcsvc.GetOrderRequest, opts ...grpc.CallOption) (*grpcsvc.GetOrderResponse, error)
	ChangeStatus(ctx context.Context, in *grpcsvc.ChangeStatusRequest, opts ...grpc.CallOption) (*grpcsvc.ChangeStatusResponse, error)
}

var _ orderClient = (*grpcsvc.OrderServiceClient)(nil)

type config struct {
	addr        string
	total       int
	duration    time.Duration
	workers     int
	conns       int
	callTimeout time.Duration
	mode        loadMode
	cancelRate  int
	products    []string
	quantity    int
	output      string
}

func parseConfig(args []string) (config, error) {
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	var (
		cfg      config
		mode     string
		products string
	)
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "gRPC address of the orders service")
	fs.IntVar(&cfg.total, "total", 0, "number of scenarios; 0 means unlimited within -duration")
	fs.DurationVar(&cfg.duration, "duration", 0, "run duration; 0 means run until -total scenarios complete")
	fs.IntVar(&cfg.workers, "workers", 20, "concurrent workers")
	fs.IntVar(&cfg.conns, "conns", 4, "gRPC connections shared by workers")
	fs.DurationVar(&cfg.callTimeout, "call-timeout", 5*time.Second, "per-call timeout")
	fs.StringVar(&mode, "mode", string(modeCreate), "scenario: create | create-get | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of create-get scenarios that also cancel the order")
	fs.StringVar(&products, "products", "1", "comma-separated catalog product ids")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity of every item")
	fs.StringVar(&cfg.output, "output", "", "write JSON report to this file")

	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	cfg.mode = loadMode(strings.TrimSpace(mode))
	cfg.products = parseProducts(products)

	switch {
	case cfg.mode != modeCreate && cfg.mode != modeCreateGet && cfg.mode != modeCreateCancel:
		return config{}, fmt.Errorf("unsupported mode %q", mode)
	case cfg.total <= 0 && cfg.duration <= 0:
		return config{}, errors.New("either -total or -duration must be positive")
	case cfg.total < 0 || cfg.duration < 0:
		return config{}, errors.New("-total and -duration must not be negative")
	case cfg.workers <= 0 || cfg.conns <= 0:
		return config{}, errors.New("-workers and -conns must be positive")
	case cfg.callTimeout <= 0:
		return config{}, errors.New("-call-timeout must be positive")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return config{}, errors.New("-cancel-rate must be within 0..100")
	case len(cfg.products) == 0:
		return config{}, errors.New("-products must list at least one id")
	case cfg.quantity <= 0:
		return config{}, errors.New("-quantity must be positive")
	}
	return cfg, nil
}

func parseProducts(raw string) []string {
	var ids []string
	for _, chunk := range strings.Split(raw, ",") {
		if id := strings.TrimSpace(chunk); id != "" {
			ids = append(ids, id)
		}
	}
	return domain.UniqueProductIDs(ids)
}

// recorder собирает задержки и коды ответов по операциям.
type recorder struct {
	mu  sync.Mutex
	ops map[string]*opStats
}

type opStats struct {
	codes     map[codes.Code]int
	latencies []time.Duration
}

func newRecorder() *recorder {
	return &recorder{ops: make(map[string]*opStats)}
}

func (r *recorder) observe(op string, took time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	stats, ok := r.ops[op]
	if !ok {
		stats = &opStats{codes: make(map[codes.Code]int)}
		r.ops[op] = stats
	}
	stats.codes[status.Code(err)]++
	stats.latencies = append(stats.latencies, took)
}

// OpReport — сводка по одной операции.
type OpReport struct {
	Calls  int            `json:"calls"`
	Failed int            `json:"failed"`
	Codes  map[string]int `json:"codes"`
	P50Ms  float64        `json:"p50_ms"`
	P95Ms  float64        `json:"p95_ms"`
	P99Ms  float64        `json:"p99_ms"`
	MaxMs  float64        `json:"max_ms"`
}

// Report — итог прогона.
type Report struct {
	Mode       string              `json:"mode"`
	StartedAt  time.Time           `json:"started_at"`
	ElapsedSec float64             `json:"elapsed_sec"`
	Throughput float64             `json:"scenarios_per_sec"`
	Operations map[string]OpReport `json:"operations"`
}

func (r *recorder) report(mode loadMode, started time.Time, elapsed time.Duration) Report {
	r.mu.Lock()
	defer r.mu.Unlock()

	rep := Report{
		Mode:       string(mode),
		StartedAt:  started.UTC(),
		ElapsedSec: elapsed.Seconds(),
		Operations: make(map[string]OpReport, len(r.ops)),
	}
	for op, stats := range r.ops {
		sorted := append([]time.Duration(nil), stats.latencies...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

		opRep := OpReport{
			Calls: len(sorted),
			Codes: make(map[string]int, len(stats.codes)),
			P50Ms: quantileMs(sorted, 0.50),
			P95Ms: quantileMs(sorted, 0.95),
			P99Ms: quantileMs(sorted, 0.99),
			MaxMs: quantileMs(sorted, 1),
		}
		for code, n := range stats.codes {
			opRep.Codes[code.String()] = n
			if code != codes.OK {
				opRep.Failed += n
			}
		}
		rep.Operations[op] = opRep
	}
	if elapsed > 0 {
		rep.Throughput = float64(rep.Operations[scenarioOp].Calls) / elapsed.Seconds()
	}
	return rep
}

// quantileMs берёт значение по рангу ceil(q*n) из отсортированной выборки.
func quantileMs(sorted []time.Duration, q float64) float64 {
	if len(sorted) == 0 {
		return 0
	}
	idx := int(math.Ceil(q*float64(len(sorted)))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return float64(sorted[idx].Microseconds()) / 1000
}

// runner выполняет сценарии одного прогона.
type runner struct {
	cfg   config
	runID string
	rec   *recorder
}

func (r *runner) call(op string, fn func(ctx context.Context) error) error {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.callTimeout)
	defer cancel()

	start := time.Now()
	err := fn(ctx)
	r.rec.observe(op, time.Since(start), err)
	return err
}

func (r *runner) scenario(client orderClient, n int) (err error) {
	start := time.Now()
	defer func() { r.rec.observe(scenarioOp, time.Since(start), err) }()

	items := make([]grpcsvc.OrderItemInput, 0, len(r.cfg.products))
	for _, id := range r.cfg.products {
		items = append(items, grpcsvc.OrderItemInput{ProductID: id, Quantity: r.cfg.quantity})
	}

	var orderID string
	err = r.call("CreateOrder", func(ctx context.Context) error {
		ctx = metadata.AppendToOutgoingContext(ctx, idempotencyHeader, fmt.Sprintf("lt-%s-%d", r.runID, n))
		resp, err := client.CreateOrder(ctx, &grpcsvc.CreateOrderRequest{Items: items})
		if err != nil {
			return err
		}
		if resp.Order == nil || resp.Order.ID == "" {
			return status.Error(codes.Internal, "create response without order id")
		}
		orderID = resp.Order.ID
		return nil
	})
	if err != nil {
		return err
	}

	cancelOrder := r.cfg.mode == modeCreateCancel
	if r.cfg.mode == modeCreateGet {
		err = r.call("GetOrder", func(ctx context.Context) error {
			_, err := client.GetOrder(ctx, &grpcsvc.GetOrderRequest{ID: orderID})
			return err
		})
		if err != nil {
			return err
		}
		cancelOrder = n%100 < r.cfg.cancelRate
	}
	if !cancelOrder {
		return nil
	}

	return r.call("ChangeStatus", func(ctx context.Context) error {
		_, err := client.ChangeStatus(ctx, &grpcsvc.ChangeStatusRequest{
			ID:     orderID,
			Status: string(domain.OrderStatusCancelled),
		})
		return err
	})
}

// run раздаёт номера сценариев воркерам, пока не исчерпан total или не истёк duration.
func (r *runner) run(ctx context.Context, clients []orderClient) {
	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	jobs := make(chan int)
	var wg sync.WaitGroup
	for w := 0; w < r.cfg.workers; w++ {
		wg.Add(1)
		go func(client orderClient) {
			defer wg.Done()
			for n := range jobs {
				_ = r.scenario(client, n)
			}
		}(clients[w%len(clients)])
	}

dispatch:
	for n := 0; r.cfg.total == 0 || n < r.cfg.total; n++ {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- n:
		}
	}
	close(jobs)
	wg.Wait()
}

func writeReport(w io.Writer, rep Report) {
	ops := make([]string, 0, len(rep.Operations))
	for op := range rep.Operations {
		ops = append(ops, op)
	}
	sort.Strings(ops)

	_, _ = fmt.Fprintf(w, "mode=%s elapsed=%.2fs throughput=%.2f/s\n", rep.Mode, rep.ElapsedSec, rep.Throughput)
	for _, op := range ops {
		o := rep.Operations[op]
		_, _ = fmt.Fprintf(w, "%-14s calls=%d failed=%d p50=%.2fms p95=%.2fms p99=%.2fms max=%.2fms\n",
			op, o.Calls, o.Failed, o.P50Ms, o.P95Ms, o.P99Ms, o.MaxMs)
	}
}

func saveReport(path string, rep Report) error {
	clean := filepath.Clean(path)
	if clean == "." || strings.HasSuffix(path, string(filepath.Separator)) {
		return fmt.Errorf("output must be a file path: %q", path)
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, data, 0o600)
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	clients := make([]orderClient, 0, cfg.conns)
	for i := 0; i < cfg.conns; i++ {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("dial %s: %w", cfg.addr, err)
		}
		defer conn.Close()
		clients = append(clients, grpcsvc.NewOrderServiceClient(conn))
	}

	started := time.Now()
	r := &runner{cfg: cfg, runID: fmt.Sprintf("%d", started.UnixNano()), rec: newRecorder()}
	r.run(ctx, clients)

	rep := r.rec.report(cfg.mode, started, time.Since(started))
	writeReport(stdout, rep)
	if cfg.output != "" {
		if err := saveReport(cfg.output, rep); err != nil {
			return fmt.Errorf("save report: %w", err)
		}
	}
	if failed := rep.Operations[scenarioOp].Failed; failed > 0 {
		return fmt.Errorf("%d scenarios failed", failed)
	}
	return nil
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintln(os.Stderr, "loadtest:", err)
		os.Exit(1)
	}
}
