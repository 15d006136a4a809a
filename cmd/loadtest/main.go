// Command loadtest нагружает workflow счетов через gRPC и выводит перцентили
// задержек и долю ошибок по каждому методу.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/farmops/internal/service/grpc"
)

const (
	defaultTotal     = 400
	seedStock        = 1_000_000
	seedDeliveryDays = 3
)

var errScenariosFailed = errors.New("scenarios failed")

type loadMode string

const (
	modeRequest               loadMode = "request"
	modeRequestApprove        loadMode = "request-approve"
	modeRequestApproveConfirm loadMode = "request-approve-confirm"
)

func parseMode(value string) (loadMode, error) {
	mode := loadMode(strings.TrimSpace(value))
	switch mode {
	case modeRequest, modeRequestApprove, modeRequestApproveConfirm:
		return mode, nil
	}
	return "", fmt.Errorf("unsupported mode %q", value)
}

type config struct {
	addr        string
	mode        loadMode
	total       int // with -duration, 0 means no cap
	duration    time.Duration
	concurrency int
	connections int
	timeout     time.Duration
	cancelRate  int
	circleID    string
	itemID      string
	quantity    int
	workerTag   string
	technician  string
	output      string
}

func parseConfig(args []string) (config, error) {
	var cfg config
	fs := flag.NewFlagSet("loadtest", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	mode := fs.String("mode", string(modeRequest), "request, request-approve or request-approve-confirm")
	fs.StringVar(&cfg.addr, "addr", "localhost:50051", "farm-service gRPC address")
	fs.IntVar(&cfg.total, "total", 0, "scenarios to run (400 when -duration is not set)")
	fs.DurationVar(&cfg.duration, "duration", 0, "keep starting scenarios for this long")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "scenarios in flight")
	fs.IntVar(&cfg.connections, "connections", 20, "gRPC connections shared by the scenarios")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-call timeout")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "percent of requested bills cancelled by their requester (request mode)")
	fs.StringVar(&cfg.circleID, "circle-id", "", "circle to request for; seeded when empty")
	fs.StringVar(&cfg.itemID, "item-id", "", "food item to request; seeded when empty")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity of the single bill line")
	fs.StringVar(&cfg.workerTag, "worker-tag", "load", "prefix of the requesting worker ids")
	fs.StringVar(&cfg.technician, "technician", "load-tech", "technical actor that approves and confirms")
	fs.StringVar(&cfg.output, "output", "", "write the JSON report to this file")
	if err := fs.Parse(args); err != nil {
		return config{}, err
	}

	var err error
	if cfg.mode, err = parseMode(*mode); err != nil {
		return config{}, err
	}
	if cfg.duration == 0 && cfg.total == 0 {
		cfg.total = defaultTotal
	}
	return cfg, cfg.validate()
}

func (c config) validate() error {
	rules := []struct {
		broken bool
		msg    string
	}{
		{c.duration < 0, "-duration must not be negative"},
		{c.total < 0, "-total must not be negative"},
		{c.concurrency <= 0, "-concurrency must be positive"},
		{c.connections <= 0, "-connections must be positive"},
		{c.timeout <= 0, "-timeout must be positive"},
		{c.quantity <= 0, "-quantity must be positive"},
		{c.cancelRate < 0 || c.cancelRate > 100, "-cancel-rate must be within 0..100"},
		{c.cancelRate > 0 && c.mode != modeRequest, "-cancel-rate needs -mode=request"},
		{strings.TrimSpace(c.workerTag) == "", "-worker-tag is required"},
		{strings.TrimSpace(c.technician) == "", "-technician is required"},
	}
	for _, rule := range rules {
		if rule.broken {
			return errors.New(rule.msg)
		}
	}
	return nil
}

// target описывает, когда прогон останавливается.
func (c config) target() string {
	switch {
	case c.duration <= 0:
		return fmt.Sprintf("%d scenarios", c.total)
	case c.total > 0:
		return fmt.Sprintf("%s, at most %d scenarios", c.duration, c.total)
	}
	return c.duration.String()
}

// followUps перечисляет вызовы, которые делаются над счётом сценария index
// после его создания.
func (c config) followUps(index int) []string {
	switch c.mode {
	case modeRequestApprove:
		return []string{grpcsvc.MethodApproveBill}
	case modeRequestApproveConfirm:
		return []string{grpcsvc.MethodApproveBill, grpcsvc.MethodConfirmBill}
	}
	if index%100 < c.cancelRate {
		return []string{grpcsvc.MethodCancelBill}
	}
	return nil
}

func (c config) technicalActor() domain.Actor {
	return domain.Actor{ID: c.technician, Role: domain.ActorRoleTechnical}
}

// caller реализуется *grpcsvc.Client.
type caller interface {
	Call(ctx context.Context, fullMethod string, req map[string]any, opts ...grpc.CallOption) (*structpb.Struct, error)
}

func main() {
	if err := run(context.Background(), os.Args[1:], os.Stdout); err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "loadtest: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cfg, err := parseConfig(args)
	if err != nil {
		return fmt.Errorf("invalid flags: %w", err)
	}

	clients, closeAll, err := dial(cfg)
	if err != nil {
		return err
	}
	defer closeAll()

	runID := fmt.Sprintf("%d-%d", time.Now().UnixNano(), os.Getpid())
	if cfg, err = seedFixtures(ctx, clients[0], cfg, runID); err != nil {
		return fmt.Errorf("seed fixtures: %w", err)
	}

	logger := log.WithFields(log.Fields{"run_id": runID, "mode": cfg.mode, "circle_id": cfg.circleID, "item_id": cfg.itemID})
	logger.WithField("target", cfg.target()).Info("load test started")
	result := (&runner{cfg: cfg, runID: runID, rec: newRecorder()}).run(ctx, clients)
	logger.WithField("scenarios", result.Scenarios.Calls).Info("load test finished")

	printReport(out, cfg, result)
	if cfg.output != "" {
		if err := writeReport(cfg.output, result); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
	}
	if result.Scenarios.Failed > 0 {
		return fmt.Errorf("%w: %d of %d", errScenariosFailed, result.Scenarios.Failed, result.Scenarios.Calls)
	}
	return nil
}

func dial(cfg config) ([]caller, func(), error) {
	conns := make([]*grpc.ClientConn, 0, cfg.connections)
	closeAll := func() {
		for _, conn := range conns {
			_ = conn.Close()
		}
	}

	clients := make([]caller, 0, cfg.connections)
	for range cfg.connections {
		conn, err := grpc.NewClient(cfg.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("dial %s: %w", cfg.addr, err)
		}
		conns = append(conns, conn)
		clients = append(clients, grpcsvc.NewClient(conn))
	}
	return clients, closeAll, nil
}

// seedFixtures создаёт хлев, растущий цикл и хорошо пополненный корм,
// если -circle-id и -item-id не указывают на существующие.
func seedFixtures(ctx context.Context, client caller, cfg config, runID string) (config, error) {
	if cfg.circleID != "" && cfg.itemID != "" {
		return cfg, nil
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	ctx = grpcsvc.WithActor(ctx, cfg.technicalActor())

	if cfg.circleID == "" {
		barn, err := client.Call(ctx, grpcsvc.MethodCreateBarn, map[string]any{"name": "load-barn-" + runID})
		if err != nil {
			return cfg, fmt.Errorf("create barn: %w", err)
		}
		circle, err := client.Call(ctx, grpcsvc.MethodCreateCircle, map[string]any{
			"barn_id":    grpcsvc.Data(barn)["id"],
			"name":       "load-circle-" + runID,
			"status":     string(domain.CircleStatusGrowing),
			"total_unit": 1000,
		})
		if err != nil {
			return cfg, fmt.Errorf("create circle: %w", err)
		}
		if cfg.circleID, _ = grpcsvc.Data(circle)["id"].(string); cfg.circleID == "" {
			return cfg, errors.New("created circle has no id")
		}
	}

	if cfg.itemID == "" {
		itemID := "load-food-" + runID
		_, err := client.Call(ctx, grpcsvc.MethodCreateInventoryItem, map[string]any{
			"type":        string(domain.ItemKindFood),
			"item_id":     itemID,
			"name":        "load food",
			"unit":        "kg",
			"stock":       seedStock,
			"unit_price":  "1",
			"unit_weight": "1",
		})
		if err != nil {
			return cfg, fmt.Errorf("create food item: %w", err)
		}
		cfg.itemID = itemID
	}
	return cfg, nil
}

type runner struct {
	cfg   config
	runID string
	rec   *recorder
}

// run запускает сценарии, пока не набран total или не истекла duration,
// затем дожидается выполняющихся.
func (r *runner) run(ctx context.Context, clients []caller) report {
	if r.cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.duration)
		defer cancel()
	}

	var g errgroup.Group
	g.SetLimit(r.cfg.concurrency)
	started := time.Now()
	for index := 0; r.cfg.total <= 0 || index < r.cfg.total; index++ {
		if ctx.Err() != nil {
			break
		}
		client := clients[index%len(clients)]
		g.Go(func() error {
			_ = r.scenario(client, index)
			return nil
		})
	}
	_ = g.Wait()
	return r.rec.report(started, time.Since(started))
}

// scenario запрашивает один счёт на корм от нового работника и проводит его
// через follow-up вызовы режима.
func (r *runner) scenario(client caller, index int) (err error) {
	start := time.Now()
	defer func() { r.rec.observe(scenarioSeries, time.Since(start), err) }()

	requester := domain.Actor{
		ID:   fmt.Sprintf("%s-%s-%d", r.cfg.workerTag, r.runID, index),
		Role: domain.ActorRoleWorker,
	}
	resp, err := r.call(client, grpcsvc.MethodRequestFood, requester, index, map[string]any{
		"circle_id":     r.cfg.circleID,
		"delivery_date": time.Now().UTC().AddDate(0, 0, seedDeliveryDays).Format(time.DateOnly),
		"note":          "load " + r.runID,
		"items":         []any{map[string]any{"item_id": r.cfg.itemID, "quantity": r.cfg.quantity}},
	})
	if err != nil {
		return err
	}
	billID, _ := grpcsvc.Data(resp)["id"].(string)
	if billID == "" {
		return status.Error(codes.Internal, "request returned an empty bill id")
	}

	for _, method := range r.cfg.followUps(index) {
		actor := r.cfg.technicalActor()
		if method == grpcsvc.MethodCancelBill {
			actor = requester
		}
		if _, err := r.call(client, method, actor, index, map[string]any{"bill_id": billID}); err != nil {
			return err
		}
	}
	return nil
}

// call делает один идемпотентный RPC от имени actor и записывает его под именем метода.
func (r *runner) call(client caller, method string, actor domain.Actor, index int, req map[string]any) (*structpb.Struct, error) {
	name := path.Base(method)
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.timeout)
	defer cancel()
	ctx = grpcsvc.WithActor(ctx, actor)
	ctx = grpcsvc.WithIdempotencyKey(ctx, fmt.Sprintf("lt-%s-%s-%d", strings.ToLower(name), r.runID, index))

	start := time.Now()
	resp, err := client.Call(ctx, method, req)
	r.rec.observe(name, time.Since(start), err)
	return resp, err
}
