package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vladislavdragonenkov/farmops/internal/app"
	"github.com/vladislavdragonenkov/farmops/internal/domain"
	grpcsvc "github.com/vladislavdragonenkov/farmops/internal/service/grpc"
)

type seenCall struct {
	method string
	req    map[string]any
	md     metadata.MD
}

// stubFarm answers calls through answer and keeps every call it saw.
type stubFarm struct {
	mu     sync.Mutex
	seen   []seenCall
	answer func(method string, req map[string]any) (map[string]any, error)
}

func (s *stubFarm) Call(ctx context.Context, method string, req map[string]any, _ ...grpc.CallOption) (*structpb.Struct, error) {
	md, _ := metadata.FromOutgoingContext(ctx)
	s.mu.Lock()
	s.seen = append(s.seen, seenCall{method: method, req: req, md: md})
	s.mu.Unlock()

	data, err := s.answer(method, req)
	if err != nil {
		return nil, err
	}
	return structpb.NewStruct(map[string]any{"data": data})
}

func (s *stubFarm) methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.seen))
	for i, c := range s.seen {
		out[i] = c.method
	}
	return out
}

func happyFarm(method string, req map[string]any) (map[string]any, error) {
	switch method {
	case grpcsvc.MethodRequestFood:
		return map[string]any{"id": "bill-1", "status": "REQUESTED"}, nil
	case grpcsvc.MethodApproveBill, grpcsvc.MethodConfirmBill, grpcsvc.MethodCancelBill:
		return map[string]any{"id": req["bill_id"]}, nil
	}
	return nil, status.Error(codes.Unimplemented, method)
}

func fixedConfig(mode loadMode) config {
	return config{
		mode:        mode,
		total:       1,
		concurrency: 1,
		timeout:     time.Second,
		circleID:    "circle-1",
		itemID:      "FOOD-1",
		quantity:    2,
		workerTag:   "load",
		technician:  "tech-1",
	}
}

func newTestRunner(cfg config) *runner {
	return &runner{cfg: cfg, runID: "run-1", rec: newRecorder()}
}

func TestParseConfig(t *testing.T) {
	cfg, err := parseConfig([]string{
		"-addr=127.0.0.1:50051", "-mode= request ", "-total=12", "-concurrency=3", "-connections=2",
		"-timeout=2s", "-cancel-rate=10", "-circle-id=circle-1", "-item-id=FOOD-1", "-quantity=4",
		"-technician=tech-7", "-output=/tmp/out.json",
	})
	require.NoError(t, err)
	assert.Equal(t, modeRequest, cfg.mode)
	assert.Equal(t, 12, cfg.total)
	assert.Equal(t, 2*time.Second, cfg.timeout)
	assert.Equal(t, "tech-7", cfg.technician)
	assert.Equal(t, "load", cfg.workerTag)
	assert.Equal(t, "12 scenarios", cfg.target())

	cfg, err = parseConfig(nil)
	require.NoError(t, err)
	assert.Equal(t, defaultTotal, cfg.total, "a count run by default")

	cfg, err = parseConfig([]string{"-duration=3s"})
	require.NoError(t, err)
	assert.Zero(t, cfg.total, "a timed run is uncapped unless -total is given")
	assert.Equal(t, "3s", cfg.target())

	cfg, err = parseConfig([]string{"-duration=3s", "-total=9"})
	require.NoError(t, err)
	assert.Equal(t, "3s, at most 9 scenarios", cfg.target())
}

func TestParseConfig_Rejects(t *testing.T) {
	testCases := []struct {
		args    []string
		wantErr string
	}{
		{[]string{"-duration=soon"}, "-duration"},
		{[]string{"-duration=-1s"}, "-duration must not be negative"},
		{[]string{"-total=-1"}, "-total must not be negative"},
		{[]string{"-concurrency=0"}, "-concurrency must be positive"},
		{[]string{"-quantity=0"}, "-quantity must be positive"},
		{[]string{"-cancel-rate=101"}, "-cancel-rate must be within 0..100"},
		{[]string{"-mode=request-approve", "-cancel-rate=5"}, "-cancel-rate needs -mode=request"},
		{[]string{"-technician= "}, "-technician is required"},
		{[]string{"-mode=bulk"}, `unsupported mode "bulk"`},
	}
	for _, tc := range testCases {
		t.Run(tc.wantErr, func(t *testing.T) {
			_, err := parseConfig(tc.args)
			require.ErrorContains(t, err, tc.wantErr)
		})
	}
}

func TestFollowUps(t *testing.T) {
	cfg := fixedConfig(modeRequest)
	assert.Empty(t, cfg.followUps(0))

	cfg.cancelRate = 30
	assert.Equal(t, []string{grpcsvc.MethodCancelBill}, cfg.followUps(129))
	assert.Empty(t, cfg.followUps(130))

	assert.Equal(t, []string{grpcsvc.MethodApproveBill}, fixedConfig(modeRequestApprove).followUps(0))
	assert.Equal(t,
		[]string{grpcsvc.MethodApproveBill, grpcsvc.MethodConfirmBill},
		fixedConfig(modeRequestApproveConfirm).followUps(0))
}

func TestScenario_ActorsAndIdempotencyKeys(t *testing.T) {
	farm := &stubFarm{answer: happyFarm}
	r := newTestRunner(fixedConfig(modeRequestApproveConfirm))

	require.NoError(t, r.scenario(farm, 7))
	require.Equal(t,
		[]string{grpcsvc.MethodRequestFood, grpcsvc.MethodApproveBill, grpcsvc.MethodConfirmBill},
		farm.methods())

	request := farm.seen[0]
	assert.Equal(t, []string{"load-run-1-7"}, request.md.Get(grpcsvc.ActorIDHeader))
	assert.Equal(t, []string{string(domain.ActorRoleWorker)}, request.md.Get(grpcsvc.ActorRoleHeader))
	assert.Equal(t, []string{"lt-requestfood-run-1-7"}, request.md.Get(grpcsvc.IdempotencyKeyHeader))
	assert.Equal(t, "circle-1", request.req["circle_id"])
	assert.Equal(t, []any{map[string]any{"item_id": "FOOD-1", "quantity": 2}}, request.req["items"])

	approve := farm.seen[1]
	assert.Equal(t, []string{"tech-1"}, approve.md.Get(grpcsvc.ActorIDHeader))
	assert.Equal(t, []string{string(domain.ActorRoleTechnical)}, approve.md.Get(grpcsvc.ActorRoleHeader))
	assert.Equal(t, []string{"lt-approvebill-run-1-7"}, approve.md.Get(grpcsvc.IdempotencyKeyHeader))
	assert.Equal(t, "bill-1", approve.req["bill_id"])

	result := r.rec.report(time.Now(), time.Second)
	assert.Equal(t, int64(1), result.Scenarios.Calls)
	for _, name := range []string{"RequestFood", "ApproveBill", "ConfirmBill"} {
		assert.Equal(t, int64(1), result.Methods[name].Calls, name)
	}
}

func TestScenario_CancelledByRequester(t *testing.T) {
	farm := &stubFarm{answer: happyFarm}
	cfg := fixedConfig(modeRequest)
	cfg.cancelRate = 100

	require.NoError(t, newTestRunner(cfg).scenario(farm, 3))
	require.Len(t, farm.seen, 2)
	assert.Equal(t, grpcsvc.MethodCancelBill, farm.seen[1].method)
	assert.Equal(t, []string{"load-run-1-3"}, farm.seen[1].md.Get(grpcsvc.ActorIDHeader))
}

func TestScenario_Failures(t *testing.T) {
	t.Run("request unavailable", func(t *testing.T) {
		farm := &stubFarm{answer: func(string, map[string]any) (map[string]any, error) {
			return nil, status.Error(codes.Unavailable, "down")
		}}
		r := newTestRunner(fixedConfig(modeRequestApprove))

		err := r.scenario(farm, 2)
		require.Equal(t, codes.Unavailable, status.Code(err))

		scenarios := r.rec.report(time.Now(), time.Second).Scenarios
		assert.Equal(t, int64(1), scenarios.Failed)
		assert.Equal(t, map[string]int64{"Unavailable": 1}, scenarios.Codes)
	})

	t.Run("missing bill id", func(t *testing.T) {
		farm := &stubFarm{answer: func(string, map[string]any) (map[string]any, error) {
			return map[string]any{"status": "REQUESTED"}, nil
		}}
		err := newTestRunner(fixedConfig(modeRequest)).scenario(farm, 3)
		require.Equal(t, codes.Internal, status.Code(err))
	})

	t.Run("approve rejected stops the scenario", func(t *testing.T) {
		farm := &stubFarm{answer: func(method string, req map[string]any) (map[string]any, error) {
			if method == grpcsvc.MethodApproveBill {
				return nil, status.Error(codes.FailedPrecondition, "insufficient stock")
			}
			return happyFarm(method, req)
		}}
		r := newTestRunner(fixedConfig(modeRequestApproveConfirm))

		require.Equal(t, codes.FailedPrecondition, status.Code(r.scenario(farm, 4)))
		assert.Equal(t, []string{grpcsvc.MethodRequestFood, grpcsvc.MethodApproveBill}, farm.methods())
		assert.Equal(t, int64(1), r.rec.report(time.Now(), time.Second).Methods["ApproveBill"].Failed)
	})
}

func TestRunner_StopsAtTotalOrDeadline(t *testing.T) {
	cfg := fixedConfig(modeRequest)
	cfg.total, cfg.concurrency = 5, 2
	farms := []caller{&stubFarm{answer: happyFarm}, &stubFarm{answer: happyFarm}}

	result := newTestRunner(cfg).run(context.Background(), farms)
	assert.Equal(t, int64(5), result.Scenarios.Calls)
	assert.Positive(t, result.ScenariosPerSec)
	assert.Len(t, farms[0].(*stubFarm).seen, 3, "scenarios spread over the connections")

	cfg.total, cfg.duration = 0, 30*time.Millisecond
	result = newTestRunner(cfg).run(context.Background(), farms[:1])
	assert.Positive(t, result.Scenarios.Calls)
	assert.Zero(t, result.Scenarios.Failed)
}

func TestSeedFixtures(t *testing.T) {
	t.Run("explicit fixtures are kept", func(t *testing.T) {
		farm := &stubFarm{answer: happyFarm}
		cfg := fixedConfig(modeRequest)

		got, err := seedFixtures(context.Background(), farm, cfg, "run-1")
		require.NoError(t, err)
		assert.Equal(t, cfg, got)
		assert.Empty(t, farm.seen)
	})

	t.Run("creates barn circle and item", func(t *testing.T) {
		farm := &stubFarm{answer: func(method string, req map[string]any) (map[string]any, error) {
			switch method {
			case grpcsvc.MethodCreateBarn:
				return map[string]any{"id": "barn-1"}, nil
			case grpcsvc.MethodCreateCircle:
				if req["barn_id"] != "barn-1" {
					return nil, status.Error(codes.InvalidArgument, "barn_id")
				}
				return map[string]any{"id": "circle-9"}, nil
			case grpcsvc.MethodCreateInventoryItem:
				return map[string]any{"item_id": req["item_id"]}, nil
			}
			return nil, status.Error(codes.Unimplemented, method)
		}}
		cfg := fixedConfig(modeRequest)
		cfg.circleID, cfg.itemID = "", ""

		got, err := seedFixtures(context.Background(), farm, cfg, "run-1")
		require.NoError(t, err)
		assert.Equal(t, "circle-9", got.circleID)
		assert.Equal(t, "load-food-run-1", got.itemID)
		assert.Equal(t,
			[]string{grpcsvc.MethodCreateBarn, grpcsvc.MethodCreateCircle, grpcsvc.MethodCreateInventoryItem},
			farm.methods())
		assert.Equal(t, []string{string(domain.ActorRoleTechnical)}, farm.seen[0].md.Get(grpcsvc.ActorRoleHeader))
	})

	t.Run("barn failure", func(t *testing.T) {
		farm := &stubFarm{answer: func(string, map[string]any) (map[string]any, error) {
			return nil, status.Error(codes.PermissionDenied, "nope")
		}}
		cfg := fixedConfig(modeRequest)
		cfg.circleID = ""

		_, err := seedFixtures(context.Background(), farm, cfg, "run-1")
		require.ErrorContains(t, err, "create barn")
	})
}

func TestRun_AgainstService(t *testing.T) {
	cfg := app.DefaultConfig()
	cfg.GRPCAddr = fmt.Sprintf("127.0.0.1:%d", freePort(t))
	cfg.MetricsAddr = fmt.Sprintf("127.0.0.1:%d", freePort(t))

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- app.Run(ctx, cfg) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
			t.Errorf("service stopped with error: %v", err)
		}
	})

	require.Eventually(t, func() bool {
		conn, err := net.DialTimeout("tcp", cfg.GRPCAddr, 100*time.Millisecond)
		if err != nil {
			return false
		}
		_ = conn.Close()
		return true
	}, 3*time.Second, 20*time.Millisecond)

	reportPath := filepath.Join(t.TempDir(), "report.json")
	var out bytes.Buffer
	err := run(context.Background(), []string{
		"-addr=" + cfg.GRPCAddr,
		"-mode=request-approve-confirm",
		"-total=5",
		"-concurrency=2",
		"-connections=1",
		"-timeout=2s",
		"-output=" + reportPath,
	}, &out)
	require.NoError(t, err)
	assert.Contains(t, out.String(), "5 scenarios, 0 failed")
	assert.Contains(t, out.String(), "ConfirmBill")

	data, err := os.ReadFile(reportPath)
	require.NoError(t, err)
	var decoded report
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, int64(5), decoded.Scenarios.Calls)
	assert.Zero(t, decoded.Scenarios.Failed)
	assert.Contains(t, decoded.Methods, "ApproveBill")
}

func TestRun_InvalidFlags(t *testing.T) {
	err := run(context.Background(), []string{"-connections=0"}, &bytes.Buffer{})
	require.ErrorContains(t, err, "invalid flags")
}

func freePort(t *testing.T) int {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer lis.Close()
	return lis.Addr().(*net.TCPAddr).Port
}
