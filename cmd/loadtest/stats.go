package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"text/tabwriter"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// scenarioSeries хранит серию целых сценариев, хранится отдельно от
// серий по методам.
const scenarioSeries = "scenario"

type series struct {
	latencies []time.Duration
	failed    int64
	codes     map[codes.Code]int64
}

// recorder собирает результаты вызовов от конкурентных воркеров.
type recorder struct {
	mu     sync.Mutex
	series map[string]*series
}

func newRecorder() *recorder {
	return &recorder{series: make(map[string]*series)}
}

func (r *recorder) observe(name string, took time.Duration, err error) {
	code := status.Code(err)

	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.series[name]
	if !ok {
		s = &series{codes: make(map[codes.Code]int64)}
		r.series[name] = s
	}
	s.latencies = append(s.latencies, took)
	s.codes[code]++
	if code != codes.OK {
		s.failed++
	}
}

type latencyMs struct {
	Min float64 `json:"min"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
	Max float64 `json:"max"`
}

type seriesReport struct {
	Calls     int64            `json:"calls"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Codes     map[string]int64 `json:"codes"`
	LatencyMs latencyMs        `json:"latency_ms"`
}

type report struct {
	StartedAt       time.Time               `json:"started_at"`
	DurationSeconds float64                 `json:"duration_seconds"`
	ScenariosPerSec float64                 `json:"scenarios_per_second"`
	Scenarios       seriesReport            `json:"scenarios"`
	Methods         map[string]seriesReport `json:"methods"`
}

func (r *recorder) report(started time.Time, elapsed time.Duration) report {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := report{
		StartedAt:       started.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Methods:         make(map[string]seriesReport, len(r.series)),
	}
	for name, s := range r.series {
		summary := s.summarize()
		if name == scenarioSeries {
			out.Scenarios = summary
			continue
		}
		out.Methods[name] = summary
	}
	if elapsed > 0 {
		out.ScenariosPerSec = float64(out.Scenarios.Calls) / elapsed.Seconds()
	}
	return out
}

func (s *series) summarize() seriesReport {
	calls := int64(len(s.latencies))
	byCode := make(map[string]int64, len(s.codes))
	for code, n := range s.codes {
		byCode[code.String()] = n
	}
	out := seriesReport{Calls: calls, Failed: s.failed, Codes: byCode}
	if calls == 0 {
		return out
	}
	out.ErrorRate = float64(s.failed) / float64(calls)

	sorted := slices.Clone(s.latencies)
	slices.Sort(sorted)
	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	out.LatencyMs = latencyMs{
		Min: millis(sorted[0]),
		Avg: millis(sum / time.Duration(len(sorted))),
		P50: millis(nearestRank(sorted, 50)),
		P95: millis(nearestRank(sorted, 95)),
		P99: millis(nearestRank(sorted, 99)),
		Max: millis(sorted[len(sorted)-1]),
	}
	return out
}

// nearestRank возвращает p-й перцентиль отсортированного непустого среза.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func millis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}

func printReport(w io.Writer, cfg config, r report) {
	_, _ = fmt.Fprintf(w, "load test %s (%s): %d scenarios, %d failed, error rate %.4f\n",
		cfg.mode, cfg.target(), r.Scenarios.Calls, r.Scenarios.Failed, r.Scenarios.ErrorRate)
	_, _ = fmt.Fprintf(w, "took %.2fs, %.2f scenarios/s\n\n", r.DurationSeconds, r.ScenariosPerSec)

	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "SERIES\tCALLS\tFAILED\tP50 MS\tP95 MS\tP99 MS\tMAX MS")
	row := func(name string, s seriesReport) {
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%.2f\t%.2f\t%.2f\t%.2f\n",
			name, s.Calls, s.Failed, s.LatencyMs.P50, s.LatencyMs.P95, s.LatencyMs.P99, s.LatencyMs.Max)
	}
	row(scenarioSeries, r.Scenarios)
	names := make([]string, 0, len(r.Methods))
	for name := range r.Methods {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		row(name, r.Methods[name])
	}
	_ = tw.Flush()
}

func writeReport(path string, r report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("-output must name a file")
	}
	data, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}
