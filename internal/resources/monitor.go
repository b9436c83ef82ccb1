package resources

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
	"github.com/shirou/gopsutil/v4/process"

	"meeting-summarizer/internal/domain"
)

const (
	cpuSampleInterval = 100 * time.Millisecond
	gpuQueryTimeout   = 3 * time.Second
)

// commandResult is an internal process execution response.
type commandResult struct {
	Stdout   string
	Stderr   string
	ExitCode int
}

// commandRunner abstracts process execution for testability.
type commandRunner interface {
	Run(ctx context.Context, name string, args ...string) (commandResult, error)
}

// execRunner executes commands via os/exec.
type execRunner struct{}

// Run executes one command and captures stdout/stderr and exit code.
func (r *execRunner) Run(ctx context.Context, name string, args ...string) (commandResult, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout bytes.Buffer
	var stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := commandResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		ExitCode: 0,
	}
	if err != nil {
		result.ExitCode = -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
		}
		return result, err
	}

	return result, nil
}

// Monitor samples host and GPU utilization on demand. Every call produces a
// fresh reading; nothing is cached between calls. A GPU query failure
// degrades only the GPU fields, while a host metric failure fails the whole
// sample.
type Monitor struct {
	deviceIndex int
	logger      *slog.Logger

	runner        commandRunner
	cpuPercent    func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	processRSS    func(ctx context.Context, pid int32) (uint64, error)
}

// NewMonitor builds a monitor using real OS dependencies.
func NewMonitor(deviceIndex int, logger *slog.Logger) *Monitor {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Monitor{
		deviceIndex:   deviceIndex,
		logger:        logger,
		runner:        &execRunner{},
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		processRSS:    currentProcessRSS,
	}
}

// NewMonitorForTests builds a monitor with injectable dependencies.
func NewMonitorForTests(
	deviceIndex int,
	runner commandRunner,
	cpuPercent func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error),
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error),
	processRSS func(ctx context.Context, pid int32) (uint64, error),
) *Monitor {
	return &Monitor{
		deviceIndex:   deviceIndex,
		logger:        slog.New(slog.NewTextHandler(io.Discard, nil)),
		runner:        runner,
		cpuPercent:    cpuPercent,
		virtualMemory: virtualMemory,
		processRSS:    processRSS,
	}
}

// currentProcessRSS reads the resident set size of this process.
func currentProcessRSS(ctx context.Context, pid int32) (uint64, error) {
	proc, err := process.NewProcessWithContext(ctx, pid)
	if err != nil {
		return 0, err
	}
	info, err := proc.MemoryInfoWithContext(ctx)
	if err != nil {
		return 0, err
	}
	return info.RSS, nil
}

// Sample produces one fresh telemetry reading.
func (m *Monitor) Sample(ctx context.Context) (domain.ResourceSample, error) {
	cpuValues, err := m.cpuPercent(ctx, cpuSampleInterval, false)
	if err != nil {
		return domain.ResourceSample{}, fmt.Errorf("sample cpu: %w", err)
	}
	if len(cpuValues) == 0 {
		return domain.ResourceSample{}, fmt.Errorf("sample cpu: no readings")
	}

	vm, err := m.virtualMemory(ctx)
	if err != nil {
		return domain.ResourceSample{}, fmt.Errorf("sample memory: %w", err)
	}

	rss, err := m.processRSS(ctx, int32(os.Getpid()))
	if err != nil {
		return domain.ResourceSample{}, fmt.Errorf("sample process memory: %w", err)
	}

	sample := domain.ResourceSample{
		CPUPercent:   round2(cpuValues[0]),
		MemPercent:   round2(vm.UsedPercent),
		ProcessMemMB: round2(float64(rss) / (1024 * 1024)),
	}

	m.sampleGPU(ctx, &sample)
	return sample, nil
}

// sampleGPU queries nvidia-smi for the configured device and fills the GPU
// fields, recording a structured error instead of failing the sample.
func (m *Monitor) sampleGPU(ctx context.Context, sample *domain.ResourceSample) {
	ctx, cancel := context.WithTimeout(ctx, gpuQueryTimeout)
	defer cancel()

	result, err := m.runner.Run(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,memory.total",
		"--format=csv,noheader,nounits",
		"-i", strconv.Itoa(m.deviceIndex))
	if err != nil {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = err.Error()
		}
		sample.GPUError = fmt.Sprintf("GPU query failed: %s. GPU info not available.", detail)
		m.logger.Debug("gpu telemetry unavailable", slog.String("error", detail))
		return
	}

	util, usedMB, totalMB, err := parseGPUQuery(result.Stdout)
	if err != nil {
		sample.GPUError = fmt.Sprintf("GPU query returned unexpected output: %v", err)
		return
	}

	memPercent := 0.0
	if totalMB > 0 {
		memPercent = round2(usedMB / totalMB * 100)
	}

	sample.GPUUtilizationPercent = &util
	sample.GPUMemUsedMB = &usedMB
	sample.GPUMemTotalMB = &totalMB
	sample.GPUMemPercent = &memPercent
}

// parseGPUQuery parses one CSV line of "util, used, total" values.
func parseGPUQuery(out string) (util, usedMB, totalMB float64, err error) {
	line := strings.TrimSpace(out)
	if idx := strings.IndexByte(line, '\n'); idx >= 0 {
		line = strings.TrimSpace(line[:idx])
	}

	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return 0, 0, 0, fmt.Errorf("expected 3 fields, got %d", len(parts))
	}

	values := make([]float64, 3)
	for i, part := range parts {
		v, convErr := strconv.ParseFloat(strings.TrimSpace(part), 64)
		if convErr != nil {
			return 0, 0, 0, fmt.Errorf("field %d: %w", i, convErr)
		}
		values[i] = v
	}
	return values[0], values[1], values[2], nil
}

// round2 rounds to two decimal places for stable JSON output.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
