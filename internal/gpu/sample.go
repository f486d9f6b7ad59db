// Package gpu implements the GPU telemetry classifier and worker-pool scale
// advisor (C5): sample nvidia-smi, classify the sample against the
// configured thresholds, and gate scale decisions behind a cooldown/
// emergency-pause store so the dispatcher doesn't thrash workers up and down
// on every tick.
package gpu

import (
	"bufio"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/asesmartice/floorwatch/internal/config"
)

// Sample is one nvidia-smi reading.
type Sample struct {
	TempC        int
	UtilPercent  int
	MemUsedMB    int
	MemTotalMB   int
	FreeMemGB    float64
	Name         string
	SampledAt    time.Time
}

// Sampler shells out to nvidia-smi. Kept as a thin wrapper so the classifier
// and cooldown logic can be tested without a GPU present.
type Sampler struct {
	timeout time.Duration
}

func NewSampler(timeout time.Duration) *Sampler {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sampler{timeout: timeout}
}

// Sample runs `nvidia-smi --query-gpu=... --format=csv,noheader,nounits` and
// parses the single-line CSV reply. Returns an error (not a panic) when
// nvidia-smi is missing or times out - the monitor loop logs it and holds at
// the current worker count rather than crashing the daemon.
func (s *Sampler) Sample(ctx context.Context) (Sample, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "nvidia-smi",
		"--query-gpu=temperature.gpu,utilization.gpu,memory.used,memory.total,name",
		"--format=csv,noheader,nounits")

	out, err := cmd.Output()
	if err != nil {
		return Sample{}, fmt.Errorf("gpu: nvidia-smi: %w", err)
	}

	scanner := bufio.NewScanner(strings.NewReader(string(out)))
	if !scanner.Scan() {
		return Sample{}, fmt.Errorf("gpu: empty nvidia-smi output")
	}
	fields := strings.Split(scanner.Text(), ",")
	if len(fields) != 5 {
		return Sample{}, fmt.Errorf("gpu: unexpected nvidia-smi output %q", scanner.Text())
	}
	for i := range fields {
		fields[i] = strings.TrimSpace(fields[i])
	}

	temp, err := strconv.Atoi(fields[0])
	if err != nil {
		return Sample{}, fmt.Errorf("gpu: parsing temperature: %w", err)
	}
	util, err := strconv.Atoi(fields[1])
	if err != nil {
		return Sample{}, fmt.Errorf("gpu: parsing utilization: %w", err)
	}
	memUsed, err := strconv.Atoi(fields[2])
	if err != nil {
		return Sample{}, fmt.Errorf("gpu: parsing memory.used: %w", err)
	}
	memTotal, err := strconv.Atoi(fields[3])
	if err != nil {
		return Sample{}, fmt.Errorf("gpu: parsing memory.total: %w", err)
	}

	return Sample{
		TempC:       temp,
		UtilPercent: util,
		MemUsedMB:   memUsed,
		MemTotalMB:  memTotal,
		FreeMemGB:   float64(memTotal-memUsed) / 1024,
		Name:        fields[4],
		SampledAt:   time.Now(),
	}, nil
}

// Decision is the classifier's verdict for one sample.
type Decision int

const (
	DecisionHold Decision = iota
	DecisionScaleUp
	DecisionScaleDown
	DecisionEmergency
)

func (d Decision) String() string {
	switch d {
	case DecisionScaleUp:
		return "scale_up"
	case DecisionScaleDown:
		return "scale_down"
	case DecisionEmergency:
		return "emergency"
	default:
		return "hold"
	}
}

// Classify applies the §4.5 thresholds. Emergency takes priority over
// scale_down, which takes priority over scale_up - a GPU that is both hot
// and under-utilized (unlikely, but not impossible mid-transition) is always
// emergency-classified, never scaled up.
func Classify(s Sample, thresholds config.GPUSettings) Decision {
	if s.TempC >= thresholds.TempEmergency {
		return DecisionEmergency
	}
	if s.TempC > thresholds.TempScaleDownMin || s.UtilPercent >= thresholds.UtilScaleDownMin || s.FreeMemGB <= float64(thresholds.FreeGBScaleDownMax) {
		return DecisionScaleDown
	}
	if s.TempC < thresholds.TempScaleUpMax && s.UtilPercent <= thresholds.UtilScaleUpMax && s.FreeMemGB >= float64(thresholds.FreeGBScaleUpMin) {
		return DecisionScaleUp
	}
	return DecisionHold
}
