package gpu

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/asesmartice/floorwatch/internal/config"
	"github.com/asesmartice/floorwatch/internal/logging"
)

// Monitor samples the GPU once per Evaluate call (the controller makes one
// per scheduler tick inside the processing window) and turns classified samples into
// worker-count recommendations, respecting cooldown and emergency-pause
// state. It does not own the worker pool itself - Dispatcher.ApplyScale does
// - Monitor only decides what should happen next.
type Monitor struct {
	sampler   *Sampler
	cooldowns CooldownStore
	settings  config.GPUSettings

	tempGauge  prometheus.Gauge
	utilGauge  prometheus.Gauge
	freeGauge  prometheus.Gauge
	decisions  *prometheus.CounterVec
}

func NewMonitor(sampler *Sampler, cooldowns CooldownStore, settings config.GPUSettings) *Monitor {
	return &Monitor{
		sampler:   sampler,
		cooldowns: cooldowns,
		settings:  settings,
		tempGauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "floorwatch_gpu_temperature_celsius", Help: "Last sampled GPU temperature."}),
		utilGauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "floorwatch_gpu_utilization_percent", Help: "Last sampled GPU utilization."}),
		freeGauge: prometheus.NewGauge(prometheus.GaugeOpts{Name: "floorwatch_gpu_free_memory_gb", Help: "Last sampled free GPU memory in GB."}),
		decisions: prometheus.NewCounterVec(prometheus.CounterOpts{Name: "floorwatch_gpu_scale_decisions_total", Help: "Scale decisions by kind."}, []string{"decision"}),
	}
}

func (m *Monitor) Register(reg *prometheus.Registry) {
	reg.MustRegister(m.tempGauge, m.utilGauge, m.freeGauge, m.decisions)
}

// Evaluate samples the GPU once and returns the gated decision: the raw
// classification unless a cooldown or emergency pause is currently active,
// in which case it degrades to Hold. Starting a new cooldown/pause window is
// the caller's responsibility once it actually acts on the decision -
// Evaluate only reads state, it never writes it, so a dry-run caller (tests,
// /status) doesn't have side effects.
func (m *Monitor) Evaluate(ctx context.Context) (Decision, Sample, error) {
	log := logging.For("gpu")

	sample, err := m.sampler.Sample(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("gpu sample failed, holding worker count")
		return DecisionHold, Sample{}, err
	}

	m.tempGauge.Set(float64(sample.TempC))
	m.utilGauge.Set(float64(sample.UtilPercent))
	m.freeGauge.Set(sample.FreeMemGB)

	decision := Classify(sample, m.settings)

	if decision == DecisionEmergency {
		m.decisions.WithLabelValues(decision.String()).Inc()
		return decision, sample, nil
	}

	if paused, _ := m.cooldowns.InEmergencyPause(ctx); paused {
		m.decisions.WithLabelValues("hold_paused").Inc()
		return DecisionHold, sample, nil
	}
	if decision != DecisionHold {
		if inCooldown, _ := m.cooldowns.InCooldown(ctx); inCooldown {
			m.decisions.WithLabelValues("hold_cooldown").Inc()
			return DecisionHold, sample, nil
		}
	}

	m.decisions.WithLabelValues(decision.String()).Inc()
	return decision, sample, nil
}

// CommitDecision starts the appropriate cooldown/pause window after the
// dispatcher has actually acted on decision.
func (m *Monitor) CommitDecision(ctx context.Context, decision Decision) {
	switch decision {
	case DecisionEmergency:
		_ = m.cooldowns.SetEmergencyPause(ctx, time.Duration(m.settings.EmergencyPauseSeconds)*time.Second)
	case DecisionScaleUp, DecisionScaleDown:
		_ = m.cooldowns.SetCooldown(ctx, time.Duration(m.settings.ScaleCooldownSeconds)*time.Second)
	}
}
