package scenario

import (
	"sort"
	"time"

	"go.uber.org/zap"
)

type StepResult struct {
	Index   int
	Step    string
	Elapsed time.Duration
	Err     error
}

// FaultObservation is the outcome of one fault check.
type FaultObservation struct {
	NetworkID int
	NodeID    int
	Faulty    bool
	At        time.Time
}

// Report summarizes one scenario run. It isn't persisted.
type Report struct {
	RunID    string
	Scenario string
	Started  time.Time
	Elapsed  time.Duration
	Steps    []StepResult
	Faults   []FaultObservation
	Metrics  map[string]float64
	Err      error
}

func (r *Report) Succeeded() bool { return r.Err == nil }

// Log writes the report as structured log lines.
func (r *Report) Log(log *zap.Logger) {
	log = log.With(zap.String("run", r.RunID), zap.String("scenario", r.Scenario))
	for _, s := range r.Steps {
		fields := []zap.Field{zap.Int("step", s.Index), zap.String("op", s.Step), zap.Duration("elapsed", s.Elapsed)}
		if s.Err != nil {
			fields = append(fields, zap.Error(s.Err))
		}
		log.Info("step", fields...)
	}
	for _, f := range r.Faults {
		log.Info("fault observation", zap.Int("network", f.NetworkID), zap.Int("node", f.NodeID), zap.Bool("faulty", f.Faulty))
	}
	keys := make([]string, 0, len(r.Metrics))
	for k := range r.Metrics {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		log.Info("metric", zap.String("name", k), zap.Float64("value", r.Metrics[k]))
	}
	log.Info("scenario finished",
		zap.Bool("succeeded", r.Succeeded()),
		zap.Int("steps", len(r.Steps)),
		zap.Duration("elapsed", r.Elapsed),
	)
}
