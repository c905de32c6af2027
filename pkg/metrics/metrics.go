// Copyright (C) 2019-2022, Ava Labs, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package metrics holds the collectors shared by the lifecycle manager,
// the barrier engine and the dispatcher.
package metrics

import (
	"fmt"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lnr"

const (
	ResultOK      = "ok"
	ResultFailed  = "failed"
	ResultTimeout = "timeout"
)

type Metrics struct {
	NodeTransitions *prometheus.CounterVec
	BarrierPolls    *prometheus.CounterVec
	BarrierResults  *prometheus.CounterVec
	Deploys         *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// New registers the collectors on [reg].
func New(reg *prometheus.Registry) (*Metrics, error) {
	m := &Metrics{
		NodeTransitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "node_transitions_total",
			Help:      "Node lifecycle transitions by operation and result.",
		}, []string{"op", "result"}),
		BarrierPolls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrier_polls_total",
			Help:      "Ticks sampled by each barrier.",
		}, []string{"barrier"}),
		BarrierResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "barrier_results_total",
			Help:      "Barrier outcomes.",
		}, []string{"barrier", "result"}),
		Deploys: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "deploys_total",
			Help:      "Deploys accepted per node.",
		}, []string{"node"}),
		gatherer: reg,
	}
	for _, c := range []prometheus.Collector{m.NodeTransitions, m.BarrierPolls, m.BarrierResults, m.Deploys} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// NewUnregistered is for components constructed without a run registry.
func NewUnregistered() *Metrics {
	m, err := New(prometheus.NewRegistry())
	if err != nil {
		panic(err)
	}
	return m
}

// Summary flattens every non-zero counter into "name{labels}" -> value.
func (m *Metrics) Summary() (map[string]float64, error) {
	families, err := m.gatherer.Gather()
	if err != nil {
		return nil, err
	}
	out := map[string]float64{}
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			v := metric.GetCounter().GetValue()
			if v == 0 {
				continue
			}
			labels := make([]string, 0, len(metric.GetLabel()))
			for _, lp := range metric.GetLabel() {
				labels = append(labels, fmt.Sprintf("%s=%q", lp.GetName(), lp.GetValue()))
			}
			sort.Strings(labels)
			out[fmt.Sprintf("%s{%s}", mf.GetName(), strings.Join(labels, ","))] = v
		}
	}
	return out, nil
}
