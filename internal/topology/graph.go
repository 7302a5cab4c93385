// Package topology keeps the call graph between span names seen in complete
// traces: how fast each node serves, how often it calls the others and the
// smoothed rate at which requests enter through it.
package topology

import (
	"sync"
	"time"

	"github.com/pako-23/todo-harness/internal/average"
	"github.com/pako-23/todo-harness/internal/observer"
	"github.com/pako-23/todo-harness/internal/receiver"
)

const DefaultAlpha = 0.8

type nodeMetric struct {
	durationSum uint64
	count       uint64
}

// ServiceRate is the number of requests per second the node completes when
// busy, derived from the mean span duration.
func (m *nodeMetric) ServiceRate() float64 {
	if m.count == 0 || m.durationSum == 0 {
		return 0.0
	}

	return 1.0 / ((float64(m.durationSum) / 1e9) / float64(m.count))
}

type ingressRate struct {
	rate   *average.ExponentialMovingAverage
	latest uint64
	total  uint64
}

type Graph struct {
	mu      sync.Mutex
	alpha   float64
	metrics map[string]*nodeMetric
	ingress map[string]*ingressRate
	// edges[to][from] counts the calls from one node into another.
	edges map[string]map[string]uint64
}

func NewGraph(alpha float64) (*Graph, error) {
	if _, err := average.NewExponentialMovingAverage(alpha, 0); err != nil {
		return nil, err
	}

	return &Graph{
		alpha:   alpha,
		metrics: map[string]*nodeMetric{},
		ingress: map[string]*ingressRate{},
		edges:   map[string]map[string]uint64{},
	}, nil
}

func (g *Graph) addNode(node string) {
	if _, ok := g.edges[node]; !ok {
		g.edges[node] = map[string]uint64{}
		g.metrics[node] = &nodeMetric{}
	}
}

func (g *Graph) record(span *receiver.Span) {
	g.addNode(span.Name)
	g.metrics[span.Name].durationSum += span.Duration
	g.metrics[span.Name].count++
}

func (g *Graph) addRoot(span *receiver.Span) {
	g.record(span)

	in, ok := g.ingress[span.Name]
	if !ok {
		// alpha was validated by NewGraph.
		rate, _ := average.NewExponentialMovingAverage(g.alpha, 0)
		in = &ingressRate{rate: rate}
		g.ingress[span.Name] = in
	}
	in.latest++
	in.total++
}

func (g *Graph) addChild(parent, span *receiver.Span) {
	g.record(span)

	if parent.Name == span.Name {
		return
	}

	g.addNode(parent.Name)
	g.edges[span.Name][parent.Name]++
}

// Consume adds a complete trace to the graph. Incomplete traces are
// ignored as their calls cannot be attributed.
func (g *Graph) Consume(trace observer.Trace, complete bool) error {
	if !complete {
		return nil
	}

	byID := make(map[string]*receiver.Span, len(trace.Spans))
	for _, span := range trace.Spans {
		byID[span.SpanID] = span
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	for _, span := range trace.Spans {
		if parent, ok := byID[span.Parent]; ok {
			g.addChild(parent, span)
		} else {
			g.addRoot(span)
		}
	}

	return nil
}

// Tick folds the roots seen since the last tick into the ingress rates.
func (g *Graph) Tick(interval time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, in := range g.ingress {
		in.rate.Update(float64(in.latest) / interval.Seconds())
		in.latest = 0
	}
}

// ServiceRates returns the service rate of every node in requests per
// second.
func (g *Graph) ServiceRates() map[string]float64 {
	g.mu.Lock()
	defer g.mu.Unlock()

	rates := make(map[string]float64, len(g.metrics))
	for node, metric := range g.metrics {
		rates[node] = metric.ServiceRate()
	}

	return rates
}
