package observer

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/pako-23/todo-harness/internal/receiver"
)

// Line is the printed form of one span. Op is the span id, Layer the span
// name and Label its kind; each edge names the parent as op=layer:label.
type Line struct {
	Task  string   `json:"task"`
	Op    string   `json:"op"`
	Layer string   `json:"layer"`
	Label string   `json:"label"`
	Edges []string `json:"edges"`
}

type HumanizeStats struct {
	Traces     uint64 `json:"traces"`
	Incomplete uint64 `json:"incomplete"`
	Spans      uint64 `json:"spans"`
}

// Humanizer is a Sink that writes every span of a trace as indented JSON.
type Humanizer struct {
	mu    sync.Mutex
	w     io.Writer
	stats HumanizeStats
}

func NewHumanizer(w io.Writer) *Humanizer {
	return &Humanizer{w: w}
}

func edge(span *receiver.Span) string {
	return fmt.Sprintf("%s=%s:%s", span.SpanID, span.Name, span.Kind)
}

func Humanize(trace Trace) []Line {
	byID := make(map[string]*receiver.Span, len(trace.Spans))
	for _, span := range trace.Spans {
		byID[span.SpanID] = span
	}

	lines := make([]Line, 0, len(trace.Spans))
	for _, span := range trace.Spans {
		edges := []string{}
		if parent, ok := byID[span.Parent]; ok {
			edges = append(edges, edge(parent))
		} else if span.Parent != "" {
			edges = append(edges, span.Parent+"=?")
		}

		lines = append(lines, Line{
			Task:  trace.ID,
			Op:    span.SpanID,
			Layer: span.Name,
			Label: span.Kind,
			Edges: edges,
		})
	}

	return lines
}

func (h *Humanizer) Consume(trace Trace, complete bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Traces++
	if !complete {
		h.stats.Incomplete++
	}

	for _, line := range Humanize(trace) {
		b, err := json.MarshalIndent(line, "", "  ")
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(h.w, "%s\n", b); err != nil {
			return err
		}
		h.stats.Spans++
	}

	return nil
}

func (h *Humanizer) Stats() HumanizeStats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stats
}
