package executor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"kompass/internal/catalog"
	"kompass/internal/logging"
	"kompass/internal/types"
)

// ===== DOMAIN FAN-OUT =====

// Category is a named group of tools belonging to one agent, with the
// keyword triggers that activate it. Baseline categories run even
// without a trigger hit.
type Category struct {
	Name     string
	Triggers []string
	Priority int
	Tools    []string
	Baseline bool
}

// CategoriesOf groups tools by their declared category. Tools without
// a category are skipped. Each category's priority is the highest tool
// priority in it, its triggers are the union of the tools' triggers,
// and it is baseline when any member tool is. Categories come back
// sorted by name so repeated calls select deterministically.
func CategoriesOf(tools []*catalog.Tool) []Category {
	byName := make(map[string]*Category)
	for _, t := range tools {
		if t.Category == "" {
			continue
		}
		c, ok := byName[t.Category]
		if !ok {
			c = &Category{Name: t.Category}
			byName[t.Category] = c
		}
		c.Tools = append(c.Tools, t.Name)
		c.Triggers = append(c.Triggers, t.Triggers...)
		if t.Priority > c.Priority {
			c.Priority = t.Priority
		}
		if t.Baseline {
			c.Baseline = true
		}
	}
	out := make([]Category, 0, len(byName))
	for _, c := range byName {
		sort.Strings(c.Tools)
		out = append(out, *c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FanOutConfig bounds a fan-out batch.
type FanOutConfig struct {
	Parallelism    int
	PerToolCharCap int
	TotalCharCap   int
	Timeout        time.Duration
}

// DefaultFanOutConfig returns the declared fan-out bounds.
func DefaultFanOutConfig() FanOutConfig {
	return FanOutConfig{
		Parallelism:    4,
		PerToolCharCap: 1200,
		TotalCharCap:   6000,
		Timeout:        30 * time.Second,
	}
}

// FanOut executes the tool categories of one agent concurrently and
// formats the outcome into a single bounded context block.
type FanOut struct {
	inv *Invoker
	cfg FanOutConfig
	log *logging.Logger
}

// NewFanOut wires a fan-out executor.
func NewFanOut(inv *Invoker, cfg FanOutConfig) *FanOut {
	if cfg.Parallelism <= 0 {
		cfg.Parallelism = 4
	}
	if cfg.PerToolCharCap <= 0 {
		cfg.PerToolCharCap = 1200
	}
	if cfg.TotalCharCap <= 0 {
		cfg.TotalCharCap = 6000
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &FanOut{inv: inv, cfg: cfg, log: logging.Get(logging.CategoryExecutor)}
}

// Select scores categories against the query: baseline categories are
// always kept, a category whose trigger occurs in the normalized
// query is added, and the selection is capped at the parallelism
// bound after sorting by priority (highest first).
func (f *FanOut) Select(query string, categories []Category) []Category {
	norm := types.NormalizeQuery(query)
	var selected []Category
	for _, c := range categories {
		if c.Baseline {
			selected = append(selected, c)
			continue
		}
		for _, trigger := range c.Triggers {
			if strings.Contains(norm, trigger) {
				selected = append(selected, c)
				break
			}
		}
	}
	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Priority > selected[j].Priority
	})
	if len(selected) > f.cfg.Parallelism {
		selected = selected[:f.cfg.Parallelism]
	}
	return selected
}

// Run executes every tool of the selected categories concurrently
// under a shared deadline and formats successes, errors and timeouts
// into one bounded context block, returned as a single contract.
// Lowest-priority content is trimmed first when the total cap is
// exceeded. args produces the argument map for one tool call.
func (f *FanOut) Run(ctx context.Context, selected []Category, args func(tool string) map[string]interface{}) types.ResultContract {
	batchCtx, cancel := context.WithTimeout(ctx, f.cfg.Timeout)
	defer cancel()

	type entry struct {
		tool     string
		priority int
		text     string
		status   types.ResultStatus
		conf     float64
	}
	var mu sync.Mutex
	var entries []entry

	g, gctx := errgroup.WithContext(batchCtx)
	g.SetLimit(f.cfg.Parallelism)
	for _, cat := range selected {
		for _, tool := range cat.Tools {
			tool, priority := tool, cat.Priority
			g.Go(func() error {
				contract := f.inv.Invoke(gctx, tool, args(tool))
				text := formatContract(tool, contract, f.cfg.PerToolCharCap)
				mu.Lock()
				entries = append(entries, entry{
					tool:     tool,
					priority: priority,
					text:     text,
					status:   contract.Status,
					conf:     contract.Confidence,
				})
				mu.Unlock()
				return nil
			})
		}
	}
	g.Wait()

	// Highest priority first, stable by tool name for determinism.
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].priority != entries[j].priority {
			return entries[i].priority > entries[j].priority
		}
		return entries[i].tool < entries[j].tool
	})

	var sb strings.Builder
	var used []string
	succeeded, failed := 0, 0
	var conf float64
	for _, e := range entries {
		used = append(used, e.tool)
		if e.status == types.StatusSuccess {
			succeeded++
			if e.conf > conf {
				conf = e.conf
			}
		} else {
			failed++
		}
		if sb.Len()+len(e.text)+1 > f.cfg.TotalCharCap {
			f.log.Debug("fan-out block full, trimming %s", e.tool)
			continue
		}
		sb.WriteString(e.text)
		sb.WriteByte('\n')
	}

	status := types.StatusError
	switch {
	case succeeded > 0 && failed == 0:
		status = types.StatusSuccess
	case succeeded > 0:
		status = types.StatusPartial
	}
	return types.ResultContract{
		Status:     status,
		Confidence: conf,
		UsedTools:  used,
		Response:   strings.TrimRight(sb.String(), "\n"),
	}
}

func formatContract(tool string, c types.ResultContract, perToolCap int) string {
	var body string
	switch c.Status {
	case types.StatusSuccess:
		body = c.Response
	case types.StatusTimeout:
		body = "tidsgräns överskriden"
	default:
		body = fmt.Sprintf("fel: %s", c.Response)
	}
	if runes := []rune(body); len(runes) > perToolCap {
		body = string(runes[:perToolCap]) + "…"
	}
	return fmt.Sprintf("[%s] %s", tool, body)
}
