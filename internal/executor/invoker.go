package executor

import (
	"context"
	"fmt"
	"time"

	"kompass/internal/catalog"
	"kompass/internal/logging"
	"kompass/internal/memory"
	"kompass/internal/types"
)

// ===== TOOL INVOKER =====

// Invoker executes single tool calls under the turn's search budget,
// with per-call isolation and the durable result cache in front.
type Invoker struct {
	reg     *catalog.Registry
	mem     *memory.Memory
	budget  *SearchBudget
	timeout time.Duration
	log     *logging.Logger
}

// NewInvoker wires an invoker. mem may be nil to disable caching.
func NewInvoker(reg *catalog.Registry, mem *memory.Memory, budget *SearchBudget, perCallTimeout time.Duration) *Invoker {
	if perCallTimeout <= 0 {
		perCallTimeout = 30 * time.Second
	}
	return &Invoker{
		reg:     reg,
		mem:     mem,
		budget:  budget,
		timeout: perCallTimeout,
		log:     logging.Get(logging.CategoryExecutor),
	}
}

// Invoke runs one tool call and normalizes the outcome into a result
// contract. A cache hit consumes no budget. Failures and timeouts are
// isolated to this call; the returned contract always has a status.
func (inv *Invoker) Invoke(ctx context.Context, toolName string, args map[string]interface{}) types.ResultContract {
	tool := inv.reg.Get(toolName)
	if tool == nil {
		return types.ResultContract{
			Status:   types.StatusError,
			Response: fmt.Sprintf("okänt verktyg: %s", toolName),
		}
	}

	if inv.mem != nil {
		if cached, hit := inv.mem.CachedResult(toolName, tool.Source, args); hit {
			inv.log.Debug("cache hit for %s", toolName)
			return types.ResultContract{
				Status:     types.StatusSuccess,
				Confidence: 0.85,
				UsedTools:  []string{toolName},
				Response:   cached,
			}
		}
	}

	if inv.budget != nil && !inv.budget.Take() {
		inv.log.Warn("search budget drained, blocking %s", toolName)
		return types.ResultContract{
			Status:    types.StatusBlocked,
			UsedTools: []string{toolName},
			Response:  "sökbudgeten för denna tur är förbrukad",
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, inv.timeout)
	defer cancel()

	res, err := inv.reg.ExecuteTool(callCtx, tool, args)
	if err != nil {
		status := types.StatusError
		if callCtx.Err() == context.DeadlineExceeded {
			status = types.StatusTimeout
		}
		inv.log.Warn("tool %s failed after %dms: %v", toolName, res.DurationMs, err)
		return types.ResultContract{
			Status:    status,
			UsedTools: []string{toolName},
			Response:  err.Error(),
		}
	}

	if inv.mem != nil {
		inv.mem.CacheResult(toolName, tool.Source, args, res.Result)
	}
	return types.ResultContract{
		Status:     types.StatusSuccess,
		Confidence: 0.85,
		UsedTools:  []string{toolName},
		Response:   res.Result,
	}
}
