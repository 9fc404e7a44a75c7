package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// sendTimeout bounds each delivery so a slow webhook cannot stall the
// orchestrator's event path.
const sendTimeout = 10 * time.Second

// Listener adapts a Notifier to domain.EventListener, formatting core events
// into operator-readable messages.
type Listener struct {
	notifier *Notifier
}

// NewListener creates a Listener delivering through the given Notifier.
func NewListener(n *Notifier) *Listener {
	return &Listener{notifier: n}
}

// OnOpportunity reports a detected arbitrage.
func (l *Listener) OnOpportunity(opp domain.Opportunity) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg := fmt.Sprintf("market %s\nkind: %s\nprofit: %.2f%%\nsize: %.2f",
		opp.MarketID, opp.Kind, opp.Profit*100, opp.Size)
	_ = l.notifier.Notify(ctx, EventOpportunity, "Arbitrage detected", msg)
}

// OnExecution reports one execution attempt.
func (l *Listener) OnExecution(res domain.ExecutionResult) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	title := "Execution succeeded"
	msg := fmt.Sprintf("market %s\nkind: %s\nprofit: %.4f USDC\nfilled: %.2f YES / %.2f NO",
		res.MarketID, res.Kind, res.Profit, res.FilledYesSize, res.FilledNoSize)
	if !res.Success {
		title = "Execution failed"
		msg += "\nerror: " + res.Error
	}
	_ = l.notifier.Notify(ctx, EventExecution, title, msg)
}

// OnRebalance reports one rebalancer action.
func (l *Listener) OnRebalance(ev domain.RebalanceEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()

	msg := fmt.Sprintf("action: %s\namount: %.2f\nusdc ratio before: %.2f",
		ev.Action, ev.Amount, ev.RatioBefore)
	_ = l.notifier.Notify(ctx, EventRebalance, "Inventory rebalanced", msg)
}

// Compile-time interface check.
var _ domain.EventListener = (*Listener)(nil)
