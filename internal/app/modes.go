package app

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

// ScanMode runs one ranked pass over the market universe, logs the results,
// and exits.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	results, err := deps.Orchestrator.ScanMarkets(ctx)
	if err != nil {
		return fmt.Errorf("app: scan: %w", err)
	}

	actionable := 0
	for _, r := range results {
		if !r.Opportunity.IsActionable() {
			continue
		}
		actionable++
		a.logger.InfoContext(ctx, "opportunity",
			slog.String("market_id", r.Market.ID),
			slog.String("question", r.Market.Question),
			slog.String("kind", string(r.Opportunity.Kind)),
			slog.Float64("profit_pct", r.Opportunity.Profit*100),
			slog.Float64("size", r.Opportunity.Size),
		)
	}
	a.logger.InfoContext(ctx, "scan complete",
		slog.Int("markets", len(results)),
		slog.Int("actionable", actionable),
	)
	return nil
}

// MonitorMode starts live monitoring of one market and blocks until the
// context is cancelled. With monitor.auto_execute false it only reports
// opportunities.
func (a *App) MonitorMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting monitor mode",
		slog.Bool("auto_execute", a.cfg.Monitor.AutoExecute),
	)
	return a.runSession(ctx, deps)
}

// TradeMode is monitor mode with execution, rebalancing, and archival all
// active. On shutdown it settles every traded market back to stable currency.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	g, runCtx := errgroup.WithContext(ctx)
	if deps.Archiver != nil {
		g.Go(func() error {
			deps.Archiver.Run(runCtx, a.cfg.Archive.Interval.Duration)
			return nil
		})
	}
	g.Go(func() error {
		return a.runSession(runCtx, deps)
	})

	err := g.Wait()

	// Settle inventory with a fresh context; the run context is already done.
	recovered, clearErr := deps.Orchestrator.ClearPositions(context.WithoutCancel(ctx))
	if clearErr != nil {
		a.logger.Error("position clearing failed",
			slog.Float64("recovered", recovered),
			slog.String("error", clearErr.Error()),
		)
	} else {
		a.logger.Info("positions cleared on shutdown", slog.Float64("recovered", recovered))
	}
	return err
}

// ClearMode settles the configured market's inventory and exits.
func (a *App) ClearMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting clear mode", slog.String("market_id", a.cfg.MarketID))

	mkt, err := deps.Markets.GetMarket(ctx, a.cfg.MarketID)
	if err != nil {
		return fmt.Errorf("app: resolve market %s: %w", a.cfg.MarketID, err)
	}
	recovered, err := deps.Clearer.Clear(ctx, mkt)
	if err != nil {
		return fmt.Errorf("app: clear %s: %w", mkt.ID, err)
	}
	a.logger.InfoContext(ctx, "clear complete", slog.Float64("recovered", recovered))
	return nil
}

// runSession starts one monitoring session (pinned market or top-of-scan),
// waits for cancellation, then stops it.
func (a *App) runSession(ctx context.Context, deps *Dependencies) error {
	if a.cfg.MarketID != "" {
		if err := deps.Orchestrator.StartByID(ctx, a.cfg.MarketID); err != nil {
			return fmt.Errorf("app: start market %s: %w", a.cfg.MarketID, err)
		}
	} else {
		mkt, err := deps.Orchestrator.FindAndStart(ctx)
		if err != nil {
			return fmt.Errorf("app: find market: %w", err)
		}
		a.logger.InfoContext(ctx, "monitoring top-ranked market",
			slog.String("market_id", mkt.ID),
			slog.String("question", mkt.Question),
		)
	}

	<-ctx.Done()
	deps.Orchestrator.Stop()

	stats := deps.Orchestrator.Stats()
	a.logger.Info("session summary",
		slog.Int64("opportunities", stats.OpportunitiesSeen),
		slog.Int64("executions", stats.ExecutionsAttempted),
		slog.Int64("succeeded", stats.ExecutionsSucceeded),
		slog.Float64("cumulative_profit", stats.CumulativeProfit),
	)
	return ctx.Err()
}
