package app

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// Signal bus channels for core events. Downstream consumers (dashboards,
// alerting sidecars) subscribe to these.
const (
	channelOpportunities = "events:opportunities"
	channelExecutions    = "events:executions"
	channelRebalances    = "events:rebalances"
)

const publishTimeout = 5 * time.Second

// busPublisher mirrors core events onto the signal bus as JSON payloads.
type busPublisher struct {
	bus    domain.SignalBus
	logger *slog.Logger
}

func newBusPublisher(bus domain.SignalBus, logger *slog.Logger) *busPublisher {
	return &busPublisher{
		bus:    bus,
		logger: logger.With(slog.String("component", "bus_publisher")),
	}
}

func (p *busPublisher) OnOpportunity(opp domain.Opportunity) {
	p.publish(channelOpportunities, opp)
}

func (p *busPublisher) OnExecution(res domain.ExecutionResult) {
	p.publish(channelExecutions, res)
}

func (p *busPublisher) OnRebalance(ev domain.RebalanceEvent) {
	p.publish(channelRebalances, ev)
}

func (p *busPublisher) publish(channel string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("event marshal failed", slog.String("channel", channel), slog.String("error", err.Error()))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := p.bus.Publish(ctx, channel, data); err != nil {
		p.logger.Warn("event publish failed", slog.String("channel", channel), slog.String("error", err.Error()))
	}
}

// multiListener fans one event out to several listeners in order.
type multiListener []domain.EventListener

func (ml multiListener) OnOpportunity(opp domain.Opportunity) {
	for _, l := range ml {
		l.OnOpportunity(opp)
	}
}

func (ml multiListener) OnExecution(res domain.ExecutionResult) {
	for _, l := range ml {
		l.OnExecution(res)
	}
}

func (ml multiListener) OnRebalance(ev domain.RebalanceEvent) {
	for _, l := range ml {
		l.OnRebalance(ev)
	}
}
