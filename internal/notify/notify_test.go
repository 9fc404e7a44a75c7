package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

type fakeSender struct {
	name   string
	titles []string
	err    error
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	if f.err != nil {
		return f.err
	}
	f.titles = append(f.titles, title)
	return nil
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersEvents(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventExecution}, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventOpportunity, "opp", "x"))
	require.NoError(t, n.Notify(context.Background(), EventExecution, "exec", "x"))

	assert.Equal(t, []string{"exec"}, s.titles)
}

func TestNotifyEmptyFilterAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())

	require.NoError(t, n.Notify(context.Background(), EventRebalance, "reb", "x"))
	assert.Len(t, s.titles, 1)
}

func TestDispatchContinuesPastFailedSender(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("down")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "body")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad")

	// The healthy sender still received the message.
	assert.Len(t, good.titles, 1)
}

func TestListenerFormatsExecutions(t *testing.T) {
	s := &fakeSender{name: "fake"}
	l := NewListener(NewNotifier([]Sender{s}, nil, testLogger()))

	l.OnExecution(domain.ExecutionResult{MarketID: "mkt", Kind: domain.OpportunityLong, Success: true, Profit: 1.25})
	l.OnExecution(domain.ExecutionResult{MarketID: "mkt", Kind: domain.OpportunityShort, Error: "leg failed"})

	require.Len(t, s.titles, 2)
	assert.Equal(t, "Execution succeeded", s.titles[0])
	assert.Equal(t, "Execution failed", s.titles[1])
}
