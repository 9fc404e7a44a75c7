// Package scanner ranks the market universe by arbitrage edge. Scanning is
// read-only and side-effect-free, so it can run concurrently with live
// monitoring.
package scanner

import (
	"context"
	"log/slog"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/leoyang128/mirrorbot/internal/arbitrage"
	"github.com/leoyang128/mirrorbot/internal/domain"
)

const defaultFetchWorkers = 8

// Result pairs a market with its classification.
type Result struct {
	Market      domain.Market
	Opportunity domain.Opportunity
}

// Config configures the scanner.
type Config struct {
	Filter       domain.MarketFilter
	FetchWorkers int
}

// Scanner pulls candidate markets, fetches both books per market, runs the
// detector, and returns results sorted by descending profit with none last.
type Scanner struct {
	cfg      Config
	markets  domain.MarketSource
	books    domain.BookSource
	detector *arbitrage.Detector
	cache    domain.BookCache // optional, warms last-known snapshots
	logger   *slog.Logger
}

// New creates a Scanner.
func New(cfg Config, markets domain.MarketSource, books domain.BookSource, detector *arbitrage.Detector, cache domain.BookCache, logger *slog.Logger) *Scanner {
	if cfg.FetchWorkers <= 0 {
		cfg.FetchWorkers = defaultFetchWorkers
	}
	return &Scanner{
		cfg:      cfg,
		markets:  markets,
		books:    books,
		detector: detector,
		cache:    cache,
		logger:   logger.With(slog.String("component", "scanner")),
	}
}

// Scan runs one full pass over the filtered universe. Individual market
// failures are logged and skipped; a single bad market never aborts the scan.
func (s *Scanner) Scan(ctx context.Context) ([]Result, error) {
	markets, err := s.markets.ListMarkets(ctx, s.cfg.Filter)
	if err != nil {
		return nil, err
	}
	s.logger.InfoContext(ctx, "scan started", slog.Int("markets", len(markets)))

	var (
		mu      sync.Mutex
		results = make([]Result, 0, len(markets))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FetchWorkers)

	for _, mkt := range markets {
		g.Go(func() error {
			res, err := s.scanMarket(gctx, mkt)
			if err != nil {
				s.logger.WarnContext(gctx, "market skipped",
					slog.String("market_id", mkt.ID),
					slog.String("error", err.Error()),
				)
				return nil // skip-and-continue
			}
			mu.Lock()
			results = append(results, res)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	sortResults(results)
	s.logger.InfoContext(ctx, "scan finished",
		slog.Int("scanned", len(results)),
		slog.Int("actionable", countActionable(results)),
	)
	return results, nil
}

// TopActionable returns the best non-none result of a scan, if any.
func TopActionable(results []Result) (Result, bool) {
	for _, r := range results {
		if r.Opportunity.IsActionable() && r.Opportunity.Size > 0 {
			return r, true
		}
	}
	return Result{}, false
}

func (s *Scanner) scanMarket(ctx context.Context, mkt domain.Market) (Result, error) {
	yes, err := s.fetchBook(ctx, mkt.YesTokenID)
	if err != nil {
		return Result{}, err
	}
	no, err := s.fetchBook(ctx, mkt.NoTokenID)
	if err != nil {
		return Result{}, err
	}

	opp, err := s.detector.Detect(mkt.ID, domain.TopOf(yes, no))
	if err != nil {
		return Result{}, err
	}
	return Result{Market: mkt, Opportunity: opp}, nil
}

// fetchBook pulls a fresh snapshot, falling back to the last cached one when
// the fetch fails transiently.
func (s *Scanner) fetchBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	book, err := s.books.GetBook(ctx, tokenID)
	if err == nil {
		if s.cache != nil {
			if cerr := s.cache.SetBook(ctx, book); cerr != nil {
				s.logger.DebugContext(ctx, "book cache write failed", slog.String("error", cerr.Error()))
			}
		}
		return book, nil
	}
	if s.cache != nil {
		if cached, cerr := s.cache.GetBook(ctx, tokenID); cerr == nil && cached.TokenID != "" {
			return cached, nil
		}
	}
	return domain.OrderBook{}, err
}

// sortResults orders by descending profit with none entries last; ties break
// by 24h volume so busier markets surface first.
func sortResults(results []Result) {
	sort.SliceStable(results, func(i, j int) bool {
		oi, oj := results[i].Opportunity, results[j].Opportunity
		ai, aj := oi.IsActionable(), oj.IsActionable()
		if ai != aj {
			return ai
		}
		if oi.Profit != oj.Profit {
			return oi.Profit > oj.Profit
		}
		return results[i].Market.Volume24h > results[j].Market.Volume24h
	})
}

func countActionable(results []Result) int {
	n := 0
	for _, r := range results {
		if r.Opportunity.IsActionable() {
			n++
		}
	}
	return n
}
