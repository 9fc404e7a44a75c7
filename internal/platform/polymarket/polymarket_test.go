package polymarket

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

func TestAPIMarketToDomainMarket(t *testing.T) {
	raw := `{
		"id": "0xmkt",
		"question": "Will it rain tomorrow?",
		"condition_id": "0xcond",
		"slug": "will-it-rain",
		"active": "true",
		"closed": false,
		"clob_token_ids": "[\"111\",\"222\"]",
		"volume_24hr": "12345.67",
		"end_date_iso": "2026-12-31T00:00:00Z"
	}`
	var api APIMarket
	require.NoError(t, json.Unmarshal([]byte(raw), &api))

	m := api.ToDomainMarket()
	assert.Equal(t, "0xmkt", m.ID)
	assert.Equal(t, "0xcond", m.ConditionID)
	assert.Equal(t, "111", m.YesTokenID)
	assert.Equal(t, "222", m.NoTokenID)
	assert.True(t, m.Active)
	assert.False(t, m.Resolved)
	assert.InDelta(t, 12345.67, m.Volume24h, 1e-9)
	assert.Equal(t, 2026, m.EndDate.Year())
}

func TestAPIMarketResolvedWinnerToken(t *testing.T) {
	api := APIMarket{
		ID:     "0xmkt",
		Closed: true,
		Tokens: []Token{
			{TokenID: "111", Outcome: "Yes", Winner: true},
			{TokenID: "222", Outcome: "No"},
		},
	}
	m := api.ToDomainMarket()
	assert.Equal(t, "111", m.YesTokenID)
	assert.Equal(t, "222", m.NoTokenID)
	assert.True(t, m.Resolved)
	assert.True(t, m.YesWon)
	assert.False(t, m.Active)
}

func TestAPIBookToDomainNormalizes(t *testing.T) {
	// Raw CLOB books arrive sorted away from the touch.
	api := APIBook{
		AssetID: "111",
		Bids: []APILevel{
			{Price: "0.10", Size: "5"},
			{Price: "0.45", Size: "100"},
		},
		Asks: []APILevel{
			{Price: "0.90", Size: "5"},
			{Price: "0.47", Size: "80"},
		},
		Timestamp: "1700000000000",
	}
	book := api.ToDomainBook()
	assert.Equal(t, 0.45, book.BestBid().Price)
	assert.Equal(t, 0.47, book.BestAsk().Price)
	assert.Equal(t, int64(1700000000), book.Timestamp.Unix())
}

func TestOrderResultFilledSize(t *testing.T) {
	req := domain.OrderRequest{TokenID: "111", Side: domain.OrderSideBuy, Price: 0.45, Size: 100}

	res := APIOrderResult{Success: true, Status: "matched", TakingAmount: "40000000"}
	got := res.ToDomainOrderResult(req)
	assert.Equal(t, domain.OrderStatusMatched, got.Status)
	assert.InDelta(t, 40.0, got.FilledSize, 1e-9)
	assert.InDelta(t, 0.45, got.FilledPrice, 1e-9)

	// Missing amounts fall back to the requested size.
	res = APIOrderResult{Success: true, Status: "matched"}
	got = res.ToDomainOrderResult(req)
	assert.InDelta(t, 100.0, got.FilledSize, 1e-9)

	// Sells fill from the making amount.
	sellReq := req
	sellReq.Side = domain.OrderSideSell
	res = APIOrderResult{Success: true, Status: "matched", MakingAmount: "25000000"}
	got = res.ToDomainOrderResult(sellReq)
	assert.InDelta(t, 25.0, got.FilledSize, 1e-9)

	res = APIOrderResult{Success: false, ErrorMsg: "not enough balance"}
	got = res.ToDomainOrderResult(req)
	assert.Equal(t, domain.OrderStatusFailed, got.Status)
	assert.Equal(t, "not enough balance", got.Message)
}

func TestGammaListMarketsFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets", r.URL.Path)
		io.WriteString(w, `[
			{"id":"big","condition_id":"c1","clob_token_ids":"[\"1\",\"2\"]","active":true,"volume_24hr":"50000"},
			{"id":"small","condition_id":"c2","clob_token_ids":"[\"3\",\"4\"]","active":true,"volume_24hr":"10"},
			{"id":"broken","condition_id":"c3","active":true,"volume_24hr":"99999"}
		]`)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	markets, err := g.ListMarkets(context.Background(), domain.MarketFilter{MinVolume24h: 1000, ActiveOnly: true})
	require.NoError(t, err)
	// "small" fails the volume floor, "broken" has no token IDs.
	require.Len(t, markets, 1)
	assert.Equal(t, "big", markets[0].ID)
}

func TestGammaGetMarketNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	g := NewGammaClient(srv.URL)
	_, err := g.GetMarket(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClobGetBook(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/book", r.URL.Path)
		require.Equal(t, "111", r.URL.Query().Get("token_id"))
		io.WriteString(w, `{"asset_id":"111","bids":[{"price":"0.44","size":"10"},{"price":"0.45","size":"100"}],"asks":[{"price":"0.47","size":"80"}],"timestamp":"1700000000000"}`)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, nil, nil)
	book, err := c.GetBook(context.Background(), "111")
	require.NoError(t, err)
	assert.Equal(t, "111", book.TokenID)
	assert.Equal(t, 0.45, book.BestBid().Price)
	assert.Equal(t, 0.47, book.BestAsk().Price)
}

func TestClobGetBookRateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := NewClobClient(srv.URL, nil, nil)
	_, err := c.GetBook(context.Background(), "111")
	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrRateLimited)
}

func TestStreamDecodeBookAndPriceChange(t *testing.T) {
	s := NewStream("ws://unused", slog.New(slog.NewTextHandler(io.Discard, nil)))
	books := make(map[string]domain.OrderBook)

	snapshot := []byte(`{"event_type":"book","asset_id":"111","bids":[{"price":"0.45","size":"100"}],"asks":[{"price":"0.47","size":"80"}],"timestamp":"1700000000000"}`)
	updates := s.decode(snapshot, books)
	require.Len(t, updates, 1)
	assert.Equal(t, "111", updates[0].TokenID)
	assert.Equal(t, 0.45, updates[0].Book.BestBid().Price)

	// Delta improves the bid; emitted book carries the merged state.
	delta := []byte(`{"event_type":"price_change","asset_id":"111","side":"BUY","price":"0.46","size":"50","timestamp":"1700000001000"}`)
	updates = s.decode(delta, books)
	require.Len(t, updates, 1)
	assert.Equal(t, 0.46, updates[0].Book.BestBid().Price)
	assert.Equal(t, 0.47, updates[0].Book.BestAsk().Price)

	// Size zero removes the level again.
	remove := []byte(`{"event_type":"price_change","asset_id":"111","side":"BUY","price":"0.46","size":"0","timestamp":"1700000002000"}`)
	updates = s.decode(remove, books)
	require.Len(t, updates, 1)
	assert.Equal(t, 0.45, updates[0].Book.BestBid().Price)
}

func TestStreamDecodeDeltaDoesNotAliasEmittedBooks(t *testing.T) {
	s := NewStream("ws://unused", slog.New(slog.NewTextHandler(io.Discard, nil)))
	books := make(map[string]domain.OrderBook)

	snapshot := []byte(`{"event_type":"book","asset_id":"111","bids":[{"price":"0.45","size":"100"}],"asks":[{"price":"0.47","size":"80"},{"price":"0.48","size":"40"}],"timestamp":"1700000000000"}`)
	first := s.decode(snapshot, books)
	require.Len(t, first, 1)

	// Bid-side delta; the ask side of the new book must be a copy, since the
	// first snapshot is already in the consumer's hands and the merged book
	// gets renormalized in place.
	delta := []byte(`{"event_type":"price_change","asset_id":"111","side":"BUY","price":"0.46","size":"50","timestamp":"1700000001000"}`)
	second := s.decode(delta, books)
	require.Len(t, second, 1)

	second[0].Book.Asks[0] = domain.PriceLevel{Price: 0.99, Size: 1}
	assert.Equal(t, 0.47, first[0].Book.Asks[0].Price)
}

func TestStreamDecodeDropsUnknownAndUnseeded(t *testing.T) {
	s := NewStream("ws://unused", slog.New(slog.NewTextHandler(io.Discard, nil)))
	books := make(map[string]domain.OrderBook)

	// Delta before any snapshot: dropped, not fabricated.
	delta := []byte(`{"event_type":"price_change","asset_id":"999","side":"BUY","price":"0.50","size":"1","timestamp":"1"}`)
	assert.Empty(t, s.decode(delta, books))

	assert.Empty(t, s.decode([]byte(`{"event_type":"last_trade_price"}`), books))
	assert.Empty(t, s.decode([]byte(`not json`), books))
}

func TestStreamDecodeArrayFrame(t *testing.T) {
	s := NewStream("ws://unused", slog.New(slog.NewTextHandler(io.Discard, nil)))
	books := make(map[string]domain.OrderBook)

	frame := []byte(`[
		{"event_type":"book","asset_id":"111","bids":[{"price":"0.45","size":"100"}],"asks":[],"timestamp":"1"},
		{"event_type":"book","asset_id":"222","bids":[],"asks":[{"price":"0.53","size":"60"}],"timestamp":"1"}
	]`)
	updates := s.decode(frame, books)
	require.Len(t, updates, 2)
	assert.Equal(t, "111", updates[0].TokenID)
	assert.Equal(t, "222", updates[1].TokenID)
}
