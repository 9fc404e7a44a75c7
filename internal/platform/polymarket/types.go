package polymarket

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// flexBool unmarshals from JSON bool or string ("true"/"false") so Gamma API
// responses work whether "active" is sent as bool or string.
type flexBool bool

func (f *flexBool) UnmarshalJSON(data []byte) error {
	var b bool
	if err := json.Unmarshal(data, &b); err == nil {
		*f = flexBool(b)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*f = flexBool(strings.EqualFold(s, "true") || s == "1")
	return nil
}

// --------------------------------------------------------------------------
// Gamma API DTOs
// --------------------------------------------------------------------------

// APIMarket represents a market as returned by the Polymarket Gamma API.
type APIMarket struct {
	ID            string   `json:"id"`
	Question      string   `json:"question"`
	ConditionID   string   `json:"condition_id"`
	Slug          string   `json:"slug"`
	Active        flexBool `json:"active"` // API may send bool or "true"/"false" string
	Closed        bool     `json:"closed"`
	Outcomes      string   `json:"outcomes"`       // JSON-encoded: e.g. "[\"Yes\",\"No\"]"
	ClobTokenIDs  string   `json:"clob_token_ids"` // JSON-encoded: e.g. "[\"123\",\"456\"]"
	Tokens        []Token  `json:"tokens"`
	Volume24h     string   `json:"volume_24hr"`
	Volume        string   `json:"volume"`
	EndDateISO    string   `json:"end_date_iso"`
	UmaResolution string   `json:"uma_resolution_status"`
}

// Token represents a token entry inside the Gamma API market response.
type Token struct {
	TokenID string `json:"token_id"`
	Outcome string `json:"outcome"`
	Winner  bool   `json:"winner"`
}

// ToDomainMarket converts a Gamma APIMarket to a domain.Market. Token IDs come
// from the tokens array when present, else from the JSON-encoded
// clob_token_ids field (YES first, NO second by Gamma convention).
func (m *APIMarket) ToDomainMarket() domain.Market {
	dm := domain.Market{
		ID:          m.ID,
		Slug:        m.Slug,
		Question:    m.Question,
		ConditionID: m.ConditionID,
		Active:      bool(m.Active) && !m.Closed,
		Closed:      m.Closed,
		Resolved:    strings.EqualFold(m.UmaResolution, "resolved"),
	}

	for _, tok := range m.Tokens {
		switch strings.ToLower(tok.Outcome) {
		case "yes":
			dm.YesTokenID = tok.TokenID
			if tok.Winner {
				dm.YesWon = true
				dm.Resolved = true
			}
		case "no":
			dm.NoTokenID = tok.TokenID
		}
	}
	if dm.YesTokenID == "" && m.ClobTokenIDs != "" {
		var ids []string
		if err := json.Unmarshal([]byte(m.ClobTokenIDs), &ids); err == nil && len(ids) >= 2 {
			dm.YesTokenID, dm.NoTokenID = ids[0], ids[1]
		}
	}

	if v, err := strconv.ParseFloat(m.Volume24h, 64); err == nil {
		dm.Volume24h = v
	} else if v, err := strconv.ParseFloat(m.Volume, 64); err == nil {
		dm.Volume24h = v
	}
	if m.EndDateISO != "" {
		if t, err := time.Parse(time.RFC3339, m.EndDateISO); err == nil {
			dm.EndDate = t
		}
	}

	return dm
}

// --------------------------------------------------------------------------
// CLOB API DTOs
// --------------------------------------------------------------------------

// APIBook is the order book snapshot returned by GET /book.
type APIBook struct {
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
	Timestamp string     `json:"timestamp"`
	Hash      string     `json:"hash"`
}

// APILevel is a single price level with string-encoded numbers.
type APILevel struct {
	Price string `json:"price"`
	Size  string `json:"size"`
}

// ToDomainBook converts an APIBook to a normalized domain.OrderBook.
func (b *APIBook) ToDomainBook() domain.OrderBook {
	book := domain.OrderBook{
		TokenID:   b.AssetID,
		Timestamp: parseWSTimestamp(b.Timestamp),
	}
	for _, lvl := range b.Bids {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Bids = append(book.Bids, domain.PriceLevel{Price: p, Size: s})
	}
	for _, lvl := range b.Asks {
		p, _ := strconv.ParseFloat(lvl.Price, 64)
		s, _ := strconv.ParseFloat(lvl.Size, 64)
		book.Asks = append(book.Asks, domain.PriceLevel{Price: p, Size: s})
	}
	book.Normalize()
	return book
}

// APIOrderResult is the response from placing an order via the CLOB API.
type APIOrderResult struct {
	Success      bool   `json:"success"`
	ErrorMsg     string `json:"errorMsg,omitempty"`
	OrderID      string `json:"orderID,omitempty"`
	Status       string `json:"status,omitempty"`
	TakingAmount string `json:"takingAmount,omitempty"`
	MakingAmount string `json:"makingAmount,omitempty"`
}

// ToDomainOrderResult converts an APIOrderResult to a domain.OrderResult.
// req supplies the price used to back out the filled size from the amounts.
func (r *APIOrderResult) ToDomainOrderResult(req domain.OrderRequest) domain.OrderResult {
	result := domain.OrderResult{
		Success: r.Success,
		OrderID: r.OrderID,
		Message: r.ErrorMsg,
	}

	switch r.Status {
	case "live", "open":
		result.Status = domain.OrderStatusOpen
	case "matched", "filled":
		result.Status = domain.OrderStatusMatched
	default:
		if r.Success {
			result.Status = domain.OrderStatusOpen
		} else {
			result.Status = domain.OrderStatusFailed
		}
	}

	if result.Status == domain.OrderStatusMatched {
		result.FilledPrice = req.Price
		result.FilledSize = filledSizeFromAmounts(req, r.MakingAmount, r.TakingAmount)
	}
	return result
}

// filledSizeFromAmounts backs out the token quantity filled. Amounts are
// 6-decimal fixed-point strings; a buy's taking amount and a sell's making
// amount are both denominated in tokens. Falls back to the full requested size
// when the response omits the amounts.
func filledSizeFromAmounts(req domain.OrderRequest, making, taking string) float64 {
	raw := taking
	if req.Side == domain.OrderSideSell {
		raw = making
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v <= 0 {
		return req.Size
	}
	return v / 1e6
}

// --------------------------------------------------------------------------
// WebSocket DTOs
// --------------------------------------------------------------------------

// WSCommand is the JSON payload sent to the WebSocket to subscribe.
type WSCommand struct {
	Type    string   `json:"type"`
	Channel string   `json:"channel,omitempty"`
	Assets  []string `json:"assets_ids,omitempty"`
}

// BookMessage is a full orderbook snapshot delivered over WebSocket.
type BookMessage struct {
	AssetID   string     `json:"asset_id"`
	Market    string     `json:"market"`
	Bids      []APILevel `json:"bids"`
	Asks      []APILevel `json:"asks"`
	Timestamp string     `json:"timestamp"`
	Hash      string     `json:"hash"`
}

// PriceChangeMessage is an incremental orderbook price-level update.
type PriceChangeMessage struct {
	AssetID   string `json:"asset_id"`
	Market    string `json:"market"`
	Side      string `json:"side"`  // "BUY" or "SELL"
	Price     string `json:"price"`
	Size      string `json:"size"` // "0" means level removed
	Timestamp string `json:"timestamp"`
}

// BookMessageToDomain converts a WS book snapshot to a normalized domain book.
func BookMessageToDomain(b *BookMessage) domain.OrderBook {
	api := APIBook{AssetID: b.AssetID, Bids: b.Bids, Asks: b.Asks, Timestamp: b.Timestamp}
	return api.ToDomainBook()
}

func parseWSTimestamp(raw string) time.Time {
	if ms, err := strconv.ParseInt(raw, 10, 64); err == nil {
		// CLOB timestamps are unix milliseconds.
		return time.UnixMilli(ms)
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t
	}
	return time.Now()
}
