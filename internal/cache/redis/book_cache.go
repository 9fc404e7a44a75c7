package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/leoyang128/mirrorbot/internal/domain"
)

// bookTTL bounds snapshot staleness. A book that has not been refreshed within
// this window is treated as absent rather than served stale.
const bookTTL = 5 * time.Minute

// BookCache implements domain.BookCache with one JSON document per token under
// "book:{tokenID}". Books arrive already normalized from the stream, so a
// whole-snapshot blob is enough; readers never need per-level access.
type BookCache struct {
	rdb *redis.Client
}

// NewBookCache creates a BookCache backed by the given Client.
func NewBookCache(c *Client) *BookCache {
	return &BookCache{rdb: c.Underlying()}
}

func bookKey(tokenID string) string {
	return "book:" + tokenID
}

// SetBook stores the latest snapshot for the book's token.
func (bc *BookCache) SetBook(ctx context.Context, book domain.OrderBook) error {
	data, err := json.Marshal(book)
	if err != nil {
		return fmt.Errorf("redis: marshal book %s: %w", book.TokenID, err)
	}
	if err := bc.rdb.Set(ctx, bookKey(book.TokenID), data, bookTTL).Err(); err != nil {
		return fmt.Errorf("redis: set book %s: %w", book.TokenID, err)
	}
	return nil
}

// GetBook returns the last stored snapshot for a token, or domain.ErrNotFound
// when no snapshot exists or it has expired.
func (bc *BookCache) GetBook(ctx context.Context, tokenID string) (domain.OrderBook, error) {
	data, err := bc.rdb.Get(ctx, bookKey(tokenID)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return domain.OrderBook{}, domain.ErrNotFound
		}
		return domain.OrderBook{}, fmt.Errorf("redis: get book %s: %w", tokenID, err)
	}

	var book domain.OrderBook
	if err := json.Unmarshal(data, &book); err != nil {
		return domain.OrderBook{}, fmt.Errorf("redis: decode book %s: %w", tokenID, err)
	}
	return book, nil
}

// Compile-time interface check.
var _ domain.BookCache = (*BookCache)(nil)
