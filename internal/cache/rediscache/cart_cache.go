// Package rediscache хранит снимки корзин в Redis.
package rediscache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ttejuosho/akubata/internal/domain"
)

const (
	// KeyCartView: ключ снимка корзины пользователя.
	KeyCartView = "akubata:cart:%s"
	// DefaultTTL: срок жизни снимка, если мутация не сбросила его раньше.
	DefaultTTL = 5 * time.Minute
)

// NewClient создаёт клиента Redis с короткими таймаутами: кэш не должен тормозить корзину.
func NewClient(addr string) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         addr,
		DialTimeout:  2 * time.Second,
		ReadTimeout:  time.Second,
		WriteTimeout: time.Second,
	})
}

// CartCache: кэш представлений корзины поверх Redis.
type CartCache struct {
	rdb redis.Cmdable
	ttl time.Duration
}

// NewCartCache создаёт кэш. ttl <= 0 заменяется на DefaultTTL.
func NewCartCache(rdb redis.Cmdable, ttl time.Duration) *CartCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &CartCache{rdb: rdb, ttl: ttl}
}

// Get возвращает снимок; ok == false при промахе.
func (c *CartCache) Get(ctx context.Context, userID string) (domain.CartView, bool, error) {
	data, err := c.rdb.Get(ctx, cartKey(userID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return domain.CartView{}, false, nil
	}
	if err != nil {
		return domain.CartView{}, false, fmt.Errorf("redis get cart %s: %w", userID, err)
	}

	var view domain.CartView
	if err := json.Unmarshal(data, &view); err != nil {
		// Битая запись равносильна промаху.
		return domain.CartView{}, false, fmt.Errorf("decode cached cart %s: %w", userID, err)
	}
	return view, true, nil
}

// Set сохраняет снимок с TTL.
func (c *CartCache) Set(ctx context.Context, userID string, view domain.CartView) error {
	data, err := json.Marshal(view)
	if err != nil {
		return fmt.Errorf("encode cart %s: %w", userID, err)
	}
	if err := c.rdb.Set(ctx, cartKey(userID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set cart %s: %w", userID, err)
	}
	return nil
}

// Invalidate удаляет снимок; отсутствие ключа не ошибка.
func (c *CartCache) Invalidate(ctx context.Context, userID string) error {
	if err := c.rdb.Del(ctx, cartKey(userID)).Err(); err != nil {
		return fmt.Errorf("redis del cart %s: %w", userID, err)
	}
	return nil
}

// Ping проверяет доступность Redis.
func (c *CartCache) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

func cartKey(userID string) string {
	return fmt.Sprintf(KeyCartView, userID)
}
