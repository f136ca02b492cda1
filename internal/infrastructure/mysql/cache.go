package mysql

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"ethledger/internal/domain"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
)

const (
	tokenCacheKeyPrefix = "ethledger:token:"
	defaultCacheTTL     = time.Hour
)

type CacheConfig struct {
	Addr string
	TTL  time.Duration
}

// CachedRepository fronts token lookups with Redis. Only resolved tokens
// are cached so a metadata back-fill shows up on the next lookup.
type CachedRepository struct {
	*Repository
	cache *redis.Client
	ttl   time.Duration
}

func NewCachedRepository(base *Repository, cfg CacheConfig) (*CachedRepository, error) {
	if base == nil {
		return nil, errors.New("base repository is required")
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		return &CachedRepository{Repository: base}, nil
	}
	if cfg.TTL <= 0 {
		cfg.TTL = defaultCacheTTL
	}
	client := redis.NewClient(&redis.Options{
		Addr: cfg.Addr,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}
	return &CachedRepository{Repository: base, cache: client, ttl: cfg.TTL}, nil
}

func (r *CachedRepository) GetOrCreateToken(ctx context.Context, wallet string) (domain.Token, bool, error) {
	if r.cache == nil {
		return r.Repository.GetOrCreateToken(ctx, wallet)
	}
	key := tokenCacheKey(wallet)
	if cached, err := r.cache.Get(ctx, key).Result(); err == nil {
		if token, ok := decodeCachedToken(cached); ok {
			return token, false, nil
		}
	}

	token, created, err := r.Repository.GetOrCreateToken(ctx, wallet)
	if err != nil {
		return domain.Token{}, false, err
	}
	if !token.Resolved() {
		return token, created, nil
	}
	if payload, err := encodeCachedToken(token); err == nil {
		_ = r.cache.Set(ctx, key, payload, r.ttl).Err()
	}
	return token, created, nil
}

func (r *CachedRepository) Close() error {
	var err error
	if r.cache != nil {
		err = r.cache.Close()
	}
	return errors.Join(err, r.Repository.Close())
}

type cachedToken struct {
	ID          uint64  `json:"id"`
	Wallet      string  `json:"wallet"`
	Symbol      *string `json:"symbol,omitempty"`
	Decimals    *uint8  `json:"decimals"`
	TotalSupply *string `json:"total_supply,omitempty"`
}

func tokenCacheKey(wallet string) string {
	return tokenCacheKeyPrefix + strings.ToLower(wallet)
}

func encodeCachedToken(token domain.Token) ([]byte, error) {
	entry := cachedToken{
		ID:       token.ID,
		Wallet:   token.Wallet,
		Symbol:   token.Symbol,
		Decimals: token.Decimals,
	}
	if token.TotalSupply != nil {
		supply := token.TotalSupply.String()
		entry.TotalSupply = &supply
	}
	return json.Marshal(entry)
}

// decodeCachedToken rejects entries without decimals; those should never
// have been cached.
func decodeCachedToken(payload string) (domain.Token, bool) {
	var entry cachedToken
	if err := json.Unmarshal([]byte(payload), &entry); err != nil || entry.Decimals == nil {
		return domain.Token{}, false
	}
	token := domain.Token{
		ID:       entry.ID,
		Wallet:   entry.Wallet,
		Symbol:   entry.Symbol,
		Decimals: entry.Decimals,
	}
	if entry.TotalSupply != nil {
		supply, err := decimal.NewFromString(*entry.TotalSupply)
		if err != nil {
			return domain.Token{}, false
		}
		token.TotalSupply = &supply
	}
	return token, true
}
