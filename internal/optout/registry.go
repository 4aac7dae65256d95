package optout

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"time"

	"github.com/imobflow/messaging-engine/internal/model"
	"github.com/imobflow/messaging-engine/internal/repository"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Registry is the compliance gate. The store is authoritative; Redis is a
// read-through cache. IsOptedOut fails CLOSED: on a store error the number is
// reported opted-out so a registry outage can never let a send through.
type Registry struct {
	store    repository.OptOutRepository
	cache    *redis.Client // optional
	cacheTTL time.Duration
	log      *zap.Logger
}

func NewRegistry(store repository.OptOutRepository, cache *redis.Client, log *zap.Logger) *Registry {
	return &Registry{
		store:    store,
		cache:    cache,
		cacheTTL: 5 * time.Minute,
		log:      log,
	}
}

func cacheKey(tenantID int64, phone string) string {
	return "optout:" + strconv.FormatInt(tenantID, 10) + ":" + phone
}

// IsOptedOut reports whether phone must not be contacted. The error, when
// non-nil, means the answer came from the fail-closed default, not the store;
// the caller may treat the condition as transient but must not send.
func (r *Registry) IsOptedOut(ctx context.Context, tenantID int64, phone string) (bool, error) {
	key := cacheKey(tenantID, phone)

	if r.cache != nil {
		if v, err := r.cache.Get(ctx, key).Result(); err == nil {
			return v == "1", nil
		}
		// cache miss or cache error: fall through to the store
	}

	e, err := r.store.Get(ctx, tenantID, phone)
	if err != nil {
		return true, fmt.Errorf("opt-out lookup: %w", err)
	}

	optedOut := e != nil && !e.OptedIn

	if r.cache != nil {
		v := "0"
		if optedOut {
			v = "1"
		}
		if err := r.cache.Set(ctx, key, v, r.cacheTTL).Err(); err != nil {
			r.log.Warn("opt-out cache set failed", zap.Error(err))
		}
	}

	return optedOut, nil
}

// Set records an explicit opt-in/opt-out (admin action or keyword toggle)
// and invalidates the cache entry.
func (r *Registry) Set(ctx context.Context, tenantID int64, phone string, optedIn bool, reason, source string) error {
	e := model.OptOutEntry{
		TenantID: tenantID,
		Phone:    phone,
		OptedIn:  optedIn,
		Reason:   sql.NullString{String: reason, Valid: reason != ""},
		Source:   sql.NullString{String: source, Valid: source != ""},
	}
	if err := r.store.Upsert(ctx, e); err != nil {
		return fmt.Errorf("opt-out upsert: %w", err)
	}

	if r.cache != nil {
		if err := r.cache.Del(ctx, cacheKey(tenantID, phone)).Err(); err != nil {
			r.log.Warn("opt-out cache invalidate failed", zap.Error(err))
		}
	}

	r.log.Info("opt-out state changed",
		zap.Int64("tenant_id", tenantID),
		zap.String("phone", phone),
		zap.Bool("opted_in", optedIn),
		zap.String("source", source),
	)
	return nil
}

// HandleInboundText toggles opt state when the text is a STOP/START keyword.
// Returns the action taken so ingestion can count it.
func (r *Registry) HandleInboundText(ctx context.Context, tenantID int64, phone, text string) (Action, error) {
	switch DetectKeyword(text) {
	case ActionOptOut:
		return ActionOptOut, r.Set(ctx, tenantID, phone, false, "stop keyword", "inbound")
	case ActionOptIn:
		return ActionOptIn, r.Set(ctx, tenantID, phone, true, "start keyword", "inbound")
	default:
		return ActionNone, nil
	}
}
