package revocation

import (
	"context"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

type lookupFunc[V any] func(ctx context.Context, key string) (V, bool, error)

type warmFunc[V any] func(ctx context.Context, key string, v V) error

type tieredResult[V any] struct {
	value V
	found bool
}

// tiered is a read-through lookup over a fast and an authoritative layer.
// Fast-layer misses and errors fall back to the authoritative layer; an
// authoritative hit warms the fast layer. Concurrent fallbacks for the same
// key share one authoritative call.
type tiered[V any] struct {
	name   string
	fast   lookupFunc[V]
	slow   lookupFunc[V]
	warm   warmFunc[V]
	group  singleflight.Group
	logger *zap.Logger

	onFastHit   func()
	onFastError func()
}

func (t *tiered[V]) get(ctx context.Context, key string) (V, bool, error) {
	v, found, err := t.fast(ctx, key)
	switch {
	case err != nil:
		t.logger.Warn("fast layer lookup failed", zap.String("lookup", t.name), zap.Error(err))
		if t.onFastError != nil {
			t.onFastError()
		}
	case found:
		if t.onFastHit != nil {
			t.onFastHit()
		}
		return v, true, nil
	}

	res, err, _ := t.group.Do(key, func() (interface{}, error) {
		v, found, err := t.slow(ctx, key)
		if err != nil {
			return nil, err
		}
		if found {
			if werr := t.warm(ctx, key, v); werr != nil {
				t.logger.Warn("fast layer warm failed", zap.String("lookup", t.name), zap.Error(werr))
			}
		}
		return tieredResult[V]{value: v, found: found}, nil
	})
	if err != nil {
		var zero V
		return zero, false, err
	}
	r := res.(tieredResult[V])
	return r.value, r.found, nil
}

// forget detaches key from any lookup in flight. Callers that start after
// forget returns run a fresh authoritative read.
func (t *tiered[V]) forget(key string) {
	t.group.Forget(key)
}
