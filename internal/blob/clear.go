package blob

import (
	"context"
	"fmt"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
)

// DefaultClearConcurrency bounds parallel deletes in ClearAll.
const DefaultClearConcurrency = 8

// ClearAll deletes every blob whose key has prefix and returns how many keys
// were removed. At most concurrency deletes run at once; values below one
// use DefaultClearConcurrency. The first failure cancels the remaining
// deletes; the count then covers the deletes that completed before it.
func ClearAll(ctx context.Context, store Store, prefix string, concurrency int) (int, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return 0, fmt.Errorf("list %q: %w", prefix, err)
	}
	if concurrency < 1 {
		concurrency = DefaultClearConcurrency
	}
	var removed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for _, info := range infos {
		key := info.Key
		g.Go(func() error {
			ok, err := store.Delete(gctx, key)
			if err != nil {
				return fmt.Errorf("delete %s: %w", key, err)
			}
			if ok {
				removed.Add(1)
			}
			return nil
		})
	}
	err = g.Wait()
	return int(removed.Load()), err
}

// Keys lists the keys under prefix in ascending order.
func Keys(ctx context.Context, store Store, prefix string) ([]string, error) {
	infos, err := store.List(ctx, prefix)
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(infos))
	for _, info := range infos {
		keys = append(keys, info.Key)
	}
	return keys, nil
}
