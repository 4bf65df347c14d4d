package retry

import "context"

// DoWithResult is a type-safe wrapper around Retryer.Do for calls that
// produce a value.
//
// Usage:
//
//	conv, err := retry.DoWithResult(ctx, r, func(ctx context.Context) (*store.Conversation, error) {
//	    return convs.Create(ctx, userID, title)
//	})
func DoWithResult[T any](ctx context.Context, r Retryer, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		v, err := fn(ctx)
		if err != nil {
			return err
		}
		result = v
		return nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return result, nil
}
