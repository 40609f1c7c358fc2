package syncrun

import (
	"context"
)

// Dispatcher applies an extracted record batch to the data store. Writes must
// be idempotent per record key: the mutual-exclusion guard on runs is
// best-effort, so duplicate dispatches are possible and must be harmless.
// forwardSideEffects suppresses outbound side effects (webhooks) when false.
type Dispatcher interface {
	Dispatch(ctx context.Context, typ OperationType, records []Metadata, forwardSideEffects bool) error
}
