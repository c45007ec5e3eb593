package domain

import "context"

// AssetTransferer moves funds between accounts. It is the external
// asset-transfer service; implementations must treat IdempotencyKey as a
// deduplication key so a retried request is applied at most once.
type AssetTransferer interface {
	Transfer(ctx context.Context, req TransferRequest) error
}
