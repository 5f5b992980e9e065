package tokens

import (
	"context"

	"github.com/veridianlabs/nftmarket/services/marketplace/internal/registry"
)

// Whitelist is the set of fungible payment tokens sales may be priced in.
// The native ledger currency is approved implicitly and can never be
// removed.
type Whitelist interface {
	// Add inserts token ids and reports, per token, whether it was newly
	// added.
	Add(ctx context.Context, tokenIDs []string) ([]bool, error)
	Contains(ctx context.Context, tokenID string) (bool, error)
}

func isNative(tokenID string) bool {
	return tokenID == registry.NativeToken
}
