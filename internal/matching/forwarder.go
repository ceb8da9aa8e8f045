package matching

import (
	"context"

	"github.com/netwindsky/LuminaServer-sub000/internal/match"
)

// Forwarder receives every result the maker forms. Forward must not block
// for long; the dispatcher runs its workflow asynchronously.
type Forwarder interface {
	Forward(ctx context.Context, result *match.MatchResult)
}

// ForwarderFunc adapts a function to Forwarder.
type ForwarderFunc func(ctx context.Context, result *match.MatchResult)

func (f ForwarderFunc) Forward(ctx context.Context, result *match.MatchResult) { f(ctx, result) }
