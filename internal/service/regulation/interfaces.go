package regulation

import (
	"context"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/regulation"
)

// CustomValidator evaluates a custom rule condition against an enforcement
// context. Implementations are registered by key and dispatched through the
// engine's typed registry.
type CustomValidator interface {
	Evaluate(ctx context.Context, rule *regulation.Rule, rctx *regulation.Context) (bool, error)
}

// CustomValidatorFunc adapts a function to the CustomValidator interface.
type CustomValidatorFunc func(ctx context.Context, rule *regulation.Rule, rctx *regulation.Context) (bool, error)

func (f CustomValidatorFunc) Evaluate(ctx context.Context, rule *regulation.Rule, rctx *regulation.Context) (bool, error) {
	return f(ctx, rule, rctx)
}
