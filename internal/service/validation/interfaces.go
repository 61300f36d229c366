package validation

import (
	"context"

	"github.com/taxpoynt/einvoice-compliance-backend/internal/domain/validation"
)

// CustomValidator evaluates a custom validation condition against a handoff
// context. Implementations are registered by key and dispatched through the
// validator's typed registry.
type CustomValidator interface {
	Evaluate(ctx context.Context, rule *validation.Rule, vctx *validation.Context) (bool, error)
}

// CustomValidatorFunc adapts a function to the CustomValidator interface.
type CustomValidatorFunc func(ctx context.Context, rule *validation.Rule, vctx *validation.Context) (bool, error)

func (f CustomValidatorFunc) Evaluate(ctx context.Context, rule *validation.Rule, vctx *validation.Context) (bool, error) {
	return f(ctx, rule, vctx)
}
