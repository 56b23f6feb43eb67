package console

import (
	"context"

	"github.com/mklimuk/envnode/snsctx"
)

// SetVerbose marks ctx so drivers dump their bus traffic at debug level.
func SetVerbose(parent context.Context, value bool) context.Context {
	Trace = value
	return snsctx.SetVerbose(parent, value)
}

func IsVerbose(ctx context.Context) bool {
	return snsctx.IsVerbose(ctx)
}
