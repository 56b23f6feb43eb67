package snsctx

import "context"

type ctxIndex int

const (
	ctxIndexVerbose ctxIndex = iota
	ctxIndexNode
)

func IsVerbose(ctx context.Context) bool {
	val := ctx.Value(ctxIndexVerbose)
	if val == nil {
		return false
	}
	return val.(bool)
}

func SetVerbose(ctx context.Context, value bool) context.Context {
	return context.WithValue(ctx, ctxIndexVerbose, value)
}

// Node returns the node name attached to ctx or an empty string.
func Node(ctx context.Context) string {
	val := ctx.Value(ctxIndexNode)
	if val == nil {
		return ""
	}
	return val.(string)
}

func SetNode(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, ctxIndexNode, name)
}
