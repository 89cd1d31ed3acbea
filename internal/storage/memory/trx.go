package memory

import (
	"context"
	"errors"
)

var (
	ErrTransactionIDNotFoundInCtx = errors.New("no transaction id found in ctx")
	ErrTransactionNotFound        = errors.New("transaction not found or already finished")
)

type trxCtxKey struct{}

// withTransactionID binds writes made with the returned context to trxID until it
// is committed or rolled back.
func withTransactionID(ctx context.Context, trxID string) context.Context {
	return context.WithValue(ctx, trxCtxKey{}, trxID)
}

func transactionIDFromContext(ctx context.Context) (string, bool) {
	trxID, ok := ctx.Value(trxCtxKey{}).(string)

	return trxID, ok
}
