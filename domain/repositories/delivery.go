package repositories

import "context"

// CodeSender delivers a one-time code out of band
type CodeSender interface {
	SendCode(ctx context.Context, destination, code string) error
}
