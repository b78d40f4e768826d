package token

import (
	"context"

	"github.com/amoylab/authcore/internal/auth/storage"
)

// Enhancer may add or overwrite additional claims of a token before it is
// stored.
type Enhancer interface {
	Enhance(ctx context.Context, token *storage.AccessToken, client *storage.Client) error
}

// EnhancerFunc adapts a function to Enhancer.
type EnhancerFunc func(ctx context.Context, token *storage.AccessToken, client *storage.Client) error

func (f EnhancerFunc) Enhance(ctx context.Context, token *storage.AccessToken, client *storage.Client) error {
	return f(ctx, token, client)
}

// Chain runs enhancers in order and stops at the first error.
type Chain []Enhancer

func (c Chain) Enhance(ctx context.Context, token *storage.AccessToken, client *storage.Client) error {
	for _, e := range c {
		if err := e.Enhance(ctx, token, client); err != nil {
			return err
		}
	}
	return nil
}

// StaticClaims sets fixed additional claims on every token.
func StaticClaims(claims map[string]any) Enhancer {
	return EnhancerFunc(func(_ context.Context, token *storage.AccessToken, _ *storage.Client) error {
		if token.AdditionalInfo == nil {
			token.AdditionalInfo = make(map[string]any, len(claims))
		}
		for k, v := range claims {
			token.AdditionalInfo[k] = v
		}
		return nil
	})
}
