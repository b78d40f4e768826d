// Package scope checks requested scopes against approved ones.
package scope

import (
	"context"
	"errors"

	"github.com/amoylab/authcore/internal/auth/storage"
	"github.com/amoylab/authcore/internal/auth/types"
	"github.com/amoylab/authcore/internal/common/errorx"
)

// ValidateScopes reports whether requested is a subset of approved. A
// missing or empty request asks for nothing and always passes.
func ValidateScopes(approved, requested []string) bool {
	if len(requested) == 0 {
		return true
	}
	set := make(map[string]struct{}, len(approved))
	for _, a := range approved {
		set[a] = struct{}{}
	}
	for _, r := range requested {
		if _, ok := set[r]; !ok {
			return false
		}
	}
	return true
}

// CheckClientScopes fails with invalid_scope unless the client was
// registered for every requested scope.
func CheckClientScopes(client *storage.Client, requested types.Scopes) error {
	if !ValidateScopes(client.Scopes.Strings(), requested.Strings()) {
		return errorx.ErrInvalidScope.WithDescription("Invalid scope: " + requested.Without(client.Scopes...).Join())
	}
	return nil
}

// ApprovedFor reports whether the user already approved every requested
// scope for the client. No stored approval means nothing is approved.
func ApprovedFor(ctx context.Context, store storage.ApprovalStore, username types.Username, clientID types.ClientID, requested types.Scopes) (bool, error) {
	approval, err := store.GetApproval(ctx, username, clientID)
	if errors.Is(err, errorx.ErrApprovalNotFound) {
		return len(requested) == 0, nil
	}
	if err != nil {
		return false, err
	}
	return ValidateScopes(approval.Scopes.Strings(), requested.Strings()), nil
}

// Approve merges scopes into the user's stored approval for the client.
func Approve(ctx context.Context, store storage.ApprovalStore, username types.Username, clientID types.ClientID, scopes types.Scopes) error {
	approval, err := store.GetApproval(ctx, username, clientID)
	switch {
	case errors.Is(err, errorx.ErrApprovalNotFound):
		approval = &storage.UserApproval{Username: username, ClientID: clientID}
	case err != nil:
		return err
	}
	approval.Scopes = append(approval.Scopes, scopes...).Unique()
	return store.SaveApproval(ctx, approval)
}
