package controllers

import (
	"context"

	"github.com/google/uuid"

	"github.com/campushub/campushub-backend/api/middleware"
	"github.com/campushub/campushub-backend/pkg/enums"
	pkgerrors "github.com/campushub/campushub-backend/pkg/errors"
)

// actorFromContext reads the authenticated user out of the request context.
func actorFromContext(ctx context.Context) (uuid.UUID, enums.UserRole, error) {
	userID, err := uuid.Parse(middleware.UserIDFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	role, err := enums.ParseUserRole(middleware.RoleFromContext(ctx))
	if err != nil {
		return uuid.Nil, "", pkgerrors.New(pkgerrors.CodeUnauthorized, "missing credentials")
	}
	return userID, role, nil
}
