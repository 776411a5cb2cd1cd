package controllers

import (
	"errors"
	"net/http"

	"gorm.io/gorm"

	"github.com/campushub/campushub-backend/api/responses"
	"github.com/campushub/campushub-backend/internal/users"
	pkgerrors "github.com/campushub/campushub-backend/pkg/errors"
	"github.com/campushub/campushub-backend/pkg/logger"
)

func UserMe(repo *users.Repository, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		actorID, _, err := actorFromContext(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		user, err := repo.FindByID(r.Context(), actorID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "user not found"))
				return
			}
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup user"))
			return
		}
		responses.WriteSuccess(w, users.FromModel(user))
	}
}
