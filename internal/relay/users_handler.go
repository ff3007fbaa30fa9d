package relay

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/worthym330/innovate-calls/internal/core"
)

// UserShowHandler resolves a user ID to display details for the
// incoming-call prompt.
func UserShowHandler(directory core.UserDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := core.UserID(chi.URLParam(r, "id"))
		if userID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		user, err := directory.Find(userID)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			log.Error().Err(err).Str("service", "relay").Str("userID", userID.String()).Msg("directory lookup")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(user); err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("encode user")
		}
	}
}
