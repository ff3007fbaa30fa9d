package relay

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/rs/zerolog/log"

	"github.com/worthym330/innovate-calls/internal/core"
)

const (
	sessionName    = "innovate_calls_session"
	sessionUserKey = "user_id"
)

type sessionRequest struct {
	UserID core.UserID `json:"user_id"`
}

// SessionCreateHandler binds a login cookie to a user ID so headless
// clients can authenticate the websocket without the uuid query param.
func SessionCreateHandler(store sessions.Store, directory core.UserDirectory) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sessionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			log.Warn().Err(err).Str("service", "relay").Msg("can't parse session request")
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if req.UserID == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		session, err := store.Get(r, sessionName)
		if err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("can't open session store")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		session.Values[sessionUserKey] = req.UserID.String()
		if err := session.Save(r, w); err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("can't save session")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		user, err := directory.Find(req.UserID)
		if err != nil {
			// The cookie is already set; reply with a bare entry.
			user = &core.User{ID: req.UserID}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusCreated)
		if err := json.NewEncoder(w).Encode(user); err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("encode session response")
		}
	}
}
