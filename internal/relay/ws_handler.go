package relay

import (
	"bytes"
	"fmt"
	"net/http"

	"github.com/gorilla/sessions"
	"github.com/isqad/melody"
	"github.com/rs/zerolog/log"

	"github.com/worthym330/innovate-calls/internal/core"
	"github.com/worthym330/innovate-calls/internal/eventbus"
	"github.com/worthym330/innovate-calls/internal/signal"
	"github.com/worthym330/innovate-calls/internal/telemetry"
)

const (
	wsSubscriptionSessionKey = "subscription"
	wsUserIDSessionKey       = "userId"
)

// WebsocketHandler upgrades the client connection and subscribes the
// user's signaling channel. Identity comes from the uuid query param,
// with the login cookie as fallback.
func WebsocketHandler(bus eventbus.Subscriber, store sessions.Store, websocket *melody.Melody) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := userFromRequest(store, r)
		if userID == "" {
			log.Warn().Str("service", "relay").Msg("connect without identity")
			w.WriteHeader(http.StatusBadRequest)
			return
		}

		subscription, err := bus.Subscribe(userID)
		if err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("can't subscribe the user to signaling channel")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		sessKeys := make(map[string]interface{})
		sessKeys[wsUserIDSessionKey] = userID
		sessKeys[wsSubscriptionSessionKey] = subscription

		if err := websocket.HandleRequestWithKeys(w, r, sessKeys); err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("can't handle request")
		}
	}
}

func ConnectHandler() func(session *melody.Session) {
	return func(session *melody.Session) {
		subscription, err := getSubscription(session)
		if err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("extract subscription")
			session.Close()
			return
		}

		telemetry.ClientConnected()

		// Pump routed messages into this user's websocket until the
		// subscription is closed on disconnect.
		go func() {
			for payload := range subscription.Channel() {
				if err := session.Write(payload); err != nil {
					log.Error().Err(err).Str("service", "relay").Msg("write to websocket")
					return
				}
			}
		}()
	}
}

func DisconnectHandler() func(session *melody.Session) {
	return func(session *melody.Session) {
		telemetry.ClientDisconnected()

		subscription, err := getSubscription(session)
		if err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("extract subscription")
			return
		}
		if err := subscription.Close(); err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("close subscription")
		}
	}
}

// HandleMessage routes one inbound message: parse the sender form,
// rewrite to the delivered form stamped with the sender, publish to the
// recipient's channel. Bad messages are dropped, never fatal to the
// connection.
func HandleMessage(bus eventbus.Publisher) func(s *melody.Session, msg []byte) {
	return func(s *melody.Session, msg []byte) {
		userID, err := getUserID(s)
		if err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("extract userID")
			return
		}

		parsed, err := signal.FromReader(bytes.NewReader(msg))
		if err != nil {
			log.Warn().Err(err).Str("service", "relay").Str("from", userID.String()).Msg("unparseable message, dropped")
			telemetry.MessageDropped("invalid")
			return
		}

		delivered, err := signal.Deliver(userID, parsed)
		if err != nil {
			log.Warn().Err(err).Str("service", "relay").Str("kind", string(parsed.GetKind())).Msg("unroutable message, dropped")
			telemetry.MessageDropped(string(parsed.GetKind()))
			return
		}

		if offer, ok := parsed.(*signal.CallOffer); ok {
			telemetry.CallAttempt(string(offer.MediaKind))
		}

		payload, err := delivered.ToJSON()
		if err != nil {
			log.Error().Err(err).Str("service", "relay").Msg("serialize delivered message")
			telemetry.MessageDropped(string(delivered.GetKind()))
			return
		}

		if err := bus.Publish(delivered.Recipient(), payload); err != nil {
			log.Error().Err(err).Str("service", "relay").Str("to", delivered.Recipient().String()).Msg("publish message")
			telemetry.MessageDropped(string(delivered.GetKind()))
			return
		}

		telemetry.MessageRouted(string(delivered.GetKind()))
	}
}

func userFromRequest(store sessions.Store, r *http.Request) core.UserID {
	if uuid := r.URL.Query().Get("uuid"); uuid != "" {
		return core.UserID(uuid)
	}

	session, err := store.Get(r, sessionName)
	if err != nil {
		return ""
	}
	if userID, ok := session.Values[sessionUserKey].(string); ok {
		return core.UserID(userID)
	}

	return ""
}

func getSubscription(s *melody.Session) (eventbus.Subscription, error) {
	value, ok := s.Keys[wsSubscriptionSessionKey]
	if !ok {
		return nil, fmt.Errorf("no subscription for given session")
	}
	subscription, ok := value.(eventbus.Subscription)
	if !ok {
		return nil, fmt.Errorf("can't convert subscription: %+v", value)
	}
	return subscription, nil
}

func getUserID(s *melody.Session) (core.UserID, error) {
	value, ok := s.Keys[wsUserIDSessionKey]
	if !ok {
		return "", fmt.Errorf("no userID for given session")
	}
	userID, ok := value.(core.UserID)
	if !ok {
		return "", fmt.Errorf("can't convert userID: %+v", value)
	}
	return userID, nil
}
