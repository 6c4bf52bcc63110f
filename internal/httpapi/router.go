package httpapi

import "net/http"

// NewRouter wires the full API surface. mw is typically the auth
// middleware; wsHandler, when set, serves the event stream.
func NewRouter(svc *Service, wsHandler http.Handler, mw func(http.Handler) http.Handler) http.Handler {
	mux := http.NewServeMux()
	wrap := func(h http.HandlerFunc) http.Handler {
		handler := http.Handler(h)
		if mw != nil {
			handler = mw(handler)
		}
		return handler
	}

	mux.Handle("/api/reservations", wrap(svc.handleReservations))
	mux.Handle("/api/reservations/", wrap(svc.handleReservationByID))
	mux.Handle("/api/locks", wrap(svc.handleLocks))

	mux.Handle("/api/slots", wrap(svc.handleSlots))
	mux.Handle("/api/slots/", wrap(svc.handleSlotByID))

	mux.Handle("/api/messages", wrap(svc.handleMessages))
	mux.Handle("/api/messages/", wrap(svc.handleMessageByID))
	mux.Handle("/api/inbox/", wrap(svc.handleInbox))
	mux.Handle("/api/outbox/", wrap(svc.handleOutbox))
	mux.Handle("/api/threads/", wrap(svc.handleThread))
	mux.Handle("/api/unified-inbox", wrap(svc.handleUnifiedInbox))

	if wsHandler != nil {
		if mw != nil {
			mux.Handle("/ws/agents/", mw(wsHandler))
		} else {
			mux.Handle("/ws/agents/", wsHandler)
		}
	}

	return mux
}
