package eventcenter

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/nimbusevents/eventcenter/internal/eventdispatch"
	"github.com/nimbusevents/eventcenter/internal/obs/logger"
	"github.com/nimbusevents/eventcenter/internal/obs/metrics"
)

// EventCenterStarted and EventCenterStopped are posted on the default
// dispatch around the broker's own lifecycle.
const (
	EventCenterStarted = "event_center.started"
	EventCenterStopped = "event_center.stopped"
)

var responseOK = map[string]string{"success": "true"}

func errorResponse(msg string) map[string]string {
	return map[string]string{"success": "false", "error": msg}
}

// Service is the broker's HTTP surface (spec.md §6.1), mounted on
// gorilla/mux. Each handler parses a JSON body into the corresponding data
// type and calls the RegistrationManager; recognized failures return 200
// with {success:"false", error}, matching spec.md §4.6/§7.
type Service struct {
	manager  *RegistrationManager
	dispatch *eventdispatch.DispatchManager

	upgrader websocket.Upgrader

	stop func()
}

// NewService wires a Service to manager and dispatch. Call Routes to mount
// it on a *mux.Router.
func NewService(manager *RegistrationManager, dispatch *eventdispatch.DispatchManager) *Service {
	return &Service{
		manager:  manager,
		dispatch: dispatch,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// SetShutdownFunc wires stop as the action /shutdown takes to actually stop
// the broker's HTTP server, typically a server.Manager's TriggerShutdown.
// Without it, /shutdown only posts EventCenterStopped.
func (s *Service) SetShutdownFunc(stop func()) {
	s.stop = stop
}

// Routes mounts the broker's HTTP surface on r.
func (s *Service) Routes(r *mux.Router) {
	r.HandleFunc("/ping", s.handlePing).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodPost)
	r.HandleFunc("/unregister", s.handleUnregister).Methods(http.MethodPost)
	r.HandleFunc("/unregister_all", s.handleUnregisterAll).Methods(http.MethodPost)
	r.HandleFunc("/post_event", s.handlePostEvent).Methods(http.MethodPost)
	r.HandleFunc("/map_events", s.handleMapEvents).Methods(http.MethodPost)
	r.HandleFunc("/registrants", s.handleRegistrants).Methods(http.MethodGet)
	r.HandleFunc("/shutdown", s.handleShutdown).Methods(http.MethodGet)

	r.Handle("/metrics", metrics.GetProvider().Handler()).Methods(http.MethodGet)
	r.HandleFunc("/event_maps", s.handleEventMaps).Methods(http.MethodGet)
	r.HandleFunc("/registrants/stream", s.handleRegistrantsStream).Methods(http.MethodGet)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("failed to write JSON response: %v", err)
	}
}

func (s *Service) handlePing(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, responseOK)
}

func (s *Service) handleRegister(w http.ResponseWriter, r *http.Request) {
	var data RegistrationData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, errorResponse("invalid request body"))
		return
	}
	if data.CallbackURL == "" {
		writeJSON(w, errorResponse("missing callback url"))
		return
	}
	s.manager.Register(data)
	writeJSON(w, responseOK)
}

func (s *Service) handleUnregister(w http.ResponseWriter, r *http.Request) {
	var data RegistrationData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, errorResponse("invalid request body"))
		return
	}
	if data.CallbackURL == "" {
		writeJSON(w, errorResponse("missing callback url"))
		return
	}
	s.manager.Unregister(data)
	writeJSON(w, responseOK)
}

func (s *Service) handleUnregisterAll(w http.ResponseWriter, r *http.Request) {
	var body struct {
		CallbackURL string `json:"callback_url"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSON(w, errorResponse("invalid request body"))
		return
	}
	if body.CallbackURL == "" {
		writeJSON(w, errorResponse("Missing callback url"))
		return
	}
	s.manager.UnregisterAll(body.CallbackURL)
	writeJSON(w, responseOK)
}

func (s *Service) handlePostEvent(w http.ResponseWriter, r *http.Request) {
	var data RemoteEventData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, errorResponse("invalid request body"))
		return
	}
	s.manager.Post(data)
	writeJSON(w, responseOK)
}

func (s *Service) handleMapEvents(w http.ResponseWriter, r *http.Request) {
	var data EventMappingData
	if err := json.NewDecoder(r.Body).Decode(&data); err != nil {
		writeJSON(w, errorResponse("invalid request body"))
		return
	}
	key, err := s.manager.MapEvents(data)
	if err != nil {
		writeJSON(w, errorResponse(err.Error()))
		return
	}
	writeJSON(w, map[string]string{"success": "true", "event_map_key": key})
}

func (s *Service) handleRegistrants(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"success": "true", "registrants": s.manager.Registrants()})
}

// handleShutdown spawns a detached worker that stops the HTTP server and
// posts event_center.stopped, matching the order the original service does
// it in: the listener stops, then the world is told it stopped.
func (s *Service) handleShutdown(w http.ResponseWriter, r *http.Request) {
	go func() {
		if s.stop != nil {
			s.stop()
		}
		s.dispatch.DefaultDispatch().PostEvent(EventCenterStopped, nil)
	}()
	writeJSON(w, responseOK)
}

func (s *Service) handleEventMaps(w http.ResponseWriter, r *http.Request) {
	channel := r.URL.Query().Get("channel")
	maps := s.manager.EventMaps(channel)

	out := make([]map[string]any, 0, len(maps))
	for _, m := range maps {
		observed := make([]int, 0, len(m.Observed))
		for idx := range m.Observed {
			observed = append(observed, idx)
		}
		out = append(out, map[string]any{
			"key":           m.Key,
			"events":        matcherNames(m.EventsToMap),
			"observed":      observed,
			"event_to_post": m.EventToPost.Name,
		})
	}

	writeJSON(w, map[string]any{"success": "true", "event_maps": out})
}

func matcherNames(matchers []eventdispatch.EventMatcher) []string {
	names := make([]string, len(matchers))
	for i, m := range matchers {
		names[i] = m.Name
	}
	return names
}

// handleRegistrantsStream upgrades to a websocket and pushes a JSON frame
// for every committed registration-table change, until the client
// disconnects (SPEC_FULL §5.10). Purely observational: it never
// participates in pub-sub dispatch.
func (s *Service) handleRegistrantsStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Warn("registrants stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	notifications := make(chan Notification, 32)
	s.manager.Subscribe(notifications)
	defer s.manager.Unsubscribe(notifications)

	for n := range notifications {
		if err := conn.WriteJSON(n); err != nil {
			return
		}
	}
}
