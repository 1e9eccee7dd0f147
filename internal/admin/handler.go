// Package admin exposes route management over HTTP. The surface is only
// reachable when the database-backed provider is active and the feature
// flag is set; every other deployment answers 403 so probing reveals
// nothing about the configuration.
package admin

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/l0p7/authgate/internal/config"
	"github.com/l0p7/authgate/internal/gate"
	"github.com/l0p7/authgate/internal/policy"
	"github.com/l0p7/authgate/internal/provider"
)

// Handler routes /admin/* requests.
type Handler struct {
	provider  provider.Provider
	available bool
	auths     []authenticator
	logger    *slog.Logger
}

// NewHandler builds the admin surface. available should be true only for
// a database-backed provider with the admin flag enabled.
func NewHandler(logger *slog.Logger, p provider.Provider, cfg config.AdminConfig, resolver gate.SessionResolver, available bool) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	var auths []authenticator
	if cfg.Token != "" {
		auths = append(auths, bearerAuth{token: cfg.Token})
	}
	if roles := cfg.Roles(); len(roles) > 0 && resolver != nil {
		auths = append(auths, sessionAuth{
			resolver:     resolver,
			cookieName:   cfg.SessionCookie,
			allowedRoles: roles,
		})
	}
	return &Handler{
		provider:  p,
		available: available,
		auths:     auths,
		logger:    logger.With(slog.String("agent", "admin")),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.available {
		writeError(w, http.StatusForbidden, "admin api disabled")
		return
	}
	if !h.authorize(w, r) {
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/admin")
	rest = strings.TrimSuffix(rest, "/")
	switch {
	case rest == "/health":
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}
		if _, err := h.provider.Current(r.Context()); err != nil {
			h.logger.Error("configuration unavailable", slog.Any("error", err))
			writeError(w, http.StatusServiceUnavailable, "configuration unavailable")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	case rest == "/routes":
		h.serveCollection(w, r)
	case strings.HasPrefix(rest, "/routes/"):
		h.serveRoute(w, r, strings.TrimPrefix(rest, "/routes/"))
	default:
		writeError(w, http.StatusNotFound, "not found")
	}
}

func (h *Handler) serveCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		routes, err := h.provider.ListRoutes(r.Context())
		if err != nil {
			h.writeProviderError(w, err)
			return
		}
		if routes == nil {
			routes = []policy.RouteDef{}
		}
		writeJSON(w, http.StatusOK, routes)
	case http.MethodPost:
		route, ok := h.decodeRoute(w, r, false)
		if !ok {
			return
		}
		created, err := h.provider.CreateRoute(r.Context(), route)
		if err != nil {
			h.writeProviderError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (h *Handler) serveRoute(w http.ResponseWriter, r *http.Request, id string) {
	if !validRouteID(id) {
		writeError(w, http.StatusBadRequest, "invalid route id")
		return
	}
	switch r.Method {
	case http.MethodGet:
		route, err := h.provider.GetRoute(r.Context(), id)
		if err != nil {
			h.writeProviderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, route)
	case http.MethodPut:
		route, ok := h.decodeRoute(w, r, true)
		if !ok {
			return
		}
		route.ID = id
		updated, err := h.provider.UpdateRoute(r.Context(), route)
		if err != nil {
			h.writeProviderError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, updated)
	case http.MethodDelete:
		if err := h.provider.DeleteRoute(r.Context(), id); err != nil {
			h.writeProviderError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// decodeRoute parses and validates a route body. Unknown fields anywhere
// in the document, including inside require, are rejected so typos do not
// silently weaken a requirement.
func (h *Handler) decodeRoute(w http.ResponseWriter, r *http.Request, update bool) (policy.RouteDef, bool) {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	var route policy.RouteDef
	if err := decoder.Decode(&route); err != nil {
		writeError(w, http.StatusBadRequest, "invalid route document: "+err.Error())
		return policy.RouteDef{}, false
	}
	if !update && route.ID != "" {
		writeError(w, http.StatusBadRequest, "route id is assigned by the server")
		return policy.RouteDef{}, false
	}
	if err := route.Validate(); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return policy.RouteDef{}, false
	}
	if route.Require.Empty() {
		writeError(w, http.StatusBadRequest, "require block must set at least one field")
		return policy.RouteDef{}, false
	}
	return route, true
}

func (h *Handler) writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, provider.ErrNotFound):
		writeError(w, http.StatusNotFound, "route not found")
	case errors.Is(err, provider.ErrNotSupported):
		writeError(w, http.StatusForbidden, "route management not supported by this backend")
	case errors.Is(err, provider.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, "configuration unavailable")
	default:
		h.logger.Error("admin operation failed", slog.Any("error", err))
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func validRouteID(id string) bool {
	if id == "" || strings.Contains(id, "/") {
		return false
	}
	_, err := strconv.ParseInt(id, 10, 64)
	return err == nil
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}
