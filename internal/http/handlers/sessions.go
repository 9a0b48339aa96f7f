package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/observability"
	"github.com/jmylchreest/radiarr/internal/session"
)

// SessionController is the part of *session.Manager the control plane uses.
type SessionController interface {
	List(ctx context.Context) ([]*session.Info, error)
	Get(ctx context.Context, stationID string) (*session.Info, error)
	Restart(ctx context.Context, stationID string) (*session.Info, error)
	Terminate(ctx context.Context, stationID string) error
	StationChanged(ctx context.Context, stationID string) error
}

// ChannelLister reports open broadcast channels; *broadcast.Registry implements it.
type ChannelLister interface {
	Stats() []broadcast.ChannelStats
}

// SessionHandler exposes media session control.
type SessionHandler struct {
	sessions SessionController
	channels ChannelLister
}

// NewSessionHandler creates a session handler.
func NewSessionHandler(sessions SessionController, channels ChannelLister) *SessionHandler {
	return &SessionHandler{sessions: sessions, channels: channels}
}

// Register registers the session routes with the API.
func (h *SessionHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "listSessions",
		Method:      "GET",
		Path:        "/api/v1/sessions",
		Summary:     "List media sessions",
		Description: "Lists the live, playlist and relay sessions of every deployment",
		Tags:        []string{"Sessions"},
	}, h.List)

	huma.Register(api, huma.Operation{
		OperationID: "getSession",
		Method:      "GET",
		Path:        "/api/v1/sessions/{stationId}",
		Summary:     "Get a station's media session",
		Tags:        []string{"Sessions"},
	}, h.Get)

	huma.Register(api, huma.Operation{
		OperationID: "restartSession",
		Method:      "POST",
		Path:        "/api/v1/stations/{stationId}/restart",
		Summary:     "Restart a station's background session",
		Description: "Tears down the playlist or relay session and starts the one the station's configuration calls for. Refused while a live source is connected.",
		Tags:        []string{"Sessions"},
	}, h.Restart)

	huma.Register(api, huma.Operation{
		OperationID:   "terminateSession",
		Method:        "DELETE",
		Path:          "/api/v1/stations/{stationId}/session",
		Summary:       "Terminate a station's session",
		Description:   "Stops the session run by this deployment, disconnecting a live source if one is connected",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.Terminate)

	huma.Register(api, huma.Operation{
		OperationID:   "invalidateStation",
		Method:        "POST",
		Path:          "/api/v1/stations/{stationId}/invalidate",
		Summary:       "Reload a station",
		Description:   "Drops the cached station and applies changed relay or playlist configuration to its session",
		Tags:          []string{"Sessions"},
		DefaultStatus: http.StatusNoContent,
	}, h.Invalidate)

	huma.Register(api, huma.Operation{
		OperationID: "listChannels",
		Method:      "GET",
		Path:        "/api/v1/channels",
		Summary:     "List broadcast channels",
		Description: "Lists the channels open on this deployment with listener counts",
		Tags:        []string{"Sessions"},
	}, h.ListChannels)
}

// List returns every session.
func (h *SessionHandler) List(ctx context.Context, _ *struct{}) (*ListSessionsOutput, error) {
	infos, err := h.sessions.List(ctx)
	if err != nil {
		return nil, sessionError(ctx, err)
	}
	out := &ListSessionsOutput{}
	out.Body.Sessions = infos
	return out, nil
}

// Get returns one station's session.
func (h *SessionHandler) Get(ctx context.Context, input *StationIDInput) (*SessionOutput, error) {
	info, err := h.sessions.Get(ctx, input.StationID)
	if err != nil {
		return nil, sessionError(ctx, err)
	}
	return &SessionOutput{Body: info}, nil
}

// Restart restarts a station's background session.
func (h *SessionHandler) Restart(ctx context.Context, input *StationIDInput) (*RestartOutput, error) {
	info, err := h.sessions.Restart(ctx, input.StationID)
	if err != nil {
		return nil, sessionError(ctx, err)
	}
	out := &RestartOutput{}
	out.Body.Started = info != nil
	out.Body.Session = info
	return out, nil
}

// Terminate stops a station's session.
func (h *SessionHandler) Terminate(ctx context.Context, input *StationIDInput) (*NoContentOutput, error) {
	if err := h.sessions.Terminate(ctx, input.StationID); err != nil {
		return nil, sessionError(ctx, err)
	}
	return &NoContentOutput{}, nil
}

// Invalidate reloads a station.
func (h *SessionHandler) Invalidate(ctx context.Context, input *StationIDInput) (*NoContentOutput, error) {
	if err := h.sessions.StationChanged(ctx, input.StationID); err != nil {
		return nil, sessionError(ctx, err)
	}
	return &NoContentOutput{}, nil
}

// ListChannels returns the open broadcast channels.
func (h *SessionHandler) ListChannels(_ context.Context, _ *struct{}) (*ListChannelsOutput, error) {
	out := &ListChannelsOutput{}
	out.Body.Channels = h.channels.Stats()
	if out.Body.Channels == nil {
		out.Body.Channels = []broadcast.ChannelStats{}
	}
	return out, nil
}

func sessionError(ctx context.Context, err error) error {
	switch {
	case errors.Is(err, session.ErrNoSession):
		return huma.Error404NotFound("no active session for station")
	case errors.Is(err, session.ErrStationNotFound):
		return huma.Error404NotFound("station not found")
	case errors.Is(err, session.ErrLiveStreaming):
		return huma.Error409Conflict("station is streaming from a live source")
	case errors.Is(err, session.ErrOwnedElsewhere):
		return huma.Error409Conflict("station is owned by another deployment")
	case errors.Is(err, session.ErrShuttingDown):
		return huma.Error503ServiceUnavailable("server is shutting down")
	default:
		observability.LoggerFromContext(ctx).Error("session request failed", slog.String("error", err.Error()))
		return huma.Error500InternalServerError("session request failed", err)
	}
}
