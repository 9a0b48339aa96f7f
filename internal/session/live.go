package session

import (
	"context"
	"errors"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/models"
)

// LiveSource describes a connected source encoder.
type LiveSource struct {
	RemoteAddr  string
	ContentType string
	UserAgent   string
}

// LiveSession is the handle a source connection feeds audio through.
type LiveSession struct {
	m *Manager
	s *activeSession
}

// StartLive makes the station live. A running playlist or relay session of
// the station is stopped first; a running live session yields
// ErrLiveStreaming. ErrOwnedElsewhere means another deployment holds the
// station's lease.
func (m *Manager) StartLive(ctx context.Context, station *models.Station, src LiveSource) (*LiveSession, error) {
	if m.shutting.Load() {
		return nil, ErrShuttingDown
	}
	unlock := m.lockStation(station.ID)
	defer unlock()

	if s, ok := m.active.Load(station.ID); ok {
		if s.kind == models.SessionKindLive {
			return nil, ErrLiveStreaming
		}
		if err := m.stop(ctx, s); err != nil {
			return nil, err
		}
	}

	s, err := m.start(station, models.SessionKindLive, &src)
	if err != nil {
		if errors.Is(err, broadcast.ErrAlreadyActive) {
			return nil, ErrLiveStreaming
		}
		return nil, err
	}
	return &LiveSession{m: m, s: s}, nil
}

// StationID returns the live station.
func (l *LiveSession) StationID() string {
	return l.s.stationID
}

// TaskID returns the lease task id of the session.
func (l *LiveSession) TaskID() string {
	return l.s.taskID
}

// ContentType returns the content type announced to listeners.
func (l *LiveSession) ContentType() string {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	return l.s.contentType
}

// Send broadcasts one chunk. It returns broadcast.ErrTerminated after the
// station was terminated and broadcast.ErrClosed once the session ended.
func (l *LiveSession) Send(chunk []byte) (int, error) {
	return l.s.tx.Send(chunk)
}

// Done is closed once the session has been torn down.
func (l *LiveSession) Done() <-chan struct{} {
	return l.s.done
}

// Close ends the live session and waits for its teardown. The station's
// background session is derived again afterwards unless it was terminated.
func (l *LiveSession) Close() {
	l.s.cancel()
	<-l.s.done
}
