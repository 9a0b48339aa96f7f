package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jmylchreest/radiarr/internal/version"
)

// driveRelay pulls the station's relay URL and rebroadcasts the body. The
// session ends with the upstream; the reconcile loop starts it again later.
func (m *Manager) driveRelay(ctx context.Context, s *activeSession) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.relayURL, nil)
	if err != nil {
		return fmt.Errorf("creating relay request: %w", err)
	}
	userAgent := m.relay.UserAgent
	if userAgent == "" {
		userAgent = version.UserAgent()
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "audio/*, */*")

	resp, err := m.client.Do(req)
	if err != nil {
		return fmt.Errorf("connecting to relay: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	if ct := resp.Header.Get("Content-Type"); ct != "" {
		s.setContentType(ct)
		if err := m.rows.SetContentType(ctx, s.stationID, s.taskID, ct); err != nil && ctx.Err() == nil {
			m.logger.Warn("recording relay content type failed",
				slog.String("station_id", s.stationID), slog.String("error", err.Error()))
		}
	}
	m.logger.Info("relay connected",
		slog.String("station_id", s.stationID),
		slog.String("content_type", resp.Header.Get("Content-Type")),
	)

	err = pump(ctx, resp.Body, m.relay.ChunkSize.Int(), func(chunk []byte) error {
		_, err := s.tx.Send(chunk)
		return err
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("reading relay: %w", err)
	}
	if ctx.Err() != nil {
		return nil
	}
	return ErrUpstreamEnded
}
