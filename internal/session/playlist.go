package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"go.uber.org/ratelimit"

	"github.com/jmylchreest/radiarr/internal/broadcast"
	"github.com/jmylchreest/radiarr/internal/metrics"
	"github.com/jmylchreest/radiarr/internal/models"
	"github.com/jmylchreest/radiarr/internal/observability"
)

// drivePlaylist renders the station's audio files in upload order, starting
// after the persisted playlist cursor and wrapping around. Every track is
// transcoded to MP3 and paced to real time. A full cycle of failed tracks
// ends the session.
func (m *Manager) drivePlaylist(ctx context.Context, station *models.Station, s *activeSession) error {
	if m.store == nil || m.transcoder == nil {
		return errors.New("playlist playback is not configured")
	}

	limiter := ratelimit.New(1, ratelimit.Per(m.relay.ChunkInterval()), ratelimit.WithoutSlack)
	logger := observability.WithStation(m.logger, station.ID)
	cursor := station.PlaylistCursor
	// station may come from a cache; the cursor moves on every track
	if fresh, err := m.stations.GetByID(ctx, station.ID); err == nil && fresh != nil {
		cursor = fresh.PlaylistCursor
	}
	failures := 0

	for ctx.Err() == nil {
		file, err := m.files.NextAfter(ctx, station.ID, cursor)
		if err != nil {
			return fmt.Errorf("loading next track: %w", err)
		}
		if file == nil {
			return ErrPlaylistEmpty
		}

		title := file.DisplayName()
		ok, err := m.rows.Advance(ctx, station.ID, s.taskID, file.ID, title, m.now().UTC())
		if err != nil {
			return fmt.Errorf("advancing playlist: %w", err)
		}
		if !ok {
			return ErrOwnershipLost
		}
		s.setNowPlaying(title)
		metrics.PlaylistTracks.Inc()
		logger.Debug("playing track", slog.String("audio_file_id", file.ID.String()), slog.String("title", title))

		cursor = file.ID
		err = m.playFile(ctx, file, s, limiter)
		switch {
		case err == nil:
			failures = 0
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, broadcast.ErrTerminated), errors.Is(err, broadcast.ErrClosed):
			return err
		default:
			failures++
			observability.WithError(logger, err).Warn("playlist track failed",
				slog.String("audio_file_id", file.ID.String()))

			total, cerr := m.files.CountByStation(ctx, station.ID)
			if cerr != nil {
				return fmt.Errorf("counting audio files: %w", cerr)
			}
			if int64(failures) >= total {
				return fmt.Errorf("%w: last error: %w", ErrPlaylistFailed, err)
			}
		}
	}
	return nil
}

// playFile streams one transcoded track into the session's channel.
func (m *Manager) playFile(ctx context.Context, file *models.AudioFile, s *activeSession, limiter ratelimit.Limiter) error {
	in, err := m.store.Open(ctx, file.StorageKey)
	if err != nil {
		return fmt.Errorf("opening %s: %w", file.StorageKey, err)
	}
	defer in.Close()

	out, err := m.transcoder.Transcode(ctx, in, m.relay.Bitrate)
	if err != nil {
		return fmt.Errorf("transcoding %s: %w", file.StorageKey, err)
	}
	defer out.Close()

	return pump(ctx, out, m.relay.ChunkSize.Int(), func(chunk []byte) error {
		limiter.Take()
		_, err := s.tx.Send(chunk)
		return err
	})
}

// pump reads r in frames of size bytes and hands each to send until r is
// exhausted. Every frame is a fresh slice, since sent chunks are shared with
// receivers.
func pump(ctx context.Context, r io.Reader, size int, send func([]byte) error) error {
	for ctx.Err() == nil {
		buf := make([]byte, size)
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if serr := send(buf[:n]); serr != nil {
				return serr
			}
		}
		switch {
		case err == nil:
		case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
			return nil
		default:
			return err
		}
	}
	return ctx.Err()
}
