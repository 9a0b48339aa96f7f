package session

import "errors"

var (
	// ErrLiveStreaming is returned when a live source is connected and the
	// requested operation would interrupt it.
	ErrLiveStreaming = errors.New("station is live streaming")
	// ErrOwnedElsewhere is returned when another deployment holds the
	// station's ownership lease.
	ErrOwnedElsewhere = errors.New("station is owned by another deployment")
	// ErrNoSession is returned when the station has no running session.
	ErrNoSession = errors.New("station has no media session")
	// ErrStationNotFound is returned for unknown station ids.
	ErrStationNotFound = errors.New("station not found")
	// ErrShuttingDown is returned once Shutdown has been called.
	ErrShuttingDown = errors.New("session manager is shutting down")

	// ErrOwnershipLost ends a session whose lease was taken over.
	ErrOwnershipLost = errors.New("station ownership lost")
	// ErrPlaylistEmpty ends a playlist session with no audio files left.
	ErrPlaylistEmpty = errors.New("playlist is empty")
	// ErrPlaylistFailed ends a playlist session after a full cycle of failed tracks.
	ErrPlaylistFailed = errors.New("every playlist track failed")
	// ErrUpstreamEnded ends a relay session whose upstream closed the stream.
	ErrUpstreamEnded = errors.New("relay upstream ended")
)
