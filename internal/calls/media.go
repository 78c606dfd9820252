package calls

import "sync"

// Track is a local media track handle. Satisfied by pion track locals in
// production and by stubs in tests.
type Track interface {
	ID() string
	Kind() string
}

// LocalMedia owns the media tracks of one session. The camera track may be
// temporarily substituted by a screen-share track; the camera is restored on
// share-end or release, whichever comes first.
type LocalMedia struct {
	mu     sync.Mutex
	audio  Track
	camera Track
	share  Track
	closed bool
}

// NewLocalMedia creates the media owner for a session. Either track may be
// nil (voice-only calls have no camera).
func NewLocalMedia(audio, camera Track) *LocalMedia {
	return &LocalMedia{audio: audio, camera: camera}
}

// AudioTrack returns the outgoing audio track, or nil after release.
func (m *LocalMedia) AudioTrack() Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	return m.audio
}

// VideoTrack returns the currently outgoing video track: the screen-share
// track while sharing, otherwise the camera. Nil after release.
func (m *LocalMedia) VideoTrack() Track {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil
	}
	if m.share != nil {
		return m.share
	}
	return m.camera
}

// StartScreenShare substitutes the outgoing video track with the share track.
func (m *LocalMedia) StartScreenShare(share Track) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	m.share = share
}

// StopScreenShare restores the camera track.
func (m *LocalMedia) StopScreenShare() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.share = nil
}

// Release drops all track handles. Idempotent. After release the tracks are
// gone for good; a new call acquires fresh media.
func (m *LocalMedia) Release() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	m.audio = nil
	m.camera = nil
	m.share = nil
}

// Released reports whether the media has been released.
func (m *LocalMedia) Released() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.closed
}
