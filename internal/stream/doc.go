// Package stream manages the lifecycle of audio stream sessions. Each
// session owns an adaptive buffering controller and a playback sink; the
// manager tracks activity and reaps idle sessions.
package stream
