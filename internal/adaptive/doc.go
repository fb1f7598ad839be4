// Package adaptive decides per stream whether audio chunks are routed
// through a playout buffer or handed straight to the direct-play sink, and
// switches between the two as observed network conditions change.
package adaptive
