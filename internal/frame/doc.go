// Package frame validates and normalizes incoming base64 PCM chunks into
// timestamped, sequence-numbered frames with estimated playout durations.
// Malformed input never produces an error, only an empty result and a warning.
package frame
