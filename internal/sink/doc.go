// Package sink provides playback sink implementations. A sink accepts one
// frame's base64 PCM payload and must return promptly; actual output
// completes asynchronously on the sink's own worker.
package sink
