// Package server implements the WebSocket ingest server for audio stream
// connections and the HTTP API endpoints. It routes incoming chunks to
// stream sessions and provides monitoring/management endpoints.
package server
