// Package protocol defines the JSON wire format for stream connections.
// It handles envelope parsing and validation for audio chunks, network
// condition reports, and control messages.
package protocol
