// Package playout implements the buffered playback engine: a FIFO of parsed
// frames drained by a drift-corrected pacing loop, with silence injection on
// underrun and oldest-frame eviction on overrun.
package playout
