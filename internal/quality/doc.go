// Package quality observes frame arrival timing and buffer depth to estimate
// network jitter, classify buffer health, and recommend buffer-size
// adjustments. The monitor keeps bounded history and never returns errors.
package quality
