// Package config provides configuration loading and validation for the
// playout audio service. It handles YAML-based configuration with per-section
// validation and exposes mapping helpers onto the playout and adaptive layers.
package config
