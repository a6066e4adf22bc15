// Package config loads, normalizes, and validates vert configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// VERT_FFMPEG and VERT_FFPROBE. The Config type centralizes the tool
// locations, pipeline tuning, and daemon settings the CLI and daemon need.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
