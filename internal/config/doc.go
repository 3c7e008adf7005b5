// Package config loads, normalizes, and validates deeplinker configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the DEEPLINKER_API_TOKEN
// environment fallback. Values here are the lowest layer of the effective
// processing parameters: settings records stored in the registry override
// them, and per-upload options override both.
package config
