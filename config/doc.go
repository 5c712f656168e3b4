// Package config loads the beststories service configuration.
//
// Load reads a YAML file, applies defaults for absent fields, then applies
// environment overrides prefixed with BESTSTORIES_, and validates the result.
// Nested story settings use the BESTSTORIES_STORIES_ prefix, so
// stories.top_n is overridden by BESTSTORIES_STORIES_TOP_N.
//
// Watch reloads the file when it changes and hands each valid Config to a
// callback. A file that fails to load is logged and skipped.
package config
