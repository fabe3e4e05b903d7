// Package config loads codesearch settings with viper.
//
// Values come from, in increasing precedence: built-in defaults, a YAML file
// (an explicit path, or config.yaml under .codesearch/ in the working
// directory or the home directory) and CODESEARCH_* environment variables,
// where nested keys use underscores: index.max_files is
// CODESEARCH_INDEX_MAX_FILES. The helpers on Config translate the loaded
// values into the per-component configuration structs.
package config
