// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads Quorum's YAML configuration.
//
// Configuration comes from a single file named by either the
// QUORUM_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There is no discovery and no search path. Commands
// that can run without a file use [Default].
//
// The file may carry development, staging, and production sections
// that override base values when [Config].Environment matches.
// Production without an explicit section logs JSON at info level.
//
// Path and connection fields are expanded after loading: ${HOME},
// ${QUORUM_ROOT}, and ${VAR:-default} patterns. Environment variables
// never override a value the file sets.
package config
