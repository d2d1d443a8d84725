// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides configuration loading for procbridge.
//
// Configuration is loaded from a single file specified by either the
// PROCBRIDGE_CONFIG environment variable (via [Load]) or a --config
// flag (via [LoadFile]). There are no fallbacks and no file search.
//
// Files ending in .json or .jsonc are stripped of comments and
// trailing commas with tidwall/jsonc and decoded with the same yaml
// tags as YAML files, since JSON is a subset of YAML. Durations are
// written as Go duration strings ("2s", "500ms").
//
// The file may contain environment-specific sections (development,
// production) that override base values when [Config].Environment
// matches. Production defaults are quieter: console color is disabled
// and signpost tracing is off unless the production section says
// otherwise.
//
// ${HOME}, ${XDG_RUNTIME_DIR}, and ${VAR:-default} patterns are
// expanded in path fields after loading.
//
// [Config.Validate] reports every invalid field at once.
//
// This package depends on no other procbridge packages.
package config
