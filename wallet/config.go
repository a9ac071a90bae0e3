// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package wallet composes the RPA, script, shard, store, funding, and
// scan packages into the four high-level operations a front-end
// drives: send, deposit, import, withdraw, per spec.md §4.10.
package wallet

import (
	"os"
	"strconv"
	"strings"

	"github.com/btcsuite/btclog"

	"github.com/bastiancarmy/bch-stealth-pool/funding"
	"github.com/bastiancarmy/bch-stealth-pool/shard"
)

// log is the package-level logger every orchestrator writes through.
// Disabled by default; a front-end wires a real backend with UseLogger.
var log = btclog.Disabled

// UseLogger sets the package-level logger used by every wallet
// operation.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// Config collects the env-derived knobs spec.md §9 "Global state"
// says must be read once at startup and passed explicitly into every
// orchestrator, rather than read ad hoc from the environment mid-run.
type Config struct {
	// AllowBaseImport unlocks depositMode=base, per spec.md §4.10/§9
	// (BCH_STEALTH_ALLOW_BASE_IMPORT=1).
	AllowBaseImport bool

	// CategoryMode forces a single category-mode reshaping instead of
	// walking shard.FallbackOrder, per spec.md §6/§9
	// (BCH_STEALTH_CATEGORY_MODE ∈ {raw, reverse, <unset>}). nil means
	// unset: import tries the full fallback order, and withdraw uses
	// shard.CategoryModeDefault.
	CategoryMode *shard.CategoryMode

	// FundingPreference is the funding selector's preference order,
	// per spec.md §6/§9 (BCH_STEALTH_FUNDING_PREFER ∈
	// {base-first, stealth-first}).
	FundingPreference []funding.Preference

	// MaxRoleIndex bounds the scan engine's derivation-index search,
	// per spec.md §6/§9 (BCH_STEALTH_MAX_ROLE_INDEX, default 2048, cap
	// 65536). Zero selects scan's own default.
	MaxRoleIndex uint32

	// Debug enables the diagnostic-only BCH_STEALTH_DEBUG_* class of
	// log lines, per spec.md §6/§9.
	Debug bool
}

// FromEnv reads every BCH_STEALTH_* knob once, per spec.md §9: "env
// reading happens once at startup."
func FromEnv() Config {
	cfg := Config{
		FundingPreference: funding.DefaultPreferenceOrder,
	}

	if v := os.Getenv("BCH_STEALTH_ALLOW_BASE_IMPORT"); v == "1" || strings.EqualFold(v, "true") {
		cfg.AllowBaseImport = true
	}

	switch strings.ToLower(os.Getenv("BCH_STEALTH_CATEGORY_MODE")) {
	case "raw":
		m := shard.CategoryModeRaw
		cfg.CategoryMode = &m
	case "reverse":
		m := shard.CategoryModeReverse
		cfg.CategoryMode = &m
	case "":
		// unset: leave nil, callers fall back to shard.FallbackOrder
		// or shard.CategoryModeDefault.
	default:
		log.Warnf("ignoring unrecognized BCH_STEALTH_CATEGORY_MODE %q", os.Getenv("BCH_STEALTH_CATEGORY_MODE"))
	}

	switch os.Getenv("BCH_STEALTH_FUNDING_PREFER") {
	case "stealth-first":
		cfg.FundingPreference = funding.ReversedPreferenceOrder
	case "base-first", "":
		cfg.FundingPreference = funding.DefaultPreferenceOrder
	default:
		log.Warnf("ignoring unrecognized BCH_STEALTH_FUNDING_PREFER %q", os.Getenv("BCH_STEALTH_FUNDING_PREFER"))
	}

	if v := os.Getenv("BCH_STEALTH_MAX_ROLE_INDEX"); v != "" {
		n, err := strconv.ParseUint(v, 10, 32)
		if err != nil {
			log.Warnf("ignoring invalid BCH_STEALTH_MAX_ROLE_INDEX %q: %v", v, err)
		} else {
			cfg.MaxRoleIndex = uint32(n)
		}
	}

	for _, kv := range os.Environ() {
		if strings.HasPrefix(kv, "BCH_STEALTH_DEBUG_") {
			cfg.Debug = true
			break
		}
	}

	return cfg
}

// resolveCategoryMode applies the configured override, or
// shard.CategoryModeDefault when unset.
func resolveCategoryMode(forced *shard.CategoryMode) shard.CategoryMode {
	if forced != nil {
		return *forced
	}
	return shard.CategoryModeDefault
}

// categoryModesToTry returns the single forced mode when configured,
// or the full spec.md §4.10 fallback sequence otherwise.
func categoryModesToTry(forced *shard.CategoryMode) []shard.CategoryMode {
	if forced != nil {
		return []shard.CategoryMode{*forced}
	}
	return shard.FallbackOrder
}
