// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package store implements the wallet's persisted-state envelope: a
// BigInt-safe JSON document, legacy-field merging on load, idempotent
// upserts keyed by outpoint or shard index, and a cross-profile
// refuse-to-write guard. The actual atomic file write and exclusive
// lock are external collaborators the caller supplies through the
// AtomicWriter and Locker interfaces.
package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/bastiancarmy/bch-stealth-pool/rpa"
	"github.com/bastiancarmy/bch-stealth-pool/shard"
	"github.com/bastiancarmy/bch-stealth-pool/walleterr"
)

// sats53Threshold is 2^53, the largest integer a JSON number round-trips
// losslessly through an IEEE-754 double. Values above it are encoded as
// decimal strings, per spec.md §4.7/§6.
const sats53Threshold = uint64(1) << 53

// Sats is a satoshi amount with BigInt-safe JSON encoding: values at or
// below 2^53 marshal as a bare JSON number, larger values as a quoted
// decimal string. UnmarshalJSON accepts either form.
type Sats uint64

// MarshalJSON implements json.Marshaler.
func (s Sats) MarshalJSON() ([]byte, error) {
	if uint64(s) > sats53Threshold {
		return []byte(`"` + strconv.FormatUint(uint64(s), 10) + `"`), nil
	}
	return []byte(strconv.FormatUint(uint64(s), 10)), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (s *Sats) UnmarshalJSON(data []byte) error {
	trimmed := strings.Trim(string(data), `"`)
	v, err := strconv.ParseUint(trimmed, 10, 64)
	if err != nil {
		return fmt.Errorf("store: invalid sats value %q: %w", trimmed, err)
	}
	*s = Sats(v)
	return nil
}

// RpaContextJSON is the hex-encoded, JSON-friendly mirror of
// rpa.RpaContext, stored alongside every stealth UTXO and deposit
// record per spec.md §3/§9 ("Stealth-UTXO records and deposit records
// both carry an RpaContext by value").
type RpaContextJSON struct {
	SenderPub33Hex string `json:"senderPub33Hex"`
	PrevoutTxidHex string `json:"prevoutTxidHex"`
	PrevoutN       uint32 `json:"prevoutN"`
	Index          uint32 `json:"index"`
}

// RpaContextToJSON converts a derivation-time RpaContext to its stored
// hex-encoded form.
func RpaContextToJSON(c rpa.RpaContext) RpaContextJSON {
	return RpaContextJSON{
		SenderPub33Hex: hex.EncodeToString(c.SenderPub33[:]),
		PrevoutTxidHex: c.PrevoutTxidHex,
		PrevoutN:       c.PrevoutN,
		Index:          c.Index,
	}
}

// ToRpaContext recovers the typed rpa.RpaContext from its stored form.
func (j RpaContextJSON) ToRpaContext() (rpa.RpaContext, error) {
	var ctx rpa.RpaContext
	raw, err := hex.DecodeString(j.SenderPub33Hex)
	if err != nil {
		return ctx, walleterr.NewValidationError("senderPub33Hex", "not valid hex: "+err.Error())
	}
	if len(raw) != 33 {
		return ctx, walleterr.NewValidationError("senderPub33Hex", fmt.Sprintf("expected 33 bytes, got %d", len(raw)))
	}
	copy(ctx.SenderPub33[:], raw)
	ctx.PrevoutTxidHex = j.PrevoutTxidHex
	ctx.PrevoutN = j.PrevoutN
	ctx.Index = j.Index
	return ctx, nil
}

// StealthUtxoRecord is one discovered stealth output, per spec.md §3.
type StealthUtxoRecord struct {
	TxidHex      string         `json:"txidHex"`
	Vout         uint32         `json:"vout"`
	ValueSats    Sats           `json:"valueSats"`
	Hash160Hex   string         `json:"hash160Hex"`
	RpaContext   RpaContextJSON `json:"rpaContext"`
	Purpose      string         `json:"purpose,omitempty"`
	SpentTxidHex string         `json:"spentTxidHex,omitempty"`
	SpentAt      string         `json:"spentAt,omitempty"`
}

func (r StealthUtxoRecord) outpointKey() string {
	return r.TxidHex + ":" + strconv.FormatUint(uint64(r.Vout), 10)
}

// DepositRecord is one self-send deposit awaiting import, per spec.md §3.
type DepositRecord struct {
	TxidHex       string         `json:"txidHex"`
	Vout          uint32         `json:"vout"`
	ValueSats     Sats           `json:"valueSats"`
	RpaContext    RpaContextJSON `json:"rpaContext"`
	ImportTxidHex string         `json:"importTxidHex,omitempty"`
	CreatedAt     string         `json:"createdAt,omitempty"`
}

func (d DepositRecord) outpointKey() string {
	return d.TxidHex + ":" + strconv.FormatUint(uint64(d.Vout), 10)
}

// WithdrawalRecord is one completed withdrawal, per spec.md §3.
type WithdrawalRecord struct {
	TxidHex    string `json:"txidHex"`
	ShardIndex uint16 `json:"shardIndex"`
	AmountSats Sats   `json:"amountSats"`
	DestHex    string `json:"destHex,omitempty"`
	CreatedAt  string `json:"createdAt,omitempty"`
}

// RestoreHints carries the owner-profile hint used by the cross-profile
// refuse-to-write guard, per spec.md §4.7.
type RestoreHints struct {
	OwnerTag string `json:"ownerTag,omitempty"`
}

// State is the canonical pool state, embedding shard.PoolState and
// adding the wallet-level record arrays and pointers spec.md §6 names:
// "PoolState additionally carries stealthUtxos[], deposits[],
// withdrawals[], lastDeposit?, lastImport?, lastWithdraw?, and
// restoreHints.ownerTag."
type State struct {
	shard.PoolState
	StealthUtxos []StealthUtxoRecord `json:"stealthUtxos"`
	Deposits     []DepositRecord     `json:"deposits"`
	Withdrawals  []WithdrawalRecord  `json:"withdrawals"`
	LastDeposit  string              `json:"lastDeposit,omitempty"`
	LastImport   string              `json:"lastImport,omitempty"`
	LastWithdraw string              `json:"lastWithdraw,omitempty"`
	RestoreHints RestoreHints        `json:"restoreHints"`
}

// Pool wraps State under the "pool" key.
type Pool struct {
	State State `json:"state"`
}

// Data wraps Pool under the "data" key.
type Data struct {
	Pool Pool `json:"pool"`
}

// Envelope is the top-level persisted document, per spec.md §6:
// `{ schemaVersion:1, updatedAt, createdAt, data: { pool: { state } } }`.
type Envelope struct {
	SchemaVersion int    `json:"schemaVersion"`
	UpdatedAt     string `json:"updatedAt"`
	CreatedAt     string `json:"createdAt"`
	Data          Data   `json:"data"`
	// OwnerTag/Owner are the legacy top-level cross-profile hints; on
	// a conformant envelope this lives at RestoreHints.OwnerTag
	// instead, but older envelopes may carry it here.
	OwnerTag string `json:"ownerTag,omitempty"`
	Owner    string `json:"owner,omitempty"`
}

// legacyShape captures the three legacy locations a stealth-UTXO array
// may have been written to in an older schema version, per spec.md
// §4.7/§6: top-level "stealthUtxos", top-level "pool.utxos", and the
// current canonical "data.pool.state.stealthUtxos" path (kept here too
// so every source participates in the same first-seen-wins merge).
type legacyShape struct {
	StealthUtxos json.RawMessage `json:"stealthUtxos"`
	Pool         struct {
		Utxos json.RawMessage `json:"utxos"`
	} `json:"pool"`
	Data struct {
		Pool struct {
			State struct {
				StealthUtxos json.RawMessage `json:"stealthUtxos"`
			} `json:"state"`
		} `json:"pool"`
	} `json:"data"`
}

func decodeStealthUtxoArray(raw json.RawMessage) ([]StealthUtxoRecord, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var out []StealthUtxoRecord
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("store: decode legacy stealthUtxos array: %w", err)
	}
	return out, nil
}

// mergeLegacyStealthUtxos merges the three legacy/canonical sources by
// outpoint, first-seen wins, in the priority order spec.md §4.7 lists
// them: top-level, then pool.utxos, then the canonical path.
func mergeLegacyStealthUtxos(topLevel, poolUtxos, canonical []StealthUtxoRecord) []StealthUtxoRecord {
	seen := make(map[string]bool)
	var merged []StealthUtxoRecord
	for _, group := range [][]StealthUtxoRecord{topLevel, poolUtxos, canonical} {
		for _, rec := range group {
			key := rec.outpointKey()
			if seen[key] {
				continue
			}
			seen[key] = true
			merged = append(merged, rec)
		}
	}
	return merged
}

// Load decodes a persisted envelope, merging any legacy stealth-UTXO
// shapes into the canonical array per spec.md §4.7.
func Load(r io.Reader) (*Envelope, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("store: read: %w", err)
	}

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("store: decode envelope: %w", err)
	}

	var legacy legacyShape
	if err := json.Unmarshal(raw, &legacy); err != nil {
		return nil, fmt.Errorf("store: decode legacy shapes: %w", err)
	}

	topLevel, err := decodeStealthUtxoArray(legacy.StealthUtxos)
	if err != nil {
		return nil, err
	}
	poolUtxos, err := decodeStealthUtxoArray(legacy.Pool.Utxos)
	if err != nil {
		return nil, err
	}

	env.Data.Pool.State.StealthUtxos = mergeLegacyStealthUtxos(topLevel, poolUtxos, env.Data.Pool.State.StealthUtxos)
	return &env, nil
}

// Save encodes the envelope as indented, BigInt-safe JSON. The legacy
// top-level fields are never re-emitted, since Envelope has no struct
// field for them; per spec.md §6 they are "deleted on the next write."
func Save(w io.Writer, env *Envelope) error {
	data, err := json.MarshalIndent(env, "", "  ")
	if err != nil {
		return fmt.Errorf("store: encode envelope: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("store: write: %w", err)
	}
	return nil
}

// UpsertStealthUtxo idempotently inserts or replaces a record keyed on
// (txid, vout), per spec.md §4.7.
func UpsertStealthUtxo(env *Envelope, rec StealthUtxoRecord) {
	list := env.Data.Pool.State.StealthUtxos
	key := rec.outpointKey()
	for i := range list {
		if list[i].outpointKey() == key {
			list[i] = rec
			return
		}
	}
	env.Data.Pool.State.StealthUtxos = append(list, rec)
}

// UpsertDeposit idempotently inserts or replaces a record keyed on
// (txid, vout).
func UpsertDeposit(env *Envelope, rec DepositRecord) {
	list := env.Data.Pool.State.Deposits
	key := rec.outpointKey()
	for i := range list {
		if list[i].outpointKey() == key {
			list[i] = rec
			return
		}
	}
	env.Data.Pool.State.Deposits = append(list, rec)
}

// UpsertShardPointer idempotently inserts or replaces a shard pointer
// keyed on its index, per spec.md §4.7.
func UpsertShardPointer(env *Envelope, ptr shard.ShardPointer) {
	list := env.Data.Pool.State.Shards
	for i := range list {
		if list[i].Index == ptr.Index {
			list[i] = ptr
			return
		}
	}
	env.Data.Pool.State.Shards = append(list, ptr)
}

// MarkStealthSpent sets the spent marker and timestamp on the record
// matching (txidHex, vout); it is a no-op (returns false) if the record
// is absent, per spec.md §4.7.
func MarkStealthSpent(env *Envelope, txidHex string, vout uint32, spendingTxidHex string, spentAt string) bool {
	key := txidHex + ":" + strconv.FormatUint(uint64(vout), 10)
	list := env.Data.Pool.State.StealthUtxos
	for i := range list {
		if list[i].outpointKey() == key {
			list[i].SpentTxidHex = spendingTxidHex
			list[i].SpentAt = spentAt
			return true
		}
	}
	return false
}

// ownerHint returns the first non-empty owner hint across the legacy
// top-level fields and the canonical restoreHints location.
func ownerHint(env *Envelope) string {
	if env.OwnerTag != "" {
		return env.OwnerTag
	}
	if env.Owner != "" {
		return env.Owner
	}
	return env.Data.Pool.State.RestoreHints.OwnerTag
}

// CheckProfileMatch enforces the cross-profile refuse-to-write guard,
// per spec.md §4.7: "if the envelope carries an ownerTag/owner hint
// that disagrees with the caller's profile, any write operation fails."
func CheckProfileMatch(env *Envelope, callerProfile string) error {
	hint := ownerHint(env)
	if hint != "" && hint != callerProfile {
		return walleterr.NewPolicyViolation("cross-profile-write",
			fmt.Sprintf("envelope owner hint %q disagrees with caller profile %q", hint, callerProfile))
	}
	return nil
}

// AtomicWriter is implemented by the external front-end responsible for
// the temp-file-plus-rename write discipline spec.md §1 scopes out of
// this package.
type AtomicWriter interface {
	WriteAtomic(data []byte) error
}

// Locker is implemented by the external front-end responsible for
// holding an exclusive lock (file lock or equivalent) for the duration
// of a command, per spec.md §5.
type Locker interface {
	Lock(ctx context.Context) error
	Unlock() error
}
