// Copyright (c) 2025 Shell Reserve developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package chainrpc names the external chain-oracle boundary the wallet
// core consumes: nine Electrum/Fulcrum-style RPC methods plus a
// tolerant response decoder. No concrete client is implemented here —
// spec.md §1 scopes the transport itself out — this package is only
// the typed interface and request/response shapes the core calls
// through.
package chainrpc

import "context"

// HeaderTip is the chain tip reported by headers.subscribe/get_tip.
type HeaderTip struct {
	Height int64  `json:"height"`
	HexHdr string `json:"hex"`
}

// HistoryEntry is one entry in a scripthash or RPA history response.
type HistoryEntry struct {
	TxidHex string `json:"tx_hash"`
	Height  int64  `json:"height"`
}

// UnspentEntry is one entry in a scripthash.listunspent response.
type UnspentEntry struct {
	TxidHex   string `json:"tx_hash"`
	Vout      uint32 `json:"tx_pos"`
	ValueSats uint64 `json:"value"`
	Height    int64  `json:"height"`
}

// TransactionGetRequest is the request shape for transaction.get.
type TransactionGetRequest struct {
	TxidHex string
	Verbose bool
}

// TransactionGetResponse is the tolerant response shape for
// transaction.get: either a bare hex string (Verbose=false) or a
// verbose object carrying a "hex" field plus confirmation data.
type TransactionGetResponse struct {
	HexRaw        string `json:"hex"`
	Confirmations int64  `json:"confirmations"`
}

// BroadcastResponse is the response shape for transaction.broadcast.
type BroadcastResponse struct {
	TxidHex string `json:"txid"`
}

// FeeEstimate is the response shape for estimatefee: satoshis per byte.
type FeeEstimate struct {
	SatsPerByte float64 `json:"satsPerByte"`
}

// Oracle is the external chain-oracle boundary the wallet core calls
// through, per spec.md §6. Every method takes a context.Context first
// so the caller can cancel any suspended RPC, per spec.md §5/§9.
type Oracle interface {
	// HeadersSubscribe corresponds to blockchain.headers.subscribe.
	HeadersSubscribe(ctx context.Context) (HeaderTip, error)
	// HeadersGetTip corresponds to blockchain.headers.get_tip.
	HeadersGetTip(ctx context.Context) (HeaderTip, error)
	// ScripthashGetHistory corresponds to blockchain.scripthash.get_history.
	ScripthashGetHistory(ctx context.Context, scripthashHex string) ([]HistoryEntry, error)
	// ScripthashListUnspent corresponds to blockchain.scripthash.listunspent.
	ScripthashListUnspent(ctx context.Context, scripthashHex string) ([]UnspentEntry, error)
	// TransactionGet corresponds to blockchain.transaction.get.
	TransactionGet(ctx context.Context, req TransactionGetRequest) (TransactionGetResponse, error)
	// TransactionBroadcast corresponds to blockchain.transaction.broadcast.
	TransactionBroadcast(ctx context.Context, rawHex string) (BroadcastResponse, error)
	// RpaGetHistory corresponds to blockchain.rpa.get_history.
	RpaGetHistory(ctx context.Context, prefixHex string, startHeight, endHeightExclusive int64) ([]HistoryEntry, error)
	// RpaGetMempool corresponds to blockchain.rpa.get_mempool.
	RpaGetMempool(ctx context.Context, prefixHex string) ([]HistoryEntry, error)
	// EstimateFee corresponds to blockchain.estimatefee.
	EstimateFee(ctx context.Context) (FeeEstimate, error)
}
