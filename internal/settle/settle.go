// ABOUTME: Settlement of successful fetches into charges, ledger entries and receipts
// ABOUTME: The signed receipt is the only externally trusted proof of settlement

package settle

import (
	"context"
	"crypto/ed25519"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/mercatae/mercat-gateway/internal/store"
)

// PlatformWallet is the ledger wallet credited with the platform fee.
const PlatformWallet = "platform"

// Document is the receipt payload. The marshalled form is what gets signed
// and persisted; it is never regenerated from the database afterwards.
type Document struct {
	ReceiptID      string    `json:"receiptId"`
	ChargeID       string    `json:"chargeId"`
	ResourceID     string    `json:"resourceId"`
	ResourceTitle  string    `json:"resourceTitle,omitempty"`
	ProviderID     string    `json:"providerId"`
	UserID         string    `json:"userId"`
	AgentID        string    `json:"agentId,omitempty"`
	ModeRequested  string    `json:"modeRequested"`
	ModeServed     string    `json:"modeServed"`
	BytesBilled    int64     `json:"bytesBilled"`
	PriceFlat      float64   `json:"priceFlat"`
	PricePerKB     float64   `json:"pricePerKb"`
	TotalPaid      float64   `json:"totalPaid"`
	PlatformFeeBps int64     `json:"platformFeeBps"`
	PlatformShare  float64   `json:"platformShare"`
	ProviderShare  float64   `json:"providerShare"`
	IssuedAt       time.Time `json:"issuedAt"`
}

// SignedReceipt pairs the receipt document with the exact payload bytes
// that were signed and the signature over them. Holders of the platform
// public key can verify it without any further gateway call.
type SignedReceipt struct {
	Document  *Document
	Payload   []byte
	Signature []byte
}

// SettleStore is the store subset settlement writes to.
type SettleStore interface {
	SettleCharge(ctx context.Context, charge *store.ChargeRecord, entries []*store.LedgerEntry, receipt *store.Receipt) error
}

// Request describes a successful fetch awaiting settlement.
type Request struct {
	Resource      *store.Resource
	UserID        string
	AgentID       string
	ModeRequested string
	ModeServed    string
	Bytes         int64
}

// Settler turns successful fetches into settled charges with signed receipts.
type Settler struct {
	store  SettleStore
	signer *Signer
	feeBps int64
	logger *slog.Logger
}

// NewSettler creates a settler with the platform fee in basis points.
func NewSettler(st SettleStore, signer *Signer, feeBps int64, logger *slog.Logger) (*Settler, error) {
	if st == nil {
		return nil, errors.New("store is required")
	}
	if signer == nil {
		return nil, errors.New("signer is required")
	}
	if feeBps < 0 || feeBps > 10000 {
		return nil, fmt.Errorf("platform fee must be within [0, 10000] bps, got %d", feeBps)
	}
	if logger == nil {
		logger = slog.Default().With("component", "settle")
	}
	return &Settler{store: st, signer: signer, feeBps: feeBps, logger: logger}, nil
}

// Settle computes the cost for the delivered bytes, splits it between
// provider and platform, signs the receipt document and persists charge,
// ledger entries and receipt in one transaction. The signed artifact is
// stored before it is returned.
func (s *Settler) Settle(ctx context.Context, req *Request) (*SignedReceipt, error) {
	cost := Cost(req.Resource, req.Bytes)
	platformShare, providerShare := Split(cost, s.feeBps)
	now := time.Now().UTC()

	doc := &Document{
		ReceiptID:      uuid.New().String(),
		ChargeID:       uuid.New().String(),
		ResourceID:     req.Resource.ID,
		ResourceTitle:  req.Resource.Title,
		ProviderID:     req.Resource.ProviderID,
		UserID:         req.UserID,
		AgentID:        req.AgentID,
		ModeRequested:  req.ModeRequested,
		ModeServed:     req.ModeServed,
		BytesBilled:    req.Bytes,
		PriceFlat:      req.Resource.PriceFlat,
		PricePerKB:     req.Resource.PricePerKB,
		TotalPaid:      cost,
		PlatformFeeBps: s.feeBps,
		PlatformShare:  platformShare,
		ProviderShare:  providerShare,
		IssuedAt:       now,
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("marshalling receipt payload: %w", err)
	}

	charge := &store.ChargeRecord{
		ID:         doc.ChargeID,
		UserID:     req.UserID,
		ResourceID: req.Resource.ID,
		Mode:       req.ModeServed,
		Cost:       cost,
		Status:     store.ChargeStatusSettled,
		CreatedAt:  now,
	}
	entries := []*store.LedgerEntry{
		{WalletID: "provider:" + req.Resource.ProviderID, Amount: providerShare},
		{WalletID: PlatformWallet, Amount: platformShare},
	}
	receipt := &store.Receipt{
		ID:        doc.ReceiptID,
		ChargeID:  doc.ChargeID,
		UserID:    req.UserID,
		Payload:   payload,
		Signature: s.signer.Sign(payload),
		CreatedAt: now,
	}

	if err := s.store.SettleCharge(ctx, charge, entries, receipt); err != nil {
		return nil, fmt.Errorf("persisting settlement: %w", err)
	}

	s.logger.Info("settled fetch",
		"receipt_id", doc.ReceiptID,
		"resource_id", req.Resource.ID,
		"user_id", req.UserID,
		"cost", cost,
	)
	return &SignedReceipt{Document: doc, Payload: payload, Signature: receipt.Signature}, nil
}

// VerifyReceipt checks a persisted receipt against the platform public key
// and returns the decoded document. It needs nothing but the receipt bytes
// and the key.
func VerifyReceipt(pub ed25519.PublicKey, receipt *store.Receipt) (*Document, error) {
	if err := VerifySignature(pub, receipt.Payload, receipt.Signature); err != nil {
		return nil, err
	}
	var doc Document
	if err := json.Unmarshal(receipt.Payload, &doc); err != nil {
		return nil, fmt.Errorf("decoding receipt payload: %w", err)
	}
	return &doc, nil
}
