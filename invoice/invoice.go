// Package invoice implements CkbInvoice, the signed payment request from
// spec.md 3: "carrying amount, payment hash, optional preimage (receiver-side
// only), expiry, description, and optional asset type. Unique by payment
// hash." Grounded on zpay32's bech32-encoded BOLT-11 invoice: we keep its
// bech32 transport encoding and recover-or-verify signature scheme, but drop
// the BOLT-11 tagged-field grammar (routing hints, fallback addresses,
// network-prefix human-readable part) in favor of this module's smaller,
// JSON-shaped field set, since spec.md's CkbInvoice has no on-chain fallback
// or private-route-hint concept.
package invoice

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcutil/bech32"
	"github.com/btcsuite/btcd/chaincfg/chainhash"

	"github.com/EthanYuan/fiber/fbtypes"
)

// hrp is the bech32 human-readable prefix for an encoded invoice.
const hrp = "ckbinv"

// defaultExpiry is used when an invoice doesn't specify one, matching
// zpay32's default of 60 minutes.
const defaultExpiry = time.Hour

// CkbInvoice is a signed payment request. Unique by PaymentHash.
type CkbInvoice struct {
	PaymentHash   fbtypes.Hash256 `json:"payment_hash"`
	Amount        fbtypes.Amount  `json:"amount"`
	Description   string          `json:"description,omitempty"`
	ExpirySeconds uint64          `json:"expiry_seconds"`
	CreatedAt     uint64          `json:"created_at"`
	UdtTypeScript []byte          `json:"udt_type_script,omitempty"`
	Destination   fbtypes.Pubkey  `json:"destination"`
	Signature     []byte          `json:"signature"`
}

// New builds an unsigned invoice for paymentHash and amount, created at
// createdAt (unix seconds). Pass expirySeconds 0 to use the default expiry.
func New(paymentHash fbtypes.Hash256, amount fbtypes.Amount, destination fbtypes.Pubkey,
	description string, expirySeconds, createdAt uint64) *CkbInvoice {

	if expirySeconds == 0 {
		expirySeconds = uint64(defaultExpiry / time.Second)
	}
	return &CkbInvoice{
		PaymentHash:   paymentHash,
		Amount:        amount,
		Description:   description,
		ExpirySeconds: expirySeconds,
		CreatedAt:     createdAt,
		Destination:   destination,
	}
}

func (inv *CkbInvoice) signingDigest() []byte {
	buf, _ := json.Marshal(struct {
		PaymentHash   string `json:"payment_hash"`
		Amount        string `json:"amount"`
		Description   string `json:"description"`
		ExpirySeconds uint64 `json:"expiry_seconds"`
		CreatedAt     uint64 `json:"created_at"`
		UdtTypeScript []byte `json:"udt_type_script"`
		Destination   string `json:"destination"`
	}{
		inv.PaymentHash.String(), inv.Amount.String(), inv.Description,
		inv.ExpirySeconds, inv.CreatedAt, inv.UdtTypeScript, inv.Destination.String(),
	})
	return chainhash.DoubleHashB(buf)
}

// Sign attaches a signature over the invoice's fields under priv, and sets
// Destination to priv's public key.
func (inv *CkbInvoice) Sign(priv *btcec.PrivateKey) {
	inv.Destination = fbtypes.NewPubkey(priv.PubKey())
	sig := ecdsa.Sign(priv, inv.signingDigest())
	inv.Signature = sig.Serialize()
}

// Verify reports whether Signature is a valid signature by Destination over
// the invoice's fields, and that the invoice hasn't expired as of now (unix
// seconds).
func (inv *CkbInvoice) Verify(now uint64) error {
	if !inv.Destination.IsValid() {
		return fmt.Errorf("invoice: missing destination pubkey")
	}
	sig, err := ecdsa.ParseDERSignature(inv.Signature)
	if err != nil {
		return fmt.Errorf("invoice: invalid signature encoding: %w", err)
	}
	if !sig.Verify(inv.signingDigest(), inv.Destination.Key()) {
		return fmt.Errorf("invoice: signature verification failed")
	}
	if now > inv.CreatedAt+inv.ExpirySeconds {
		return fmt.Errorf("invoice: expired")
	}
	return nil
}

// Encode bech32-encodes the invoice as a human-transmissible string, the
// analogue of zpay32's "lnbc..." payment request strings.
func (inv *CkbInvoice) Encode() (string, error) {
	raw, err := json.Marshal(inv)
	if err != nil {
		return "", err
	}
	converted, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", err
	}
	return bech32.Encode(hrp, converted)
}

// Decode parses an invoice string produced by Encode.
func Decode(encoded string) (*CkbInvoice, error) {
	gotHRP, data, err := bech32.DecodeNoLimit(encoded)
	if err != nil {
		return nil, err
	}
	if gotHRP != hrp {
		return nil, fmt.Errorf("invoice: unexpected prefix %q", gotHRP)
	}
	raw, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return nil, err
	}
	var inv CkbInvoice
	if err := json.Unmarshal(raw, &inv); err != nil {
		return nil, err
	}
	return &inv, nil
}
