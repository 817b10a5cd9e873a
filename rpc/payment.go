package rpc

import (
	"context"
	"encoding/json"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
	"github.com/EthanYuan/fiber/invoice"
	"github.com/EthanYuan/fiber/payment"
)

func (s *Server) registerPaymentMethods() {
	s.register("send_payment", s.sendPayment)
	s.register("get_payment", s.getPayment)
}

// sendPaymentParams mirrors spec.md 6's send_payment row. Either invoice
// or the explicit target_pubkey/amount/payment_hash fields must resolve
// a target, per original_source's SendPaymentCommandParams.
type sendPaymentParams struct {
	TargetPubkey        *fbtypes.Pubkey  `json:"target_pubkey,omitempty"`
	Amount              *fbtypes.Amount  `json:"amount,omitempty"`
	PaymentHash         *fbtypes.Hash256 `json:"payment_hash,omitempty"`
	FinalCltvDelta      *uint16          `json:"final_cltv_delta,omitempty"`
	Invoice             *string          `json:"invoice,omitempty"`
	Timeout             *uint64          `json:"timeout,omitempty"`
	MaxFeeAmount        *fbtypes.Amount  `json:"max_fee_amount,omitempty"`
	MaxParts            *uint32          `json:"max_parts,omitempty"`
	Keysend             *bool            `json:"keysend,omitempty"`
	AllowSelfPayment    *bool            `json:"allow_self_payment,omitempty"`
}

type paymentResult struct {
	PaymentHash           fbtypes.Hash256 `json:"payment_hash"`
	Status                string          `json:"status"`
	CreatedAt             uint64          `json:"created_at"`
	LastUpdatedAt         uint64          `json:"last_updated_at"`
	FailedError           string          `json:"failed_error,omitempty"`
}

func (s *Server) sendPayment(raw json.RawMessage) (interface{}, error) {
	var p sendPaymentParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	req := payment.Request{AllowSelfPayment: p.AllowSelfPayment != nil && *p.AllowSelfPayment}
	if p.Keysend != nil {
		req.Keysend = *p.Keysend
	}
	if p.Amount != nil {
		req.Amount = *p.Amount
	}
	if p.MaxFeeAmount != nil {
		req.MaxFeeAmount = *p.MaxFeeAmount
	}
	if p.MaxParts != nil {
		req.MaxParts = *p.MaxParts
	}
	if p.FinalCltvDelta != nil {
		req.FinalCltvDelta = *p.FinalCltvDelta
	}
	if p.Timeout != nil {
		req.TimeoutMicroseconds = *p.Timeout * 1_000_000
	}
	if p.TargetPubkey != nil {
		req.TargetPubkey = *p.TargetPubkey
	}
	req.PaymentHash = p.PaymentHash

	if p.Invoice != nil {
		inv, err := invoice.Decode(*p.Invoice)
		if err != nil {
			return nil, ferrors.New(ferrors.CodeInvalidParameter, "send_payment: invalid invoice: %v", err)
		}
		if err := inv.Verify(nowUnixSeconds()); err != nil {
			return nil, ferrors.New(ferrors.CodeInvalidParameter, "send_payment: invoice verify: %v", err)
		}
		req.TargetPubkey = inv.Destination
		req.Amount = inv.Amount
		paymentHash := inv.PaymentHash
		req.PaymentHash = &paymentHash
	}

	ctx := context.Background()
	height, err := s.node.CurrentHeight(ctx)
	if err != nil {
		return nil, err
	}

	result, err := s.payment.SendPayment(req, height, nowMicros())
	if err != nil {
		return nil, err
	}
	return resultToRPC(result), nil
}

type getPaymentParams struct {
	PaymentHash fbtypes.Hash256 `json:"payment_hash"`
}

func (s *Server) getPayment(raw json.RawMessage) (interface{}, error) {
	var p getPaymentParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	result, err := s.payment.GetPayment(p.PaymentHash)
	if err != nil {
		return nil, err
	}
	return resultToRPC(result), nil
}

func resultToRPC(r *payment.Result) paymentResult {
	return paymentResult{
		PaymentHash:   r.PaymentHash,
		Status:        r.Status.String(),
		CreatedAt:     r.CreatedAtMicroseconds,
		LastUpdatedAt: r.LastUpdatedAtMicroseconds,
		FailedError:   r.FailedError,
	}
}
