package rpc

import (
	"context"
	"encoding/json"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
	"github.com/EthanYuan/fiber/lnwallet"
)

func (s *Server) registerChannelMethods() {
	s.register("open_channel", s.openChannel)
	s.register("accept_channel", s.acceptChannel)
	s.register("list_channels", s.listChannels)
	s.register("commitment_signed", s.commitmentSigned)
	s.register("add_tlc", s.addTlc)
	s.register("remove_tlc", s.removeTlc)
	s.register("shutdown_channel", s.shutdownChannel)
	s.register("update_channel", s.updateChannel)
}

// openChannelParams mirrors spec.md 6's open_channel row: peer_id,
// funding_amount, and an optional config overriding this node's default
// channel policy bounds.
type openChannelParams struct {
	PeerID                    fbtypes.PeerId  `json:"peer_id"`
	FundingAmount             fbtypes.Amount  `json:"funding_amount"`
	TlcMinValue               *fbtypes.Amount `json:"tlc_min_value,omitempty"`
	TlcMaxValue               *fbtypes.Amount `json:"tlc_max_value,omitempty"`
	MaxTlcValueInFlight       *fbtypes.Amount `json:"max_tlc_value_in_flight,omitempty"`
	MaxTlcNumberInFlight      *uint64         `json:"max_tlc_number_in_flight,omitempty"`
	FeeProportionalMillionths *uint32         `json:"tlc_fee_proportional_millionths,omitempty"`
	FeeBaseMsat               *uint32         `json:"fee_base_msat,omitempty"`
	TlcLocktimeExpiryDelta    *uint64         `json:"tlc_locktime_expiry_delta,omitempty"`
	FundingFeeRate            *uint64         `json:"funding_fee_rate,omitempty"`
}

type openChannelResult struct {
	TemporaryChannelID fbtypes.Hash256 `json:"temporary_channel_id"`
}

func (s *Server) openChannel(raw json.RawMessage) (interface{}, error) {
	var p openChannelParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	if p.PeerID == "" {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "open_channel: peer_id required")
	}

	params := s.node.DefaultParams()
	if p.TlcMinValue != nil {
		params.TlcMinValue = *p.TlcMinValue
	}
	if p.TlcMaxValue != nil {
		params.TlcMaxValue = *p.TlcMaxValue
	}
	if p.MaxTlcValueInFlight != nil {
		params.MaxTlcValueInFlight = *p.MaxTlcValueInFlight
	}
	if p.MaxTlcNumberInFlight != nil {
		params.MaxTlcNumberInFlight = *p.MaxTlcNumberInFlight
	}
	if p.FeeProportionalMillionths != nil {
		params.FeeProportionalMillionths = *p.FeeProportionalMillionths
	}
	if p.FeeBaseMsat != nil {
		params.FeeBaseMsat = *p.FeeBaseMsat
	}
	if p.TlcLocktimeExpiryDelta != nil {
		params.LocktimeExpiryDelta = *p.TlcLocktimeExpiryDelta
	}
	if p.FundingFeeRate != nil {
		params.MinFeeRate = *p.FundingFeeRate
	}

	channelID, err := s.node.OpenChannelLocal(context.Background(), p.PeerID, p.FundingAmount, params)
	if err != nil {
		return nil, err
	}
	return openChannelResult{TemporaryChannelID: channelID}, nil
}

// acceptChannelParams mirrors spec.md 6's accept_channel row. Inbound
// OpenChannel offers sit pending on network.Node (see DESIGN.md) until
// this call supplies the responder's own funding_amount, which is what
// actually builds the channel's ChannelActorState.
type acceptChannelParams struct {
	TemporaryChannelID fbtypes.Hash256 `json:"temporary_channel_id"`
	FundingAmount      fbtypes.Amount  `json:"funding_amount"`
}

type acceptChannelResult struct {
	ChannelID fbtypes.Hash256 `json:"channel_id"`
}

func (s *Server) acceptChannel(raw json.RawMessage) (interface{}, error) {
	var p acceptChannelParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	channelID, err := s.node.AcceptChannelLocal(context.Background(), p.TemporaryChannelID, p.FundingAmount)
	if err != nil {
		return nil, err
	}
	return acceptChannelResult{ChannelID: channelID}, nil
}

type listChannelsParams struct {
	PeerID *fbtypes.PeerId `json:"peer_id,omitempty"`
}

type channelSummary struct {
	ChannelID          fbtypes.Hash256 `json:"channel_id"`
	PeerID             fbtypes.PeerId  `json:"peer_id"`
	State              string          `json:"state"`
	LocalBalance       fbtypes.Amount  `json:"local_balance"`
	RemoteBalance      fbtypes.Amount  `json:"remote_balance"`
	OfferedTlcBalance  fbtypes.Amount  `json:"offered_tlc_balance"`
	ReceivedTlcBalance fbtypes.Amount  `json:"received_tlc_balance"`
	CreatedAt          uint64          `json:"created_at"`
}

type listChannelsResult struct {
	Channels []channelSummary `json:"channels"`
}

func (s *Server) listChannels(raw json.RawMessage) (interface{}, error) {
	var p listChannelsParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	records := s.node.ListChannels(p.PeerID)
	out := make([]channelSummary, 0, len(records))
	for _, rec := range records {
		snap := rec.Actor.Snapshot()
		out = append(out, channelSummary{
			ChannelID:          snap.ID,
			PeerID:             rec.PeerID,
			State:              snap.State.String(),
			LocalBalance:       snap.LocalBalance,
			RemoteBalance:      snap.RemoteBalance,
			OfferedTlcBalance:  sumTlcs(snap.OfferedTlcs),
			ReceivedTlcBalance: sumTlcs(snap.ReceivedTlcs),
			CreatedAt:          snap.CreatedAtMicroseconds,
		})
	}
	return listChannelsResult{Channels: out}, nil
}

func sumTlcs(tlcs map[uint64]*lnwallet.TLC) fbtypes.Amount {
	total := fbtypes.NewAmount(0)
	for _, tlc := range tlcs {
		total = total.Add(tlc.Amount)
	}
	return total
}

type commitmentSignedParams struct {
	ChannelID fbtypes.Hash256 `json:"channel_id"`
}

func (s *Server) commitmentSigned(raw json.RawMessage) (interface{}, error) {
	var p commitmentSignedParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	return struct{}{}, s.node.SignCommitment(context.Background(), p.ChannelID)
}

type addTlcParams struct {
	ChannelID     fbtypes.Hash256        `json:"channel_id"`
	Amount        fbtypes.Amount         `json:"amount"`
	PaymentHash   fbtypes.Hash256        `json:"payment_hash"`
	Expiry        fbtypes.LockTime       `json:"expiry"`
	HashAlgorithm *fbtypes.HashAlgorithm `json:"hash_algorithm,omitempty"`
}

type addTlcResult struct {
	TlcID uint64 `json:"tlc_id"`
}

func (s *Server) addTlc(raw json.RawMessage) (interface{}, error) {
	var p addTlcParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	algo := fbtypes.HashAlgorithmSha256
	if p.HashAlgorithm != nil {
		algo = *p.HashAlgorithm
	}
	// A manually offered TLC has no onion route to forward; it targets
	// this channel's own counterparty directly, the same as
	// original_source's add_tlc rpc building an empty onion_packet.
	tlcID, err := s.node.AddTlc(p.ChannelID, p.Amount, p.PaymentHash, p.Expiry, algo, nil)
	if err != nil {
		return nil, err
	}
	return addTlcResult{TlcID: tlcID}, nil
}

// removeTlcParams' Reason is an untagged union of fulfill{payment_preimage}
// and fail{error_code}, matching the Rust RemoveTlcReason enum; Go has no
// untagged-enum support so we decode both optional shapes and require
// exactly one be present.
type removeTlcParams struct {
	ChannelID fbtypes.Hash256 `json:"channel_id"`
	TlcID     uint64          `json:"tlc_id"`
	Reason    struct {
		PaymentPreimage *fbtypes.Hash256 `json:"payment_preimage,omitempty"`
		ErrorCode       *string          `json:"error_code,omitempty"`
	} `json:"reason"`
}

func (s *Server) removeTlc(raw json.RawMessage) (interface{}, error) {
	var p removeTlcParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}

	var reason lnwallet.RemoveTlcReason
	switch {
	case p.Reason.PaymentPreimage != nil && p.Reason.ErrorCode != nil:
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "remove_tlc: reason must set only one of payment_preimage or error_code")
	case p.Reason.PaymentPreimage != nil:
		reason.Fulfill = p.Reason.PaymentPreimage
	case p.Reason.ErrorCode != nil:
		code, ok := codeByName[*p.Reason.ErrorCode]
		if !ok {
			return nil, ferrors.New(ferrors.CodeInvalidParameter, "remove_tlc: unknown error_code %q", *p.Reason.ErrorCode)
		}
		reason.FailCode = &code
	default:
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "remove_tlc: reason must set payment_preimage or error_code")
	}

	return struct{}{}, s.node.ResolveReceivedTlc(context.Background(), p.ChannelID, p.TlcID, reason)
}

type shutdownChannelParams struct {
	ChannelID   fbtypes.Hash256 `json:"channel_id"`
	CloseScript []byte          `json:"close_script"`
	Force       *bool           `json:"force,omitempty"`
}

func (s *Server) shutdownChannel(raw json.RawMessage) (interface{}, error) {
	var p shutdownChannelParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	force := p.Force != nil && *p.Force
	return struct{}{}, s.node.ShutdownChannelLocal(context.Background(), p.ChannelID, p.CloseScript, force)
}

// updateChannelParams covers the 4 policy fields lnwallet.UpdatePolicy
// supports. enabled and tlc_locktime_expiry_delta, present in
// original_source's UpdateChannelParams, have no equivalent in this
// module's channel state (there is no per-channel enabled flag, and the
// locktime delta is fixed at open time) -- see DESIGN.md.
type updateChannelParams struct {
	ChannelID                 fbtypes.Hash256 `json:"channel_id"`
	TlcMinimumValue           *fbtypes.Amount `json:"tlc_minimum_value,omitempty"`
	TlcMaximumValue           *fbtypes.Amount `json:"tlc_maximum_value,omitempty"`
	TlcFeeProportionalMillionths *uint32      `json:"tlc_fee_proportional_millionths,omitempty"`
	FeeBaseMsat               *uint32         `json:"fee_base_msat,omitempty"`
}

func (s *Server) updateChannel(raw json.RawMessage) (interface{}, error) {
	var p updateChannelParams
	if err := decodeParams(raw, &p); err != nil {
		return nil, err
	}
	actor, ok := s.node.Channel(p.ChannelID)
	if !ok {
		return nil, ferrors.New(ferrors.CodeUnknownChannel, "update_channel: unknown channel %s", p.ChannelID)
	}
	return struct{}{}, actor.UpdatePolicy(p.FeeBaseMsat, p.TlcFeeProportionalMillionths, p.TlcMinimumValue, p.TlcMaximumValue)
}
