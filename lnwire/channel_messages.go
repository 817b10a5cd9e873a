package lnwire

import "github.com/EthanYuan/fiber/fbtypes"

// OpenChannel is sent by the funder to propose a new channel, per
// spec.md 4.3's OpenChannel command.
type OpenChannel struct {
	TemporaryChannelID        fbtypes.Hash256 `json:"temporary_channel_id"`
	FundingAmount             fbtypes.Amount  `json:"funding_amount"`
	FundingUdtTypeScript      []byte          `json:"funding_udt_type_script,omitempty"`
	TlcMinValue               fbtypes.Amount  `json:"tlc_min_value"`
	TlcMaxValue               fbtypes.Amount  `json:"tlc_max_value"`
	MaxTlcValueInFlight       fbtypes.Amount  `json:"max_tlc_value_in_flight"`
	MaxTlcNumberInFlight      uint64          `json:"max_tlc_number_in_flight"`
	FeeProportionalMillionths uint32          `json:"fee_proportional_millionths"`
	FeeBaseMsat               uint32          `json:"fee_base_msat"`
	LocktimeExpiryDelta       uint64          `json:"locktime_expiry_delta"`
	FundingFeeRate            uint64          `json:"funding_fee_rate"`
	FirstPerCommitmentPoint   []byte          `json:"first_per_commitment_point,omitempty"`
}

func (m *OpenChannel) MsgType() MessageType { return MsgOpenChannel }

// AcceptChannel is the responder's reply to OpenChannel. ChannelID echoes
// TemporaryChannelID; no separate final id is derived.
type AcceptChannel struct {
	TemporaryChannelID      fbtypes.Hash256 `json:"temporary_channel_id"`
	ChannelID               fbtypes.Hash256 `json:"channel_id"`
	FundingAmount           fbtypes.Amount  `json:"funding_amount"`
	TlcMinValue             fbtypes.Amount  `json:"tlc_min_value"`
	TlcMaxValue             fbtypes.Amount  `json:"tlc_max_value"`
	MaxTlcValueInFlight     fbtypes.Amount  `json:"max_tlc_value_in_flight"`
	MaxTlcNumberInFlight    uint64          `json:"max_tlc_number_in_flight"`
	FirstPerCommitmentPoint []byte          `json:"first_per_commitment_point,omitempty"`
}

func (m *AcceptChannel) MsgType() MessageType { return MsgAcceptChannel }

// ChannelReady signals this side has seen enough funding confirmations and
// is ready to route TLCs over the channel (spec.md 4.3).
type ChannelReady struct {
	ChannelID             fbtypes.Hash256 `json:"channel_id"`
	NextPerCommitmentPoint []byte         `json:"next_per_commitment_point,omitempty"`
}

func (m *ChannelReady) MsgType() MessageType { return MsgChannelReady }

// CommitmentSigned carries the signature over the counterparty's next
// commitment transaction, covering all TLC changes since the last
// exchange (spec.md 4.3).
type CommitmentSigned struct {
	ChannelID fbtypes.Hash256 `json:"channel_id"`
	Signature []byte          `json:"signature"`
}

func (m *CommitmentSigned) MsgType() MessageType { return MsgCommitmentSigned }

// AddTlc offers a new TLC to the receiving peer.
type AddTlc struct {
	ChannelID      fbtypes.Hash256       `json:"channel_id"`
	TlcID          uint64                `json:"tlc_id"`
	Amount         fbtypes.Amount        `json:"amount"`
	PaymentHash    fbtypes.Hash256       `json:"payment_hash"`
	ExpiryLocktime fbtypes.LockTime      `json:"expiry_locktime"`
	HashAlgorithm  fbtypes.HashAlgorithm `json:"hash_algorithm"`
	OnionPacket    []byte                `json:"onion_packet"`
}

func (m *AddTlc) MsgType() MessageType { return MsgAddTlc }

// RemoveTlc resolves a previously offered TLC, either with a fulfilling
// preimage or a failure code (spec.md 4.3's RemoveTlc command).
type RemoveTlc struct {
	ChannelID fbtypes.Hash256  `json:"channel_id"`
	TlcID     uint64           `json:"tlc_id"`
	Fulfill   *fbtypes.Hash256 `json:"fulfill_preimage,omitempty"`
	FailCode  *uint32          `json:"fail_code,omitempty"`
}

func (m *RemoveTlc) MsgType() MessageType { return MsgRemoveTlc }

// Shutdown begins cooperative channel closure.
type Shutdown struct {
	ChannelID   fbtypes.Hash256 `json:"channel_id"`
	CloseScript []byte          `json:"close_script"`
	Force       bool            `json:"force"`
}

func (m *Shutdown) MsgType() MessageType { return MsgShutdown }

// ClosingSigned carries one side's signature over the final closing
// transaction, exchanged after Shutdown once no TLCs remain; receiving
// both sides' ClosingSigned is what lets ShuttingDown advance to Closed
// (spec.md 4.3).
type ClosingSigned struct {
	ChannelID fbtypes.Hash256 `json:"channel_id"`
	Signature []byte          `json:"signature,omitempty"`
}

func (m *ClosingSigned) MsgType() MessageType { return MsgClosingSigned }

// Ping/Pong are transport-level liveness messages, used by the out-of-scope
// transport collaborator to detect a dead peer connection.
type Ping struct {
	Nonce uint64 `json:"nonce"`
}

func (m *Ping) MsgType() MessageType { return MsgPing }

type Pong struct {
	Nonce uint64 `json:"nonce"`
}

func (m *Pong) MsgType() MessageType { return MsgPong }
