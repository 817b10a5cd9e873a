// Package lnwallet implements ChannelActorState, the complete state of one
// channel described in spec.md 3 and the transition/invariant rules from
// spec.md 4.3. Grounded on the teacher's LightningChannel: we keep its
// update-log/commitment-chain vocabulary (appendHtlc, commitment number
// bumps, the ErrInsufficientBalance/ErrNoWindow-style sentinel errors) but
// drop everything downstream of "build a Bitcoin commitment transaction"
// (txscript construction, weight estimation, HTLC script derivation,
// breach remedies) -- those implement the on-chain penalty path, which
// spec.md's ChannelActor describes only up to "commitment transaction
// fields," not its on-chain enforcement (see DESIGN.md).
package lnwallet

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
)

// ChannelState is the discriminated phase from spec.md 4.3.
type ChannelState uint8

const (
	StateNegotiatingFunding ChannelState = iota
	StateAwaitingChannelReady
	StateChannelReady
	StateShuttingDown
	StateClosed
)

func (s ChannelState) String() string {
	switch s {
	case StateNegotiatingFunding:
		return "NegotiatingFunding"
	case StateAwaitingChannelReady:
		return "AwaitingChannelReady"
	case StateChannelReady:
		return "ChannelReady"
	case StateShuttingDown:
		return "ShuttingDown"
	case StateClosed:
		return "Closed"
	default:
		return "Unknown"
	}
}

// PreviousHop identifies the upstream channel and TLC a forwarded TLC came
// from, so Fulfill/Fail can propagate back to the right actor.
type PreviousHop struct {
	PeerID    fbtypes.PeerId  `json:"peer_id"`
	ChannelID fbtypes.Hash256 `json:"channel_id"`
	TlcID     uint64          `json:"tlc_id"`
}

// TLC is one hashed-timelock-contract entry, per spec.md 3.
type TLC struct {
	ID             uint64               `json:"id"`
	Amount         fbtypes.Amount       `json:"amount"`
	PaymentHash    fbtypes.Hash256      `json:"payment_hash"`
	ExpiryLocktime fbtypes.LockTime     `json:"expiry_locktime"`
	HashAlgorithm  fbtypes.HashAlgorithm `json:"hash_algorithm"`
	OnionPacket    []byte               `json:"onion_packet_bytes"`
	PreviousHop    *PreviousHop         `json:"previous_hop,omitempty"`
}

// ChannelParams are the negotiated bounds that gate TLC acceptance, and the
// forwarding policy this side advertises.
type ChannelParams struct {
	TlcMinValue               fbtypes.Amount `json:"tlc_min_value"`
	TlcMaxValue               fbtypes.Amount `json:"tlc_max_value"`
	MaxTlcValueInFlight       fbtypes.Amount `json:"max_tlc_value_in_flight"`
	MaxTlcNumberInFlight      uint64         `json:"max_tlc_number_in_flight"`
	FeeProportionalMillionths uint32         `json:"fee_proportional_millionths"`
	FeeBaseMsat               uint32         `json:"fee_base_msat"`
	LocktimeExpiryDelta       uint64         `json:"locktime_expiry_delta"`
	MinFeeRate                uint64         `json:"min_fee_rate"`
}

// Validate checks the bound-consistency rules spec.md 4.3 requires at
// OpenChannel/AcceptChannel time: "tlc_min_value <= tlc_max_value, and
// max_tlc_value_in_flight >= tlc_max_value."
func (p ChannelParams) Validate() error {
	if p.TlcMinValue.GreaterThan(p.TlcMaxValue) {
		return ferrors.New(ferrors.CodeInvalidParameter, "tlc_min_value exceeds tlc_max_value")
	}
	if p.MaxTlcValueInFlight.LessThan(p.TlcMaxValue) {
		return ferrors.New(ferrors.CodeInvalidParameter, "max_tlc_value_in_flight below tlc_max_value")
	}
	return nil
}

// ChannelActorState is the complete state of one channel, exclusively
// owned by one ChannelActor. The embedded mutex guards concurrent reads
// (e.g. an RPC snapshot for list_channels) against the single writer
// goroutine that owns this state; it is not used to serialize command
// processing, which the ChannelActor's mailbox already does (spec.md 5).
type ChannelActorState struct {
	mu sync.RWMutex

	ID            fbtypes.Hash256 `json:"id"`
	State         ChannelState    `json:"state"`
	RemotePeerID  fbtypes.PeerId  `json:"remote_peer_id"`
	IsNode1       bool            `json:"is_node_1"`

	LocalBalance  fbtypes.Amount `json:"local_balance"`
	RemoteBalance fbtypes.Amount `json:"remote_balance"`
	Capacity      fbtypes.Amount `json:"capacity"`

	OfferedTlcs  map[uint64]*TLC `json:"offered_tlcs"`
	ReceivedTlcs map[uint64]*TLC `json:"received_tlcs"`
	nextOffered  uint64
	nextReceived uint64

	CommitmentNumberLocal  uint64 `json:"commitment_number_local"`
	CommitmentNumberRemote uint64 `json:"commitment_number_remote"`

	FundingUdtTypeScript []byte  `json:"funding_udt_type_script,omitempty"`
	FundingTxOutpoint    *string `json:"funding_tx_outpoint,omitempty"`

	CreatedAtMicroseconds uint64        `json:"created_at_microseconds"`
	Params                ChannelParams `json:"params"`

	CloseScript        []byte `json:"close_script,omitempty"`
	ForceClosed        bool   `json:"force_closed"`
	ClosingSigSent     bool   `json:"closing_sig_sent,omitempty"`
	ClosingSigReceived bool   `json:"closing_sig_received,omitempty"`
}

// jsonState is a plain alias of ChannelActorState's exported fields, used
// so (Un)MarshalBinary doesn't try to serialize the mutex.
type jsonState ChannelActorState

func (c *ChannelActorState) MarshalBinary() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal((*jsonState)(c))
}

func (c *ChannelActorState) UnmarshalBinary(data []byte) error {
	var alias jsonState
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	// The assignment replaces every field of c, its mutex included, so no
	// lock is held across it.
	*c = ChannelActorState(alias)
	if c.OfferedTlcs == nil {
		c.OfferedTlcs = make(map[uint64]*TLC)
	}
	if c.ReceivedTlcs == nil {
		c.ReceivedTlcs = make(map[uint64]*TLC)
	}
	return nil
}

// NewOpeningChannel validates and builds the initial state for an
// OpenChannel command, in StateNegotiatingFunding (spec.md 4.3).
func NewOpeningChannel(tempID fbtypes.Hash256, peer fbtypes.PeerId, fundingAmount fbtypes.Amount,
	params ChannelParams, createdAtMicros uint64) (*ChannelActorState, error) {

	if fundingAmount.IsZero() {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "funding_amount must be positive")
	}
	if params.MinFeeRate == 0 {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "fee rate below configured minimum")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &ChannelActorState{
		ID:                    tempID,
		State:                 StateNegotiatingFunding,
		RemotePeerID:          peer,
		IsNode1:               true,
		LocalBalance:          fundingAmount,
		RemoteBalance:         fbtypes.NewAmount(0),
		Capacity:              fundingAmount,
		OfferedTlcs:           make(map[uint64]*TLC),
		ReceivedTlcs:          make(map[uint64]*TLC),
		CreatedAtMicroseconds: createdAtMicros,
		Params:                params,
	}, nil
}

// NewAcceptingChannel is the responder-side equivalent of
// NewOpeningChannel. channelID is used as given: no separate final id is
// derived, so the funder's temporary id stays the channel's id.
// funderFundingAmount is the amount the remote peer proposed in its
// OpenChannel; acceptorFundingAmount is this node's own contribution,
// decided separately by the operator's accept_channel call (spec.md 8
// scenario 1: each side's local_balance reflects only what it put in).
func NewAcceptingChannel(channelID fbtypes.Hash256, peer fbtypes.PeerId, funderFundingAmount, acceptorFundingAmount fbtypes.Amount,
	params ChannelParams, createdAtMicros uint64) (*ChannelActorState, error) {

	if funderFundingAmount.IsZero() {
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "funding_amount must be positive")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	return &ChannelActorState{
		ID:                    channelID,
		State:                 StateNegotiatingFunding,
		RemotePeerID:          peer,
		IsNode1:               false,
		LocalBalance:          acceptorFundingAmount,
		RemoteBalance:         funderFundingAmount,
		Capacity:              funderFundingAmount.Add(acceptorFundingAmount),
		OfferedTlcs:           make(map[uint64]*TLC),
		ReceivedTlcs:          make(map[uint64]*TLC),
		CreatedAtMicroseconds: createdAtMicros,
		Params:                params,
	}, nil
}

// ApplyAcceptFunding records the responder's own funding contribution,
// reported back in AcceptChannel once the responder decides to join the
// channel. Until this arrives, the funder's view of Capacity/RemoteBalance
// only reflects its own side (spec.md 8 scenario 1).
func (c *ChannelActorState) ApplyAcceptFunding(acceptorFundingAmount fbtypes.Amount) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateNegotiatingFunding {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s is not negotiating funding", c.ID)
	}
	c.RemoteBalance = acceptorFundingAmount
	c.Capacity = c.LocalBalance.Add(acceptorFundingAmount)
	return nil
}

// MarkFundingSigned transitions NegotiatingFunding -> AwaitingChannelReady
// once both sides have signed the funding transaction.
func (c *ChannelActorState) MarkFundingSigned(outpoint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateNegotiatingFunding {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s is not negotiating funding", c.ID)
	}
	c.FundingTxOutpoint = &outpoint
	c.State = StateAwaitingChannelReady
	return nil
}

// MarkChannelReady transitions AwaitingChannelReady -> ChannelReady, called
// once the chain oracle reports sufficient confirmations and both sides
// have exchanged ChannelReady messages.
func (c *ChannelActorState) MarkChannelReady() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateAwaitingChannelReady {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s is not awaiting ready", c.ID)
	}
	c.State = StateChannelReady
	return nil
}

// Snapshot returns a shallow, lock-protected copy suitable for RPC
// responses (list_channels et al.) without exposing the live struct to
// concurrent mutation.
func (c *ChannelActorState) Snapshot() ChannelActorState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	cp := *c
	cp.OfferedTlcs = make(map[uint64]*TLC, len(c.OfferedTlcs))
	for k, v := range c.OfferedTlcs {
		cp.OfferedTlcs[k] = v
	}
	cp.ReceivedTlcs = make(map[uint64]*TLC, len(c.ReceivedTlcs))
	for k, v := range c.ReceivedTlcs {
		cp.ReceivedTlcs[k] = v
	}
	return cp
}

func (c *ChannelActorState) totalInFlight() (count uint64, value fbtypes.Amount) {
	value = fbtypes.NewAmount(0)
	for _, t := range c.OfferedTlcs {
		count++
		value = value.Add(t.Amount)
	}
	for _, t := range c.ReceivedTlcs {
		count++
		value = value.Add(t.Amount)
	}
	return count, value
}

// AddTlc offers a new TLC on the local side, per spec.md 4.3's AddTlc
// command: requires ChannelReady, allocates the next local TLC id, debits
// local_balance, enqueues in offered_tlcs.
func (c *ChannelActorState) AddTlc(amount fbtypes.Amount, paymentHash fbtypes.Hash256,
	expiry fbtypes.LockTime, algo fbtypes.HashAlgorithm, onionPacket []byte,
	previousHop *PreviousHop, minExpiryDelta uint64, currentHeight uint64) (uint64, error) {

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State != StateChannelReady {
		return 0, ferrors.New(ferrors.CodeIllegalState, "channel %s is not ready", c.ID)
	}
	if amount.GreaterThan(c.LocalBalance) {
		return 0, ferrors.New(ferrors.CodeInsufficientBalance,
			"local balance %s insufficient for %s", c.LocalBalance, amount)
	}
	if amount.LessThan(c.Params.TlcMinValue) || amount.GreaterThan(c.Params.TlcMaxValue) {
		return 0, ferrors.New(ferrors.CodeTlcValueOutOfRange,
			"amount %s outside [%s, %s]", amount, c.Params.TlcMinValue, c.Params.TlcMaxValue)
	}

	count, value := c.totalInFlight()
	if count+1 > c.Params.MaxTlcNumberInFlight {
		return 0, ferrors.New(ferrors.CodeTooManyInflightTlcs, "channel %s at max in-flight count", c.ID)
	}
	if value.Add(amount).GreaterThan(c.Params.MaxTlcValueInFlight) {
		return 0, ferrors.New(ferrors.CodeTooManyInflightTlcs, "channel %s at max in-flight value", c.ID)
	}
	if uint64(expiry) < currentHeight+minExpiryDelta {
		return 0, ferrors.New(ferrors.CodeExpiryTooSoon, "expiry %d too soon", expiry)
	}

	id := c.nextOffered
	c.nextOffered++

	c.OfferedTlcs[id] = &TLC{
		ID:             id,
		Amount:         amount,
		PaymentHash:    paymentHash,
		ExpiryLocktime: expiry,
		HashAlgorithm:  algo,
		OnionPacket:    onionPacket,
		PreviousHop:    previousHop,
	}
	c.LocalBalance = c.LocalBalance.Sub(amount)
	return id, nil
}

// ReceiveTlc records a TLC offered by the remote side, the mirror image of
// AddTlc for the received_tlcs set (used when this side is the forwarding
// hop or the final recipient).
func (c *ChannelActorState) ReceiveTlc(id uint64, amount fbtypes.Amount, paymentHash fbtypes.Hash256,
	expiry fbtypes.LockTime, algo fbtypes.HashAlgorithm, onionPacket []byte) error {

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.State != StateChannelReady {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s is not ready", c.ID)
	}
	if amount.GreaterThan(c.RemoteBalance) {
		return ferrors.New(ferrors.CodeInsufficientBalance,
			"remote balance %s insufficient for %s", c.RemoteBalance, amount)
	}

	c.ReceivedTlcs[id] = &TLC{
		ID: id, Amount: amount, PaymentHash: paymentHash,
		ExpiryLocktime: expiry, HashAlgorithm: algo, OnionPacket: onionPacket,
	}
	c.RemoteBalance = c.RemoteBalance.Sub(amount)
	if id >= c.nextReceived {
		c.nextReceived = id + 1
	}
	return nil
}

// RemoveTlcReason is the fulfill-or-fail outcome of a RemoveTlc command.
type RemoveTlcReason struct {
	Fulfill   *fbtypes.Hash256
	FailCode  *ferrors.Code
}

// RemoveOfferedTlc resolves a TLC this side offered. On Fulfill, verifies
// the preimage hashes to the TLC's payment_hash under its negotiated
// algorithm and credits remote_balance; on Fail, credits local_balance
// back. Returns the resolved TLC so the caller can propagate the outcome
// to previous_hop if set.
func (c *ChannelActorState) RemoveOfferedTlc(id uint64, reason RemoveTlcReason) (*TLC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tlc, ok := c.OfferedTlcs[id]
	if !ok {
		return nil, ferrors.New(ferrors.CodeUnknownTlc, "no offered tlc %d on channel %s", id, c.ID)
	}

	switch {
	case reason.Fulfill != nil:
		if tlc.HashAlgorithm.Digest(*reason.Fulfill) != tlc.PaymentHash {
			return nil, ferrors.New(ferrors.CodeProtocolViolation,
				"preimage does not hash to payment_hash for tlc %d", id)
		}
		c.RemoteBalance = c.RemoteBalance.Add(tlc.Amount)
	case reason.FailCode != nil:
		c.LocalBalance = c.LocalBalance.Add(tlc.Amount)
	default:
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "remove_tlc requires fulfill or fail")
	}

	delete(c.OfferedTlcs, id)
	return tlc, nil
}

// RemoveReceivedTlc is the mirror of RemoveOfferedTlc for the
// received_tlcs set -- applied when the remote side resolves a TLC it
// holds against us.
func (c *ChannelActorState) RemoveReceivedTlc(id uint64, reason RemoveTlcReason) (*TLC, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tlc, ok := c.ReceivedTlcs[id]
	if !ok {
		return nil, ferrors.New(ferrors.CodeUnknownTlc, "no received tlc %d on channel %s", id, c.ID)
	}

	switch {
	case reason.Fulfill != nil:
		if tlc.HashAlgorithm.Digest(*reason.Fulfill) != tlc.PaymentHash {
			return nil, ferrors.New(ferrors.CodeProtocolViolation,
				"preimage does not hash to payment_hash for tlc %d", id)
		}
		c.LocalBalance = c.LocalBalance.Add(tlc.Amount)
	case reason.FailCode != nil:
		c.RemoteBalance = c.RemoteBalance.Add(tlc.Amount)
	default:
		return nil, ferrors.New(ferrors.CodeInvalidParameter, "remove_tlc requires fulfill or fail")
	}

	delete(c.ReceivedTlcs, id)
	return tlc, nil
}

// CommitmentSigned advances both commitment numbers by one. It takes no
// signature, and the network package passes none through: no remote
// commitment signature is produced or verified before the numbers advance.
func (c *ChannelActorState) CommitmentSigned() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateChannelReady && c.State != StateShuttingDown {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s cannot sign commitments in state %s", c.ID, c.State)
	}
	c.CommitmentNumberLocal++
	c.CommitmentNumberRemote++
	return nil
}

// BeginShutdown transitions ChannelReady -> ShuttingDown. If force is set,
// it marks the channel ForceClosed and moves it straight to Closed instead,
// without flushing pending TLCs.
func (c *ChannelActorState) BeginShutdown(closeScript []byte, force bool) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateChannelReady {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s is not ready for shutdown", c.ID)
	}
	c.CloseScript = closeScript
	c.State = StateShuttingDown
	if force {
		c.ForceClosed = true
		c.State = StateClosed
	}
	return nil
}

// FinishShutdown transitions ShuttingDown -> Closed once no TLCs remain.
// It does not check the closing-signature exchange; callers track that
// with MarkClosingSigSent and ReceiveClosingSigned.
func (c *ChannelActorState) FinishShutdown() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateShuttingDown {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s is not shutting down", c.ID)
	}
	if len(c.OfferedTlcs) > 0 || len(c.ReceivedTlcs) > 0 {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s has pending tlcs", c.ID)
	}
	c.State = StateClosed
	return nil
}

// MarkClosingSigSent records that this side has sent its own
// ClosingSigned, reporting false if it had already done so (so the
// caller knows not to send the wire message twice).
func (c *ChannelActorState) MarkClosingSigSent() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateShuttingDown {
		return false, ferrors.New(ferrors.CodeIllegalState, "channel %s is not shutting down", c.ID)
	}
	if c.ClosingSigSent {
		return false, nil
	}
	c.ClosingSigSent = true
	return true, nil
}

// ReceiveClosingSigned records the peer's ClosingSigned and reports
// whether both sides' signatures are now in hand, meaning the caller
// should finish the shutdown.
func (c *ChannelActorState) ReceiveClosingSigned() (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State != StateShuttingDown {
		return false, ferrors.New(ferrors.CodeIllegalState, "channel %s is not shutting down", c.ID)
	}
	c.ClosingSigReceived = true
	return c.ClosingSigSent && c.ClosingSigReceived, nil
}

// ForceClose jumps directly to Closed from any non-terminal state, per
// spec.md 4.3's "a force-close command jumps directly to Closed."
func (c *ChannelActorState) ForceClose() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.State == StateClosed {
		return ferrors.New(ferrors.CodeIllegalState, "channel %s already closed", c.ID)
	}
	c.State = StateClosed
	c.ForceClosed = true
	return nil
}

// UpdatePolicy mutates the local forwarding policy fields; the caller
// (network package) is responsible for building and signing the resulting
// channel-update announcement with an incremented timestamp.
func (c *ChannelActorState) UpdatePolicy(feeBaseMsat, feeProportional *uint32, minValue, maxValue *fbtypes.Amount) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if feeBaseMsat != nil {
		c.Params.FeeBaseMsat = *feeBaseMsat
	}
	if feeProportional != nil {
		c.Params.FeeProportionalMillionths = *feeProportional
	}
	if minValue != nil {
		c.Params.TlcMinValue = *minValue
	}
	if maxValue != nil {
		c.Params.TlcMaxValue = *maxValue
	}
}

// CheckInvariants verifies the balance-conservation and bound invariants
// from spec.md 3. Intended for use in tests and as a defensive assertion
// after each mutating command.
func (c *ChannelActorState) CheckInvariants() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	count, value := c.totalInFlight()

	total := c.LocalBalance.Add(c.RemoteBalance).Add(value)
	if total.Cmp(c.Capacity) != 0 {
		return fmt.Errorf("lnwallet: balance invariant violated: %s + %s + %s != %s",
			c.LocalBalance, c.RemoteBalance, value, c.Capacity)
	}
	if count > c.Params.MaxTlcNumberInFlight {
		return fmt.Errorf("lnwallet: tlc count %d exceeds max %d", count, c.Params.MaxTlcNumberInFlight)
	}
	if value.GreaterThan(c.Params.MaxTlcValueInFlight) {
		return fmt.Errorf("lnwallet: tlc value %s exceeds max %s", value, c.Params.MaxTlcValueInFlight)
	}
	for _, t := range c.OfferedTlcs {
		if t.Amount.LessThan(c.Params.TlcMinValue) || t.Amount.GreaterThan(c.Params.TlcMaxValue) {
			return fmt.Errorf("lnwallet: offered tlc %d amount %s out of bounds", t.ID, t.Amount)
		}
	}
	for _, t := range c.ReceivedTlcs {
		if t.Amount.LessThan(c.Params.TlcMinValue) || t.Amount.GreaterThan(c.Params.TlcMaxValue) {
			return fmt.Errorf("lnwallet: received tlc %d amount %s out of bounds", t.ID, t.Amount)
		}
	}
	return nil
}
