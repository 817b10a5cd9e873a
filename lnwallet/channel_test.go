package lnwallet

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/ferrors"
)

func testParams() ChannelParams {
	return ChannelParams{
		TlcMinValue:          fbtypes.NewAmount(10),
		TlcMaxValue:          fbtypes.NewAmount(100_000),
		MaxTlcValueInFlight:  fbtypes.NewAmount(200_000),
		MaxTlcNumberInFlight: 5,
		MinFeeRate:           1,
		LocktimeExpiryDelta:  40,
	}
}

func readyChannel(t *testing.T) *ChannelActorState {
	t.Helper()
	var id fbtypes.Hash256
	id[0] = 0xaa
	c, err := NewOpeningChannel(id, fbtypes.PeerId("peer-1"), fbtypes.NewAmount(1_000_000), testParams(), 1)
	require.NoError(t, err)
	require.NoError(t, c.MarkFundingSigned("txid:0"))
	require.NoError(t, c.MarkChannelReady())
	return c
}

func TestOpenChannelValidatesBounds(t *testing.T) {
	params := testParams()
	params.TlcMinValue = fbtypes.NewAmount(100_001)
	var id fbtypes.Hash256
	_, err := NewOpeningChannel(id, fbtypes.PeerId("peer-1"), fbtypes.NewAmount(1_000_000), params, 1)
	require.Error(t, err)
}

func TestOpenChannelRejectsZeroFunding(t *testing.T) {
	var id fbtypes.Hash256
	_, err := NewOpeningChannel(id, fbtypes.PeerId("peer-1"), fbtypes.NewAmount(0), testParams(), 1)
	require.Error(t, err)
}

func TestAddTlcRequiresChannelReady(t *testing.T) {
	var id fbtypes.Hash256
	c, err := NewOpeningChannel(id, fbtypes.PeerId("peer-1"), fbtypes.NewAmount(1_000_000), testParams(), 1)
	require.NoError(t, err)

	var hash fbtypes.Hash256
	_, err = c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.Error(t, err)
	fe, ok := err.(*ferrors.FiberError)
	require.True(t, ok)
	require.Equal(t, ferrors.CodeIllegalState, fe.Code)
}

func TestAddTlcDebitsLocalBalance(t *testing.T) {
	c := readyChannel(t)

	var hash fbtypes.Hash256
	id, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.NoError(t, err)
	require.Equal(t, uint64(0), id)

	require.Equal(t, fbtypes.NewAmount(999_000).String(), c.LocalBalance.String())
	require.NoError(t, c.CheckInvariants())
}

func TestAddTlcRejectsOutOfRangeAmount(t *testing.T) {
	c := readyChannel(t)
	var hash fbtypes.Hash256

	_, err := c.AddTlc(fbtypes.NewAmount(1), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.Error(t, err)
	fe := err.(*ferrors.FiberError)
	require.Equal(t, ferrors.CodeTlcValueOutOfRange, fe.Code)
}

func TestAddTlcRejectsInsufficientBalance(t *testing.T) {
	c := readyChannel(t)
	var hash fbtypes.Hash256

	_, err := c.AddTlc(fbtypes.NewAmount(2_000_000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.Error(t, err)
	fe := err.(*ferrors.FiberError)
	require.Equal(t, ferrors.CodeInsufficientBalance, fe.Code)
}

func TestAddTlcRejectsExpiryTooSoon(t *testing.T) {
	c := readyChannel(t)
	var hash fbtypes.Hash256

	_, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(20), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.Error(t, err)
	fe := err.(*ferrors.FiberError)
	require.Equal(t, ferrors.CodeExpiryTooSoon, fe.Code)
}

func TestAddTlcRejectsTooManyInFlight(t *testing.T) {
	c := readyChannel(t)
	var hash fbtypes.Hash256

	for i := 0; i < 5; i++ {
		_, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
		require.NoError(t, err)
	}
	_, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.Error(t, err)
	fe := err.(*ferrors.FiberError)
	require.Equal(t, ferrors.CodeTooManyInflightTlcs, fe.Code)
}

func TestRemoveOfferedTlcFulfillRequiresMatchingPreimage(t *testing.T) {
	c := readyChannel(t)
	preimage := fbtypes.Hash256{0x01}
	hash := fbtypes.HashAlgorithmSha256.Digest(preimage)

	id, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.NoError(t, err)

	wrongPreimage := fbtypes.Hash256{0x02}
	_, err = c.RemoveOfferedTlc(id, RemoveTlcReason{Fulfill: &wrongPreimage})
	require.Error(t, err)

	tlc, err := c.RemoveOfferedTlc(id, RemoveTlcReason{Fulfill: &preimage})
	require.NoError(t, err)
	require.Equal(t, id, tlc.ID)
	require.Equal(t, fbtypes.NewAmount(1000).String(), c.RemoteBalance.String())
	require.NoError(t, c.CheckInvariants())
}

func TestRemoveOfferedTlcFailCreditsLocalBalance(t *testing.T) {
	c := readyChannel(t)
	var hash fbtypes.Hash256

	id, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.NoError(t, err)

	code := ferrors.CodeProtocolViolation
	_, err = c.RemoveOfferedTlc(id, RemoveTlcReason{FailCode: &code})
	require.NoError(t, err)
	require.Equal(t, fbtypes.NewAmount(1_000_000).String(), c.LocalBalance.String())
	require.NoError(t, c.CheckInvariants())
}

func TestRemoveUnknownTlc(t *testing.T) {
	c := readyChannel(t)
	code := ferrors.CodeProtocolViolation
	_, err := c.RemoveOfferedTlc(999, RemoveTlcReason{FailCode: &code})
	require.Error(t, err)
	fe := err.(*ferrors.FiberError)
	require.Equal(t, ferrors.CodeUnknownTlc, fe.Code)
}

func TestCommitmentSignedAdvancesCounters(t *testing.T) {
	c := readyChannel(t)
	require.NoError(t, c.CommitmentSigned())
	require.Equal(t, uint64(1), c.CommitmentNumberLocal)
	require.Equal(t, uint64(1), c.CommitmentNumberRemote)
}

func TestShutdownLifecycle(t *testing.T) {
	c := readyChannel(t)
	require.NoError(t, c.BeginShutdown([]byte("close-script"), false))
	require.Equal(t, StateShuttingDown, c.State)
	require.NoError(t, c.FinishShutdown())
	require.Equal(t, StateClosed, c.State)
}

func TestShutdownWithPendingTlcsRefusesFinish(t *testing.T) {
	c := readyChannel(t)
	var hash fbtypes.Hash256
	_, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.NoError(t, err)

	require.NoError(t, c.BeginShutdown(nil, false))
	err = c.FinishShutdown()
	require.Error(t, err)
}

func TestForceShutdownClosesImmediately(t *testing.T) {
	c := readyChannel(t)
	require.NoError(t, c.BeginShutdown(nil, true))
	require.Equal(t, StateClosed, c.State)
	require.True(t, c.ForceClosed)
}

func TestForceCloseFromAnyState(t *testing.T) {
	var id fbtypes.Hash256
	c, err := NewOpeningChannel(id, fbtypes.PeerId("peer-1"), fbtypes.NewAmount(1_000_000), testParams(), 1)
	require.NoError(t, err)
	require.NoError(t, c.ForceClose())
	require.Equal(t, StateClosed, c.State)

	err = c.ForceClose()
	require.Error(t, err)
}

func TestMarshalRoundTrip(t *testing.T) {
	c := readyChannel(t)
	var hash fbtypes.Hash256
	_, err := c.AddTlc(fbtypes.NewAmount(1000), hash, fbtypes.LockTime(100), fbtypes.HashAlgorithmSha256, nil, nil, 40, 10)
	require.NoError(t, err)

	raw, err := c.MarshalBinary()
	require.NoError(t, err)

	var restored ChannelActorState
	require.NoError(t, restored.UnmarshalBinary(raw))
	require.Equal(t, c.ID, restored.ID)
	require.Equal(t, c.LocalBalance.String(), restored.LocalBalance.String())
	require.Len(t, restored.OfferedTlcs, 1)
}
