package lnwire

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/EthanYuan/fiber/fbtypes"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	var channelID fbtypes.Hash256
	channelID[0] = 0x42

	original := &AddTlc{
		ChannelID:      channelID,
		TlcID:          7,
		Amount:         fbtypes.NewAmount(1234),
		ExpiryLocktime: fbtypes.LockTime(500),
		HashAlgorithm:  fbtypes.HashAlgorithmSha256,
		OnionPacket:    []byte{0x01, 0x02, 0x03},
	}

	raw, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)

	got, ok := decoded.(*AddTlc)
	require.True(t, ok)
	require.Equal(t, original.ChannelID, got.ChannelID)
	require.Equal(t, original.TlcID, got.TlcID)
	require.Equal(t, original.Amount.String(), got.Amount.String())
	require.Equal(t, original.OnionPacket, got.OnionPacket)
}

func TestDecodeUnknownType(t *testing.T) {
	_, err := Decode([]byte(`{"type":999,"payload":{}}`))
	require.Error(t, err)

	var unknown *UnknownMessageError
	require.ErrorAs(t, err, &unknown)
	require.Equal(t, MessageType(999), unknown.Type)
}

func TestShutdownRoundTrip(t *testing.T) {
	var channelID fbtypes.Hash256
	channelID[1] = 0x99

	original := &Shutdown{ChannelID: channelID, CloseScript: []byte("script"), Force: true}
	raw, err := Encode(original)
	require.NoError(t, err)

	decoded, err := Decode(raw)
	require.NoError(t, err)
	got, ok := decoded.(*Shutdown)
	require.True(t, ok)
	require.True(t, got.Force)
	require.Equal(t, "script", string(got.CloseScript))
}
