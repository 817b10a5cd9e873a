package chainntfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMockOracleConfirm(t *testing.T) {
	oracle := NewMockOracle()
	var txid [32]byte
	txid[0] = 0x01

	_, err := oracle.Confirm(context.Background(), txid)
	require.Error(t, err)

	oracle.SetConfirmation(txid, Confirmation{BlockNumber: 100, Confirmations: 6})
	c, err := oracle.Confirm(context.Background(), txid)
	require.NoError(t, err)
	require.Equal(t, uint32(6), c.Confirmations)
}

func TestMockOracleBroadcast(t *testing.T) {
	oracle := NewMockOracle()
	require.NoError(t, oracle.Broadcast(context.Background(), []byte("tx")))
	require.Len(t, oracle.Broadcasted(), 1)
}
