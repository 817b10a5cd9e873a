package main

import (
	"os"

	"github.com/jedib0t/go-pretty/v6/table"
)

// printChannelTable renders listchannels output the way an operator
// reads it day to day: one row per channel, balances in whole units
// rather than the wire's 0x-hex encoding.
func printChannelTable(channels []channelSummary) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.AppendHeader(table.Row{"Channel ID", "Peer", "State", "Local", "Remote", "Offered TLC", "Received TLC"})
	for _, c := range channels {
		t.AppendRow(table.Row{
			c.ChannelID, c.PeerID, c.State,
			c.LocalBalance.Uint64(), c.RemoteBalance.Uint64(),
			c.OfferedTlcBalance.Uint64(), c.ReceivedTlcBalance.Uint64(),
		})
	}
	t.Render()
}
