package main

import (
	"encoding/hex"
	"fmt"

	"github.com/urfave/cli"

	"github.com/EthanYuan/fiber/fbtypes"
)

func parseHash256(s string) (fbtypes.Hash256, error) {
	var h fbtypes.Hash256
	raw, err := hex.DecodeString(s)
	if err != nil {
		return h, err
	}
	if len(raw) != 32 {
		return h, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	copy(h[:], raw)
	return h, nil
}

var openChannelCommand = cli.Command{
	Name:      "openchannel",
	Category:  "Channels",
	Usage:     "Open a channel with a peer.",
	ArgsUsage: "peer_id funding_amount",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "peer_id", Usage: "identity of the peer to open a channel with"},
		cli.Uint64Flag{Name: "funding_amount", Usage: "amount to fund the channel with"},
	},
	Action: openChannel,
}

func openChannel(ctx *cli.Context) error {
	args := ctx.Args()
	peerID := ctx.String("peer_id")
	if peerID == "" && args.Present() {
		peerID = args.First()
		args = args.Tail()
	}
	if peerID == "" {
		return cli.ShowCommandHelp(ctx, "openchannel")
	}
	funding := ctx.Uint64("funding_amount")
	if funding == 0 && args.Present() {
		fmt.Sscanf(args.First(), "%d", &funding)
	}

	params := struct {
		PeerID        fbtypes.PeerId `json:"peer_id"`
		FundingAmount fbtypes.Amount `json:"funding_amount"`
	}{
		PeerID:        fbtypes.PeerId(peerID),
		FundingAmount: fbtypes.NewAmount(funding),
	}

	var result struct {
		TemporaryChannelID fbtypes.Hash256 `json:"temporary_channel_id"`
	}
	if err := call(ctx, "open_channel", params, &result); err != nil {
		return err
	}
	printJSON(result)
	return nil
}

var listChannelsCommand = cli.Command{
	Name:     "listchannels",
	Category: "Channels",
	Usage:    "List this node's channels, optionally filtered to one peer.",
	Flags: []cli.Flag{
		cli.StringFlag{Name: "peer_id", Usage: "restrict the listing to this peer"},
		cli.BoolFlag{Name: "json", Usage: "print the raw JSON response instead of a table"},
	},
	Action: listChannels,
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

func listChannels(ctx *cli.Context) error {
	var params struct {
		PeerID *fbtypes.PeerId `json:"peer_id,omitempty"`
	}
	if p := ctx.String("peer_id"); p != "" {
		id := fbtypes.PeerId(p)
		params.PeerID = &id
	}

	var result struct {
		Channels []channelSummary `json:"channels"`
	}
	if err := call(ctx, "list_channels", params, &result); err != nil {
		return err
	}

	if ctx.Bool("json") {
		printJSON(result)
		return nil
	}
	printChannelTable(result.Channels)
	return nil
}

var sendPaymentCommand = cli.Command{
	Name:     "sendpayment",
	Category: "Payments",
	Usage:    "Send a payment, either to an invoice or a manually specified destination.",
	Description: `
	Send a payment over the channel network. Either pass --invoice with a
	ckbinv-encoded payment request, or specify --dest, --amt and
	--payment_hash directly for a keysend-style payment.
	`,
	Flags: []cli.Flag{
		cli.StringFlag{Name: "invoice", Usage: "bech32-encoded payment request"},
		cli.StringFlag{Name: "dest", Usage: "hex-encoded identity pubkey of the recipient"},
		cli.Uint64Flag{Name: "amt", Usage: "amount to send"},
		cli.StringFlag{Name: "payment_hash", Usage: "hex-encoded payment hash"},
		cli.Uint64Flag{Name: "final_cltv_delta", Usage: "locktime delta the final hop must reveal the preimage within"},
		cli.Uint64Flag{Name: "max_fee_amount", Usage: "maximum total fee allowed across the route"},
		cli.BoolFlag{Name: "keysend", Usage: "generate a fresh preimage instead of requiring a registered invoice"},
		cli.BoolFlag{Name: "allow_self_payment", Usage: "allow a circular payment back to this node"},
	},
	Action: sendPayment,
}

func sendPayment(ctx *cli.Context) error {
	params := map[string]interface{}{}

	if inv := ctx.String("invoice"); inv != "" {
		params["invoice"] = inv
	} else {
		destHex := ctx.String("dest")
		if destHex == "" {
			return cli.ShowCommandHelp(ctx, "sendpayment")
		}
		var pub fbtypes.Pubkey
		destJSON := []byte(`"` + destHex + `"`)
		if err := pub.UnmarshalJSON(destJSON); err != nil {
			return fmt.Errorf("invalid dest pubkey: %w", err)
		}
		params["target_pubkey"] = pub
		params["amount"] = fbtypes.NewAmount(ctx.Uint64("amt"))
		if h := ctx.String("payment_hash"); h != "" {
			hash, err := parseHash256(h)
			if err != nil {
				return fmt.Errorf("invalid payment_hash: %w", err)
			}
			params["payment_hash"] = hash
		}
	}
	if ctx.IsSet("final_cltv_delta") {
		params["final_cltv_delta"] = uint16(ctx.Uint64("final_cltv_delta"))
	}
	if ctx.IsSet("max_fee_amount") {
		params["max_fee_amount"] = fbtypes.NewAmount(ctx.Uint64("max_fee_amount"))
	}
	if ctx.Bool("keysend") {
		params["keysend"] = true
	}
	if ctx.Bool("allow_self_payment") {
		params["allow_self_payment"] = true
	}

	var result interface{}
	if err := call(ctx, "send_payment", params, &result); err != nil {
		return err
	}
	printJSON(result)
	return nil
}

var getPaymentCommand = cli.Command{
	Name:      "getpayment",
	Category:  "Payments",
	Usage:     "Look up a payment's status by payment hash.",
	ArgsUsage: "payment_hash",
	Action:    getPayment,
}

func getPayment(ctx *cli.Context) error {
	if !ctx.Args().Present() {
		return cli.ShowCommandHelp(ctx, "getpayment")
	}
	hash, err := parseHash256(ctx.Args().First())
	if err != nil {
		return fmt.Errorf("invalid payment_hash: %w", err)
	}

	params := struct {
		PaymentHash fbtypes.Hash256 `json:"payment_hash"`
	}{PaymentHash: hash}

	var result interface{}
	if err := call(ctx, "get_payment", params, &result); err != nil {
		return err
	}
	printJSON(result)
	return nil
}
