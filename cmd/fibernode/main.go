package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"syscall"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/chaincfg"
	flags "github.com/jessevdk/go-flags"
	sphinx "github.com/lightningnetwork/lightning-onion"

	"github.com/EthanYuan/fiber/chainntfs"
	"github.com/EthanYuan/fiber/channeldb"
	"github.com/EthanYuan/fiber/fbtypes"
	"github.com/EthanYuan/fiber/lnwallet"
	"github.com/EthanYuan/fiber/network"
	"github.com/EthanYuan/fiber/payment"
	"github.com/EthanYuan/fiber/routing"
	"github.com/EthanYuan/fiber/rpc"
	"github.com/EthanYuan/fiber/transport"
)

const appName = "fibernode"

func version() string { return "0.1.0" }

// fibernodeMain is the true entry point. It is a separate function from
// main so that deferred cleanup (db close, log rotator) runs even when
// an early step returns an error, rather than going through os.Exit.
func fibernodeMain() error {
	cfg, err := loadConfig()
	if err != nil {
		if e, ok := err.(*flags.Error); ok && e.Type == flags.ErrHelp {
			return nil
		}
		return err
	}
	ndLog.Infof("Version %s", version())

	store, err := channeldb.Open(cfg.DataDir)
	if err != nil {
		ndLog.Errorf("unable to open channel store: %v", err)
		return err
	}
	defer store.Close()

	identityPriv, identity, err := loadOrGenerateIdentity(cfg)
	if err != nil {
		ndLog.Errorf("unable to establish node identity: %v", err)
		return err
	}
	ndLog.Infof("Node identity: %s", identity)

	// TODO: derive a rotating onion key instead of reusing the node's
	// long-term identity key for every Sphinx layer.
	sphinxRouter := sphinx.NewRouter(identityPriv, &chaincfg.MainNetParams)

	graph := routing.NewGraph(store)
	oracle := chainntfs.NewMockOracle()

	peerID := fbtypes.PeerId(cfg.PeerID)
	localTransport := transport.NewMockTransport(peerID)

	node := network.New(identity, peerID, store, graph, oracle, localTransport, defaultChannelParams(), sphinxRouter)
	defer node.Stop()

	paymentMgr := payment.NewManager(store, graph, node, identity, payment.NewSphinxOnionBuilder())
	node.SetPaymentResultHandler(paymentMgr)

	rpcServer := rpc.NewServer(node, paymentMgr)
	wireLoggers(node, rpcServer, paymentMgr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go node.Run(ctx)

	httpServer := &http.Server{Addr: cfg.RPCListen, Handler: rpcServer}
	go func() {
		rpcLog.Infof("RPC server listening on %s", cfg.RPCListen)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			rpcLog.Errorf("rpc server stopped: %v", err)
		}
	}()

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt, syscall.SIGTERM)
	<-interrupt

	ndLog.Info("Received shutdown signal, stopping...")
	_ = httpServer.Shutdown(context.Background())
	ndLog.Info("Shutdown complete")
	return nil
}

// loadOrGenerateIdentity decodes the configured node key or, if none was
// given, generates and logs a fresh one. Wallet-backed key storage is
// out of scope, so an ephemeral or operator-supplied key is all this
// daemon ever manages. The returned private key doubles as this node's
// Sphinx onion key.
func loadOrGenerateIdentity(cfg *config) (*btcec.PrivateKey, fbtypes.Pubkey, error) {
	keyBytes, err := cfg.nodeKeyBytes()
	if err != nil {
		return nil, fbtypes.Pubkey{}, fmt.Errorf("decode nodekey: %w", err)
	}
	if keyBytes != nil {
		priv, pub := btcec.PrivKeyFromBytes(keyBytes)
		return priv, fbtypes.NewPubkey(pub), nil
	}

	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fbtypes.Pubkey{}, err
	}
	ndLog.Warnf("No nodekey configured, generated an ephemeral identity for this run")
	return priv, fbtypes.NewPubkey(priv.PubKey()), nil
}

// defaultChannelParams returns the channel policy this node proposes
// when opening or accepting channels. Fee and bound tuning is an
// operator concern (update_channel), so these are conservative
// defaults rather than config fields.
func defaultChannelParams() lnwallet.ChannelParams {
	return lnwallet.ChannelParams{
		TlcMinValue:               fbtypes.NewAmount(1),
		TlcMaxValue:               fbtypes.NewAmount(1_000_000_000),
		MaxTlcValueInFlight:       fbtypes.NewAmount(1_000_000_000),
		MaxTlcNumberInFlight:      30,
		FeeProportionalMillionths: 1000,
		FeeBaseMsat:               1000,
		LocktimeExpiryDelta:       40,
		MinFeeRate:                1,
	}
}

func main() {
	runtime.GOMAXPROCS(runtime.NumCPU())

	if err := fibernodeMain(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
