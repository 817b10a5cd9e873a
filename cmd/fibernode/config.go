package main

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/btcsuite/btcd/btcutil"
)

const (
	defaultConfigFilename = "fibernode.conf"
	defaultDataDirname    = "data"
	defaultLogLevel       = "info"
	defaultLogFilename    = "fibernode.log"
	defaultMaxLogFileSize = 10
	defaultMaxLogFiles    = 3
	defaultRPCListen      = "localhost:8227"
	defaultPeerID         = "self"
)

var defaultHomeDir = btcutil.AppDataDir("fibernode", false)

// config mirrors the teacher's loadConfig() struct, trimmed to this
// node's actual collaborators: no chain-specific RPC config since wallet
// key storage and on-chain fee policy are out of scope here.
type config struct {
	ShowVersion bool   `short:"V" long:"version" description:"Display version information and exit"`
	ConfigFile  string `long:"configfile" description:"Path to configuration file"`
	DataDir     string `short:"b" long:"datadir" description:"The directory to store the channel and payment databases"`

	RawNodeKey string `long:"nodekey" description:"Hex-encoded secp256k1 private key identifying this node; a fresh one is generated and logged if unset"`
	PeerID     string `long:"peerid" description:"Local peer identity string used by the in-process transport"`

	RPCListen string `long:"rpclisten" description:"Host:port the JSON-RPC server listens on"`

	LogDir         string `long:"logdir" description:"Directory to log output"`
	MaxLogFileSize int    `long:"maxlogfilesize" description:"Maximum logfile size in megabytes"`
	MaxLogFiles    int    `long:"maxlogfiles" description:"Maximum number of logfiles to keep"`
	DebugLevel     string `short:"d" long:"debuglevel" description:"Logging level for all subsystems"`
}

// defaultConfig returns a config filled with the same defaults the
// teacher's loadConfig() seeds before parsing flags/the config file over
// them.
func defaultConfig() config {
	return config{
		DataDir:        filepath.Join(defaultHomeDir, defaultDataDirname),
		PeerID:         defaultPeerID,
		RPCListen:      defaultRPCListen,
		LogDir:         filepath.Join(defaultHomeDir, "logs"),
		MaxLogFileSize: defaultMaxLogFileSize,
		MaxLogFiles:    defaultMaxLogFiles,
		DebugLevel:     defaultLogLevel,
	}
}

// loadConfig parses command-line flags over the seeded defaults,
// pre-parsed once to pick up --configfile, then an ini pass over that
// file, then the full flag parse again so command-line flags win over
// the file, mirroring lnd.go's loadConfig() two-pass precedence.
func loadConfig() (*config, error) {
	preCfg := defaultConfig()
	if _, err := flags.NewParser(&preCfg, flags.Default).Parse(); err != nil {
		return nil, err
	}

	cfg := defaultConfig()
	configFile := preCfg.ConfigFile
	if configFile == "" {
		configFile = filepath.Join(defaultHomeDir, defaultConfigFilename)
	}
	if _, err := os.Stat(configFile); err == nil {
		if err := flags.NewIniParser(flags.NewParser(&cfg, flags.Default)).ParseFile(configFile); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	parser := flags.NewParser(&cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		return nil, err
	}

	if cfg.ShowVersion {
		fmt.Println(appName, "version", version())
		os.Exit(0)
	}

	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data directory: %w", err)
	}

	logFile := filepath.Join(cfg.LogDir, defaultLogFilename)
	if err := initLogRotator(logFile, cfg.MaxLogFileSize, cfg.MaxLogFiles); err != nil {
		return nil, err
	}
	setLogLevels(cfg.DebugLevel)

	return &cfg, nil
}

// nodeKeyBytes decodes the configured hex private key, if any.
func (c *config) nodeKeyBytes() ([]byte, error) {
	if c.RawNodeKey == "" {
		return nil, nil
	}
	return hex.DecodeString(c.RawNodeKey)
}
