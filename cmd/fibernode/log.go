package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	rotator "github.com/jrick/logrotate/rotator"

	"github.com/EthanYuan/fiber/network"
	"github.com/EthanYuan/fiber/payment"
	"github.com/EthanYuan/fiber/rpc"
)

// logWriter multiplexes subsystem log lines to both stdout and the
// rotator, mirroring the teacher's build.LogWriter without the extra
// dependency on the lnd-specific build package.
type logWriter struct {
	rotatorPipe io.Writer
}

func (w *logWriter) Write(p []byte) (int, error) {
	os.Stdout.Write(p)
	if w.rotatorPipe != nil {
		w.rotatorPipe.Write(p)
	}
	return len(p), nil
}

var (
	logOutput  = &logWriter{}
	backendLog = btclog.NewBackend(logOutput)
	logRotator *rotator.Rotator

	ndLog   = backendLog.Logger("NODE")
	rpcLog  = backendLog.Logger("RPCS")
	chdbLog = backendLog.Logger("CHDB")
	pmntLog = backendLog.Logger("PMNT")

	subsystemLoggers = map[string]btclog.Logger{
		"NODE": ndLog,
		"RPCS": rpcLog,
		"CHDB": chdbLog,
		"PMNT": pmntLog,
	}
)

// initLogRotator initializes the rotating log file sink. It must run
// before any subsystem logger is used for file output to take effect.
func initLogRotator(logFile string, maxFileSizeMB, maxFiles int) error {
	logDir, _ := filepath.Split(logFile)
	if err := os.MkdirAll(logDir, 0700); err != nil {
		return fmt.Errorf("create log directory: %w", err)
	}
	r, err := rotator.New(logFile, int64(maxFileSizeMB*1024), false, maxFiles)
	if err != nil {
		return fmt.Errorf("create log rotator: %w", err)
	}

	pr, pw := io.Pipe()
	go r.Run(pr)

	logOutput.rotatorPipe = pw
	logRotator = r
	return nil
}

func setLogLevels(levelName string) {
	level, _ := btclog.LevelFromString(levelName)
	for _, logger := range subsystemLoggers {
		logger.SetLevel(level)
	}
}

// wireLoggers points the node and RPC server's Logf hooks at the
// NODE/RPCS subsystem loggers instead of the default no-op. The payment
// manager has no Logf hook of its own; its failures surface through the
// node and RPC layers that call it.
func wireLoggers(node *network.Node, srv *rpc.Server, _ *payment.Manager) {
	node.Logf = ndLog.Infof
	srv.Logf = rpcLog.Infof
}
