package engine

import (
	"context"
	"fmt"
	"os/exec"
	"time"

	"github.com/ahmed-tasaly/ghermez/pkg/logger"
)

const (
	// startupGrace is how long the engine gets before the first
	// readiness probe.
	startupGrace = 2 * time.Second

	// probeInterval spaces the readiness probes after the grace period.
	probeInterval = 500 * time.Millisecond

	// probeDeadline bounds the whole startup wait.
	probeDeadline = 10 * time.Second
)

// StartOptions configures the engine subprocess.
type StartOptions struct {
	// Port is the RPC listen port.
	Port int

	// Aria2Path overrides the binary looked up on PATH when non-empty.
	Aria2Path string

	Log logger.Logger
}

// Start spawns the aria2 subprocess with RPC enabled and waits until
// it answers a version probe or the startup window elapses. On success
// it returns a connected Client and the engine's version string.
func Start(ctx context.Context, opts StartOptions) (*Client, string, error) {
	log := opts.Log
	if log == nil {
		log = logger.NewNopLogger()
	}
	bin := opts.Aria2Path
	if bin == "" {
		bin = "aria2c"
	}

	cmd := exec.Command(bin,
		"--no-conf",
		"--enable-rpc",
		fmt.Sprintf("--rpc-listen-port=%d", opts.Port),
		"--rpc-allow-origin-all",
		"--quiet=true",
	)
	if err := cmd.Start(); err != nil {
		return nil, "", fmt.Errorf("%w: failed to spawn %s: %v", ErrEngineNotStarted, bin, err)
	}
	// The engine keeps running past our exit; reap it in the background
	// so a crashed engine does not linger as a zombie.
	go func() { _ = cmd.Wait() }()

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case <-time.After(startupGrace):
	}

	client := NewClient(URLForPort(opts.Port), log)
	version, err := waitReady(ctx, client)
	if err != nil {
		client.Close()
		log.Error("aria2 didn't respond")
		return nil, "", err
	}
	log.Info("aria2 %s responding on port %d", version, opts.Port)
	return client, version, nil
}

// waitReady probes the version endpoint until it answers or the
// deadline passes.
func waitReady(ctx context.Context, client *Client) (string, error) {
	deadline := time.Now().Add(probeDeadline)
	var lastErr error
	for time.Now().Before(deadline) {
		probeCtx, cancel := context.WithTimeout(ctx, probeInterval)
		version, err := client.Version(probeCtx)
		cancel()
		if err == nil {
			return version, nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(probeInterval):
		}
	}
	return "", fmt.Errorf("%w: %v", ErrEngineNotStarted, lastErr)
}
