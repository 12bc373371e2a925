package ws

import (
	"time"

	"go.uber.org/zap"
)

// HeartbeatConfig holds heartbeat tuning parameters.
type HeartbeatConfig struct {
	Interval time.Duration // how often to ping (default: 30s)
	Timeout  time.Duration // max time to wait for activity after ping (default: 10s)
}

// DefaultHeartbeatConfig returns sensible defaults for heartbeat monitoring.
func DefaultHeartbeatConfig() HeartbeatConfig {
	return HeartbeatConfig{
		Interval: 30 * time.Second,
		Timeout:  10 * time.Second,
	}
}

// startHeartbeat begins a background goroutine that periodically sends
// WebSocket ping frames to all connections and drops those that have gone
// stale (no client activity within Interval + Timeout). It returns
// immediately; the goroutine exits when the stream's done channel closes.
func startHeartbeat(s *Stream, config HeartbeatConfig) {
	go func() {
		ticker := time.NewTicker(config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-s.done:
				return
			case <-ticker.C:
				checkConnections(s, config)
			}
		}
	}()
}

// checkConnections iterates over all active connections. Connections with
// no client activity within Interval + Timeout are considered dead and are
// dropped. All other connections receive a WebSocket-level ping frame
// (opcode 0x9) which the browser answers automatically with a pong.
func checkConnections(s *Stream, config HeartbeatConfig) {
	deadline := config.Interval + config.Timeout
	now := time.Now()

	for _, c := range s.reg.All() {
		if idle := now.Sub(c.LastActive()); idle > deadline {
			s.log.Info("heartbeat timeout",
				zap.String("conn", c.ID),
				zap.String("actor", c.ActorKey),
				zap.Duration("idle", idle.Round(time.Second)))
			s.drop(c)
			continue
		}

		if err := c.WritePing(); err != nil {
			s.log.Debug("heartbeat ping failed", zap.String("conn", c.ID), zap.Error(err))
			s.drop(c)
		}
	}
}
