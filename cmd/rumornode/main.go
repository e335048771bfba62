// Package main provides the rumornode entry point: wires a Node to a
// gossip Bus and exposes a thin admin surface. No persistence Store is
// wired; all node state is held in memory and lost on exit.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rumornet/core/internal/config"
	"github.com/rumornet/core/internal/corepb"
	"github.com/rumornet/core/internal/envelope"
	"github.com/rumornet/core/internal/identity"
	"github.com/rumornet/core/internal/transport"
	"github.com/rumornet/core/pkg/metrics"
	"github.com/rumornet/core/pkg/node"
	"go.uber.org/zap"
)

// gossipPeer is the peer identity used to key cooldown bookkeeping for
// the anti-entropy sync cycle. The transport is pure topic-addressed
// pub/sub with no fixed peer set, so every node treats the rest of the
// mesh as a single broadcast partner.
const gossipPeer = "broadcast"

// topics maps each gossip topic (spec.md §6) to the OpType it carries.
var topics = map[string]corepb.OpType{
	"/rumors/1.0":    corepb.OpRumor,
	"/votes/1.0":     corepb.OpVote,
	"/identity/1.0":  corepb.OpJoin,
	"/tombstone/1.0": corepb.OpTombstone,
	"/sync/1.0":      corepb.OpSyncRequest, // topic also carries OpSyncResponse
}

func main() {
	cfg := config.Load()

	logger, _ := zap.NewProduction()
	defer logger.Sync()

	m := metrics.NewMetrics()
	n := node.New(logger, m, defaultMembershipVerifier(), defaultDKIMVerifier())
	defer n.Close()

	bus, err := transport.NewNATSBus(cfg.NATS.URL)
	var gossipBus transport.Bus
	if err != nil {
		logger.Warn("NATS unavailable, falling back to in-memory bus", zap.Error(err))
		gossipBus = transport.NewInMemoryBus()
	} else {
		gossipBus = bus
	}
	defer gossipBus.Close()

	ctx, cancelSub := context.WithCancel(context.Background())
	defer cancelSub()

	// syncValidator parses incoming SYNC_REQUEST/SYNC_RESPONSE envelopes
	// only; those ops carry no nullifier and never touch the node's
	// dedup state, so a dedicated instance keeps that parsing off the
	// node's logical core.
	syncValidator := envelope.NewValidator(logger, nil, nil)

	for topic := range topics {
		topic := topic
		if topic == "/sync/1.0" {
			if _, err := gossipBus.Subscribe(ctx, topic, func(ctx context.Context, payload []byte) {
				handleSyncEnvelope(ctx, logger, n, gossipBus, syncValidator, payload)
			}); err != nil {
				logger.Fatal("failed to subscribe", zap.String("topic", topic), zap.Error(err))
			}
			continue
		}
		if _, err := gossipBus.Subscribe(ctx, topic, func(ctx context.Context, payload []byte) {
			if err := n.Ingest(ctx, payload); err != nil {
				logger.Debug("envelope rejected", zap.String("topic", topic), zap.Error(err))
			}
		}); err != nil {
			logger.Fatal("failed to subscribe", zap.String("topic", topic), zap.Error(err))
		}
	}

	go runSyncCycles(ctx, logger, n, gossipBus, cfg.Sync.Cooldown)

	router := gin.Default()

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now()})
	})

	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{})))

	router.GET("/snapshot", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		snap, err := n.Snapshot(reqCtx)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, snap)
	})

	router.GET("/reputation/:nullifier", func(c *gin.Context) {
		nullifier := corepb.Nullifier(c.Param("nullifier"))
		acc, ok := n.Reputation(nullifier)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "unknown account"})
			return
		}
		c.JSON(http.StatusOK, acc)
	})

	router.GET("/trust/:rumorId", func(c *gin.Context) {
		reqCtx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		rumorID := corepb.RumorID(c.Param("rumorId"))
		score, err := n.QueryTrust(reqCtx, rumorID, nil)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"rumorId": rumorID, "trustScore": score})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		logger.Info("starting rumornode admin server", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("admin server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("shutting down rumornode")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("admin server forced to shutdown", zap.Error(err))
	}
	logger.Info("rumornode exited gracefully")
}

// syncDefaultCooldown is used if the configured cooldown is non-positive.
const syncDefaultCooldown = 30 * time.Second

// runSyncCycles drives the periodic anti-entropy sync cycle (§4.I):
// every cooldown interval, build a SYNC_REQUEST from the node's
// current roots and broadcast it on /sync/1.0. The engine's own
// per-peer cooldown makes this safe to call more often than the
// cooldown elapses; the extra ticks are simply refused.
func runSyncCycles(ctx context.Context, logger *zap.Logger, n *node.Node, bus transport.Bus, cooldown time.Duration) {
	if cooldown <= 0 {
		cooldown = syncDefaultCooldown
	}
	ticker := time.NewTicker(cooldown)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			req, ok, err := n.BuildSyncRequest(ctx, gossipPeer)
			if err != nil {
				logger.Debug("sync request build failed", zap.Error(err))
				continue
			}
			if !ok {
				continue
			}
			payload, err := envelope.EncodeSyncRequest(req)
			if err != nil {
				logger.Warn("sync request encode failed", zap.Error(err))
				continue
			}
			if err := bus.Publish(ctx, "/sync/1.0", payload); err != nil {
				logger.Warn("sync request publish failed", zap.Error(err))
			}
		}
	}
}

// handleSyncEnvelope parses one /sync/1.0 gossip message and dispatches
// it to the node: a SYNC_REQUEST is answered with a SYNC_RESPONSE
// published back onto the same topic; a SYNC_RESPONSE is applied as
// read-repair.
func handleSyncEnvelope(ctx context.Context, logger *zap.Logger, n *node.Node, bus transport.Bus, validator *envelope.Validator, payload []byte) {
	res := validator.Validate(ctx, payload)
	if res.Dropped != "" {
		logger.Debug("sync envelope dropped", zap.String("reason", string(res.Dropped)))
		return
	}

	switch res.Op.Type {
	case corepb.OpSyncRequest:
		if res.Op.SyncRequest == nil {
			return
		}
		req := *res.Op.SyncRequest
		req.Peer = gossipPeer // wire schema carries only roots; the topic has no per-peer identity
		resp, err := n.HandleSyncRequest(ctx, req)
		if err != nil {
			logger.Debug("sync request handling failed", zap.Error(err))
			return
		}
		out, err := envelope.EncodeSyncResponse(resp)
		if err != nil {
			logger.Warn("sync response encode failed", zap.Error(err))
			return
		}
		if err := bus.Publish(ctx, "/sync/1.0", out); err != nil {
			logger.Warn("sync response publish failed", zap.Error(err))
		}

	case corepb.OpSyncResponse:
		if res.Op.SyncResponse == nil {
			return
		}
		if _, err := n.ApplySyncResponse(ctx, gossipPeer, *res.Op.SyncResponse); err != nil {
			logger.Debug("sync response apply failed", zap.Error(err))
		}
	}
}

// defaultMembershipVerifier returns the MembershipVerifier collaborator
// wired into the node's validator. No external zero-knowledge verifier
// is configured for this deployment yet, so proofs are trusted as
// self-declared (local/test operation).
func defaultMembershipVerifier() identity.MembershipVerifier {
	return nil
}

// defaultDKIMVerifier returns the DKIMVerifier collaborator wired into
// the node's validator. No external DKIM verifier is configured for
// this deployment yet, so JOIN proofs are trusted as self-declared.
func defaultDKIMVerifier() identity.DKIMVerifier {
	return nil
}
