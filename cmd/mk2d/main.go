// Command mk2d runs the MK2 dispatch runtime interactively: stdin in,
// stdout out, with optional Redis memory, LLM answering and a
// Prometheus metrics endpoint.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/murphys7017/mk2"
	"github.com/murphys7017/mk2/adapters"
	mk2agent "github.com/murphys7017/mk2/agent"
	"github.com/murphys7017/mk2/core"
	"github.com/murphys7017/mk2/llm"
	"github.com/murphys7017/mk2/logging"
	"github.com/murphys7017/mk2/memory"
	"github.com/murphys7017/mk2/telemetry"
)

func main() {
	var (
		gateConfig  = flag.String("gate-config", "", "path to gate.yaml (hot-reloaded)")
		redisURL    = flag.String("redis-url", "", "redis URL for the memory service (empty disables persistence)")
		metricsAddr = flag.String("metrics-addr", "", "address for /metrics (empty disables)")
		logLevel    = flag.String("log-level", "info", "log level")
		logFile     = flag.String("log-file", "", "log file path (rotated; empty logs to stderr)")
		actorID     = flag.String("actor", "local", "actor id for stdin messages")
		tick        = flag.Duration("tick", 10*time.Second, "system schedule tick interval")
	)
	flag.Parse()

	logCfg := logging.DefaultConfig()
	logCfg.Level = *logLevel
	logCfg.FilePath = *logFile
	logger := logging.New(logCfg)
	defer logger.Sync()

	var sink core.Telemetry = &core.NoOpTelemetry{}
	if *metricsAddr != "" {
		prom := telemetry.NewPrometheusSink(logger)
		sink = prom
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", prom.Handler())
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil {
				logger.Error("Metrics server failed", map[string]interface{}{
					"addr":  *metricsAddr,
					"error": err.Error(),
				})
			}
		}()
	}

	var mem core.MemoryService = &core.NoOpMemory{}
	if *redisURL != "" {
		memCfg := memory.DefaultConfig()
		memCfg.RedisURL = *redisURL
		svc, err := memory.NewRedisService(memCfg, logger)
		if err != nil {
			logger.Error("Memory service unavailable, running without persistence", map[string]interface{}{
				"error": err.Error(),
			})
		} else {
			mem = svc
		}
	}

	handler := buildAgent(logger)

	rt := mk2.New(
		mk2.WithLogger(logger),
		mk2.WithTelemetry(sink),
		mk2.WithAgent(handler),
		mk2.WithMemory(mem),
		mk2.WithGateConfigPath(*gateConfig),
		mk2.WithDefaultOutput(adapters.NewStdoutAdapter()),
		mk2.WithInputAdapter(adapters.NewStdinAdapter(*actorID, logger)),
		mk2.WithInputAdapter(adapters.NewTimerAdapter(*tick, logger)),
	)

	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		logger.Error("Runtime start failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	stopCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rt.Stop(stopCtx); err != nil {
		logger.Error("Runtime stop failed", map[string]interface{}{"error": err.Error()})
		os.Exit(1)
	}
}

// buildAgent wires the LLM answerer when a key is configured and falls
// back to the echo handler otherwise.
func buildAgent(logger core.Logger) mk2agent.Agent {
	if os.Getenv("MK2_LLM_API_KEY") == "" {
		logger.Info("MK2_LLM_API_KEY not set, using echo agent", nil)
		return &mk2agent.EchoAgent{}
	}
	cfg := llm.DefaultConfig()
	cfg.APIKey = "<MK2_LLM_API_KEY>"
	if base := os.Getenv("MK2_LLM_BASE_URL"); base != "" {
		cfg.BaseURL = base
	}
	if model := os.Getenv("MK2_LLM_MODEL"); model != "" {
		cfg.Model = model
	}
	client, err := llm.NewClient(cfg, logger)
	if err != nil {
		logger.Error("LLM client init failed, using echo agent", map[string]interface{}{
			"error": err.Error(),
		})
		return &mk2agent.EchoAgent{}
	}
	return mk2agent.NewAnswerer(client, logger)
}
