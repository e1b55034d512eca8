// Command segfaultd runs the SEGFAULT engine supervisor behind a thin,
// intentionally-minimal WebSocket boundary: one /ws endpoint that accepts
// join/submit/perceive envelopes and a background loop that drives
// tick-all on the configured randomized cadence. It deliberately does not
// implement the full HTTP surface (persistence, leaderboard, chat
// history, web assets) that lies outside the engine's own concerns; it
// exists to give cmd/segfault-sim something real to drive.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/PStryder/SEGFAULT/internal/config"
	"github.com/PStryder/SEGFAULT/internal/replay"
	"github.com/PStryder/SEGFAULT/internal/shard"
	"github.com/PStryder/SEGFAULT/internal/supervisor"
	"github.com/PStryder/SEGFAULT/internal/telemetry"
)

var (
	configPath string
	verbose    bool
	listenAddr string
)

func main() {
	root := &cobra.Command{
		Use:   "segfaultd",
		Short: "SEGFAULT engine supervisor daemon",
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a YAML config file (defaults used when empty)")
	root.PersistentFlags().BoolVar(&verbose, "verbose", false, "enable debug-level logging")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "start the supervisor and its WebSocket boundary",
		RunE:  runDaemon,
	}
	runCmd.Flags().StringVar(&listenAddr, "listen", "127.0.0.1:8942", "address for the loopback WebSocket listener")
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runDaemon(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("segfaultd: load config: %w", err)
	}

	log, err := telemetry.New(verbose)
	if err != nil {
		return fmt.Errorf("segfaultd: build logger: %w", err)
	}
	defer func() { _ = log.Sync() }()

	recorder := replay.NewQueueRecorder(nil, cfg.ReplayQueueCapacity, log)
	defer recorder.Close()

	sup := supervisor.New(cfg, log, recorder)
	defer sup.Close()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	srv := &http.Server{Addr: listenAddr, Handler: buildMux(sup, log)}
	go func() {
		log.Info("segfaultd: listening", zap.String("addr", listenAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("segfaultd: listener failed", zap.Error(err))
		}
	}()

	go tickLoop(ctx, sup, cfg, log)

	<-ctx.Done()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	return srv.Shutdown(shutdownCtx)
}

// tickLoop drives tick-all at the configured randomized cadence, the
// reference schedule's 30-60s window generalized to cfg's min/max.
func tickLoop(ctx context.Context, sup *supervisor.Supervisor, cfg config.Config, log *zap.Logger) {
	for {
		span := cfg.TickCadence.MaxSeconds - cfg.TickCadence.MinSeconds
		wait := time.Duration(cfg.TickCadence.MinSeconds) * time.Second
		if span > 0 {
			wait += time.Duration(rand.IntN(span+1)) * time.Second
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
		if err := sup.TickAll(ctx); err != nil {
			log.Warn("segfaultd: tick-all returned an error", zap.Error(err))
		}
	}
}

func buildMux(sup *supervisor.Supervisor, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", buildWSHandler(sup, log))
	return mux
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(_ *http.Request) bool { return true },
}

// clientEnvelope is the inbound wire shape: one of join, submit, perceive.
type clientEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// serverEnvelope is the outbound wire shape.
type serverEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type joinPayload struct {
	CallSign string `json:"call_sign"`
}

type joinedPayload struct {
	ShardID      string `json:"shard_id"`
	ProcessID    string `json:"process_id"`
	SessionToken string `json:"session_token"`
}

type submitPayload struct {
	SessionToken string `json:"session_token"`
	Verb         string `json:"verb"` // MOVE, BUFFER, IDLE, BROADCAST, SAY
	Arg          int    `json:"arg"`
	Text         string `json:"text"`
}

type perceivePayload struct {
	SessionToken string `json:"session_token"`
}

type errorPayload struct {
	Message string `json:"message"`
}

func buildWSHandler(sup *supervisor.Supervisor, log *zap.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn("segfaultd: ws upgrade failed", zap.Error(err))
			return
		}
		defer func() { _ = conn.Close() }()

		for {
			_, raw, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var env clientEnvelope
			if json.Unmarshal(raw, &env) != nil {
				continue
			}
			handleEnvelope(conn, sup, log, env)
		}
	}
}

func handleEnvelope(conn *websocket.Conn, sup *supervisor.Supervisor, log *zap.Logger, env clientEnvelope) {
	switch env.Type {
	case "join":
		var p joinPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			writeError(conn, log, "malformed join payload")
			return
		}
		shardID, processID, token, err := sup.Join(p.CallSign)
		if err != nil {
			writeError(conn, log, err.Error())
			return
		}
		writeEnvelope(conn, log, "joined", joinedPayload{ShardID: shardID, ProcessID: processID, SessionToken: token})

	case "submit":
		var p submitPayload
		if json.Unmarshal(env.Payload, &p) != nil {
			writeError(conn, log, "malformed submit payload")
			return
		}
		if err := submitToSupervisor(sup, p); err != nil {
			writeError(conn, log, err.Error())
			return
		}
		writeEnvelope(conn, log, "submitted", nil)

	case "perceive":
		var p perceivePayload
		if json.Unmarshal(env.Payload, &p) != nil {
			writeError(conn, log, "malformed perceive payload")
			return
		}
		payload, err := sup.Perceive(p.SessionToken)
		if err != nil {
			writeError(conn, log, err.Error())
			return
		}
		writeEnvelope(conn, log, "perception", payload)

	default:
		writeError(conn, log, fmt.Sprintf("unknown envelope type %q", env.Type))
	}
}

func submitToSupervisor(sup *supervisor.Supervisor, p submitPayload) error {
	switch p.Verb {
	case "BROADCAST":
		return sup.Submit(p.SessionToken, shard.Command{}, p.Text, true, false)
	case "SAY":
		return sup.Submit(p.SessionToken, shard.Command{}, p.Text, false, true)
	case "MOVE":
		return sup.Submit(p.SessionToken, shard.Command{Verb: shard.VerbMove, Arg: p.Arg}, "", false, false)
	case "BUFFER":
		return sup.Submit(p.SessionToken, shard.Command{Verb: shard.VerbBuffer, Arg: p.Arg}, "", false, false)
	case "IDLE":
		return sup.Submit(p.SessionToken, shard.Command{Verb: shard.VerbIdle}, "", false, false)
	default:
		return fmt.Errorf("segfaultd: unknown command verb %q", p.Verb)
	}
}

func writeEnvelope(conn *websocket.Conn, log *zap.Logger, typ string, payload any) {
	if err := conn.WriteJSON(serverEnvelope{Type: typ, Payload: payload}); err != nil {
		log.Warn("segfaultd: write failed", zap.Error(err))
	}
}

func writeError(conn *websocket.Conn, log *zap.Logger, msg string) {
	writeEnvelope(conn, log, "error", errorPayload{Message: msg})
}
