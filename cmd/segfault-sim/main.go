// Command segfault-sim is a thin scripted bot driver: it joins a running
// segfaultd over a WebSocket, submits a short scripted command sequence,
// and drains the resulting perception payloads, exercising the supervisor
// without adopting a full HTTP client surface.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"
)

var (
	wsURL      string
	callSign   string
	moveDigits string
)

func main() {
	root := &cobra.Command{
		Use:   "segfault-sim",
		Short: "drive a SEGFAULT shard as a scripted bot process",
	}
	root.PersistentFlags().StringVar(&wsURL, "ws", "ws://127.0.0.1:8942/ws", "segfaultd websocket url")
	root.PersistentFlags().StringVar(&callSign, "call-sign", "sim-bot", "call sign to join with")
	root.PersistentFlags().StringVar(&moveDigits, "moves", "8,8,6,2", "comma-separated keypad digits to submit as MOVE commands")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "join, submit the scripted move sequence, and print the perception trail",
		RunE:  runScenario,
	}
	root.AddCommand(runCmd)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type clientEnvelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload"`
}

type serverEnvelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type joinedPayload struct {
	ShardID      string `json:"shard_id"`
	ProcessID    string `json:"process_id"`
	SessionToken string `json:"session_token"`
}

type errorPayload struct {
	Message string `json:"message"`
}

type botClient struct {
	conn  *websocket.Conn
	inbox chan serverEnvelope
	done  chan error
}

func runScenario(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	client, err := dialWithRetry(ctx, wsURL)
	if err != nil {
		return fmt.Errorf("segfault-sim: dial: %w", err)
	}
	defer client.close()

	if err := client.send("join", map[string]string{"call_sign": callSign}); err != nil {
		return fmt.Errorf("segfault-sim: join: %w", err)
	}
	env, err := client.waitFor(ctx, func(e serverEnvelope) bool { return e.Type == "joined" || e.Type == "error" })
	if err != nil {
		return fmt.Errorf("segfault-sim: waiting for join reply: %w", err)
	}
	if env.Type == "error" {
		return fmt.Errorf("segfault-sim: join rejected: %s", decodeError(env))
	}
	var joined joinedPayload
	if err := json.Unmarshal(env.Payload, &joined); err != nil {
		return fmt.Errorf("segfault-sim: malformed joined payload: %w", err)
	}
	fmt.Printf("joined shard=%s process=%s\n", joined.ShardID, joined.ProcessID)

	for _, digit := range parseDigits(moveDigits) {
		if err := client.send("submit", map[string]any{
			"session_token": joined.SessionToken,
			"verb":          "MOVE",
			"arg":           digit,
		}); err != nil {
			return fmt.Errorf("segfault-sim: submit move %d: %w", digit, err)
		}
		if _, err := client.waitFor(ctx, func(e serverEnvelope) bool { return e.Type == "submitted" || e.Type == "error" }); err != nil {
			return fmt.Errorf("segfault-sim: waiting for submit ack: %w", err)
		}

		if err := client.send("perceive", map[string]string{"session_token": joined.SessionToken}); err != nil {
			return fmt.Errorf("segfault-sim: perceive: %w", err)
		}
		perceived, err := client.waitFor(ctx, func(e serverEnvelope) bool { return e.Type == "perception" || e.Type == "error" })
		if err != nil {
			return fmt.Errorf("segfault-sim: waiting for perception: %w", err)
		}
		if perceived.Type == "error" {
			fmt.Printf("perceive after move %d: %s\n", digit, decodeError(perceived))
			continue
		}
		fmt.Printf("perceive after move %d:\n%s\n", digit, string(perceived.Payload))
	}

	return nil
}

func parseDigits(raw string) []int {
	parts := strings.Split(raw, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		var d int
		if _, err := fmt.Sscanf(p, "%d", &d); err == nil {
			out = append(out, d)
		}
	}
	return out
}

func decodeError(env serverEnvelope) string {
	var e errorPayload
	if json.Unmarshal(env.Payload, &e) == nil {
		return e.Message
	}
	return "unknown error"
}

func newBotClient(conn *websocket.Conn) *botClient {
	client := &botClient{
		conn:  conn,
		inbox: make(chan serverEnvelope, 256),
		done:  make(chan error, 1),
	}
	go client.readLoop()
	return client
}

func (c *botClient) close() {
	if c.conn != nil {
		_ = c.conn.Close()
	}
}

func (c *botClient) readLoop() {
	for {
		_, payload, err := c.conn.ReadMessage()
		if err != nil {
			c.done <- err
			close(c.done)
			return
		}
		var env serverEnvelope
		if json.Unmarshal(payload, &env) != nil {
			continue
		}
		select {
		case c.inbox <- env:
		default:
		}
	}
}

func (c *botClient) send(typ string, payload any) error {
	return c.conn.WriteJSON(clientEnvelope{Type: typ, Payload: payload})
}

func (c *botClient) waitFor(ctx context.Context, predicate func(serverEnvelope) bool) (serverEnvelope, error) {
	for {
		select {
		case env := <-c.inbox:
			if predicate(env) {
				return env, nil
			}
		case err := <-c.done:
			if err != nil {
				return serverEnvelope{}, err
			}
			return serverEnvelope{}, fmt.Errorf("connection closed")
		case <-ctx.Done():
			return serverEnvelope{}, ctx.Err()
		}
	}
}

func dialWithRetry(ctx context.Context, url string) (*botClient, error) {
	if !strings.HasPrefix(url, "ws://") && !strings.HasPrefix(url, "wss://") {
		return nil, fmt.Errorf("invalid ws url: %s", url)
	}
	var lastErr error
	for attempt := 0; attempt < 12; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
		if err == nil {
			return newBotClient(conn), nil
		}
		lastErr = err
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(180 * time.Millisecond):
		}
	}
	return nil, lastErr
}
