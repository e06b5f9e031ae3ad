package branch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/xelth-com/cdchub/internal/config"
	"github.com/xelth-com/cdchub/internal/conflict"
	"github.com/xelth-com/cdchub/internal/protocol"
)

// wsSender adapts a *websocket.Conn to the FrameSender interface, guarding
// concurrent writers since gorilla/websocket connections are not safe for
// concurrent WriteMessage calls.
type wsSender struct {
	conn *websocket.Conn
	mu   chan struct{}
}

func newWSSender(conn *websocket.Conn) *wsSender {
	s := &wsSender{conn: conn, mu: make(chan struct{}, 1)}
	s.mu <- struct{}{}
	return s
}

func (s *wsSender) Send(frame []byte) error {
	<-s.mu
	defer func() { s.mu <- struct{}{} }()
	return s.conn.WriteMessage(websocket.BinaryMessage, frame)
}

// Agent is the branch-side process: it authenticates, opens a session to
// the hub, and runs the CDC Reader and Apply Pipeline against it.
type Agent struct {
	cfg *config.BranchConfig

	conn   *websocket.Conn
	sender *wsSender
	waiter *ackWaiter

	reader  *CDCReader
	applier *ApplyPipeline
}

// authenticate exchanges the branch's api key for a short-lived bearer
// token via POST {hubURL}/auth/token.
func authenticate(hubURL, tenantID, branchID, apiKey string) (string, error) {
	base := strings.TrimSuffix(hubURL, "/")
	base = strings.Replace(base, "ws://", "http://", 1)
	base = strings.Replace(base, "wss://", "https://", 1)

	body, _ := json.Marshal(map[string]string{
		"tenant_id": tenantID,
		"branch_id": branchID,
		"api_key":   apiKey,
	})
	resp, err := http.Post(base+"/auth/token", "application/json", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("branch: token request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("branch: token request returned %d", resp.StatusCode)
	}
	var out struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("branch: decode token response: %w", err)
	}
	return out.AccessToken, nil
}

// DialAgent performs the full handshake: fetch a bearer token, upgrade to a
// websocket session, and construct the reader/applier pair bound to it.
func DialAgent(cfg *config.BranchConfig, store *Store, resolver *conflict.Resolver) (*Agent, error) {
	token, err := authenticate(cfg.HubURL, cfg.TenantID, cfg.BranchID, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	wsURL := strings.Replace(cfg.HubURL, "http://", "ws://", 1)
	wsURL = strings.Replace(wsURL, "https://", "wss://", 1)
	wsURL = strings.TrimSuffix(wsURL, "/") + "/ws"

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, header)
	if err != nil {
		return nil, fmt.Errorf("branch: dial hub: %w", err)
	}

	sender := newWSSender(conn)
	waiter := newAckWaiter()

	dedup := NewDeduplicator(store)
	applier := NewApplyPipeline(cfg.TenantID, cfg.BranchID, store, dedup, resolver, sender)
	reader := NewCDCReader(cfg, store, sender, waiter)

	return &Agent{
		cfg:     cfg,
		conn:    conn,
		sender:  sender,
		waiter:  waiter,
		reader:  reader,
		applier: applier,
	}, nil
}

// Run starts the CDC Reader's poll loop and the inbound read loop; it
// blocks until ctx is cancelled or the connection drops.
func (a *Agent) Run(ctx context.Context) error {
	go a.reader.Run(ctx)

	for {
		select {
		case <-ctx.Done():
			_ = a.conn.Close()
			return ctx.Err()
		default:
		}

		_, frame, err := a.conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("branch: connection closed: %w", err)
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			if err == protocol.ErrUnsupportedKind {
				continue
			}
			log.Printf("⚠️  branch: decode failed: %v", err)
			continue
		}

		switch env.Kind {
		case protocol.KindSyncBatch:
			a.applier.HandleBatch(env)
		case protocol.KindSyncAck, protocol.KindSyncNack:
			var payload struct {
				BatchID string `json:"batch_id"`
			}
			if json.Unmarshal(env.Payload, &payload) == nil {
				a.waiter.Resolve(payload.BatchID, env)
			}
		case protocol.KindControl:
			log.Printf("hub control notice: %s", string(env.Payload))
		case protocol.KindHeartbeat:
			// liveness only, no action needed
		}
	}
}
