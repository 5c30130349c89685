// Package hvconnector polls the Heroes' Veritas API for completed game
// sessions and forwards them to the kernel as progression events. Forwarded
// session ids are tracked in a local SQLite table so restarts never
// double-credit a session.
package hvconnector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/fateworks/pik/internal/logging"
)

// Config holds the connector's runtime settings, filled from env and flags.
type Config struct {
	HVAPIURL     string
	PIKAPIURL    string
	PIKAPIKey    string
	PollInterval time.Duration
	DryRun       bool
}

// hvSession mirrors the relevant slice of the HV session document.
type hvSession struct {
	SessionID  string `json:"session_id"`
	State      string `json:"state"`
	Difficulty string `json:"difficulty"`
	Players    []struct {
		PlayerID string `json:"player_id"`
		Name     string `json:"name"`
		RootID   string `json:"root_id"`
	} `json:"players"`
	NodeStates map[string]struct {
		Status string `json:"status"`
	} `json:"node_states"`
	EconomySummary struct {
		BossDamagePct float64 `json:"boss_damage_pct"`
	} `json:"economy_summary"`
}

type hvSessionList struct {
	Data []hvSession `json:"data"`
}

type pikEnvelope struct {
	Status  string          `json:"status"`
	Data    json.RawMessage `json:"data"`
	Message string          `json:"message"`
}

type pikUser struct {
	RootID   string `json:"root_id"`
	HeroName string `json:"hero_name"`
}

// Connector is the poll loop.
type Connector struct {
	cfg   Config
	store *SentStore
	http  *http.Client
	log   logging.Logger
}

func New(cfg Config, store *SentStore, log logging.Logger) *Connector {
	return &Connector{
		cfg:   cfg,
		store: store,
		http:  &http.Client{Timeout: 10 * time.Second},
		log:   log.With("module", "hv-connector"),
	}
}

// Run polls until the context ends. Poll failures are logged and retried on
// the next tick.
func (c *Connector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	if err := c.PollOnce(ctx); err != nil {
		c.log.Error(ctx, "poll failed", "error", err)
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := c.PollOnce(ctx); err != nil {
				c.log.Error(ctx, "poll failed", "error", err)
			}
		}
	}
}

// PollOnce fetches the session list and forwards every completed session
// that has not been sent yet.
func (c *Connector) PollOnce(ctx context.Context) error {
	var list hvSessionList
	if err := c.getJSON(ctx, c.cfg.HVAPIURL+"/api/sessions", &list); err != nil {
		return fmt.Errorf("hv fetch error: %w", err)
	}

	for _, session := range list.Data {
		if session.State != "completed" {
			continue
		}
		sent, err := c.store.AlreadySent(session.SessionID)
		if err != nil {
			return err
		}
		if sent {
			continue
		}
		if err := c.processSession(ctx, session); err != nil {
			c.log.Error(ctx, "session forwarding failed", "session_id", session.SessionID, "error", err)
		}
	}
	return nil
}

func (c *Connector) processSession(ctx context.Context, session hvSession) error {
	if len(session.Players) == 0 {
		c.log.Warn(ctx, "session has no players, skipping", "session_id", session.SessionID)
		return nil
	}

	difficulty := session.Difficulty
	if difficulty == "" {
		difficulty = "normal"
	}
	nodesDone := 0
	var completedNodes []string
	for nodeID, state := range session.NodeStates {
		if state.Status == "completed" {
			nodesDone++
			completedNodes = append(completedNodes, nodeID)
		}
	}
	bossPct := session.EconomySummary.BossDamagePct

	for _, player := range session.Players {
		rootID, err := c.resolveRootID(ctx, player.RootID, player.Name)
		if err != nil {
			return err
		}
		if rootID == "" {
			c.log.Warn(ctx, "no kernel identity for player, skipping",
				"session_id", session.SessionID, "player_id", player.PlayerID)
			continue
		}

		if c.cfg.DryRun {
			c.log.Info(ctx, "dry run, would forward session",
				"session_id", session.SessionID, "player_id", player.PlayerID, "root_id", rootID,
				"difficulty", difficulty, "nodes_completed", nodesDone, "boss_damage_pct", bossPct)
			continue
		}

		changes, err := c.postIngest(ctx, rootID, "progression.session_completed", map[string]any{
			"difficulty":      difficulty,
			"nodes_completed": nodesDone,
			"boss_damage_pct": bossPct,
		})
		if err != nil {
			c.log.Error(ctx, "session_completed ingest failed",
				"session_id", session.SessionID, "root_id", rootID, "error", err)
			continue
		}
		c.log.Info(ctx, "session forwarded",
			"session_id", session.SessionID, "root_id", rootID, "changes", string(changes))

		// Boss titles and level caches are granted kernel-side from the
		// session event; only node markers need separate posts.
		for _, nodeID := range completedNodes {
			_, err := c.postIngest(ctx, rootID, "progression.fate_marker", map[string]any{
				"marker": "node:" + nodeID,
			})
			if err != nil {
				c.log.Warn(ctx, "node marker ingest failed",
					"session_id", session.SessionID, "root_id", rootID, "node_id", nodeID, "error", err)
			}
		}
	}

	if c.cfg.DryRun {
		return nil
	}
	return c.store.MarkSent(session.SessionID)
}

// resolveRootID maps an HV player to a kernel root id: an explicit root_id
// on the player wins, otherwise the hero-name match against the user list.
func (c *Connector) resolveRootID(ctx context.Context, explicit, playerName string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	if playerName == "" {
		return "", nil
	}

	var env pikEnvelope
	if err := c.getJSON(ctx, c.cfg.PIKAPIURL+"/api/users", &env); err != nil {
		return "", fmt.Errorf("user lookup error: %w", err)
	}
	if env.Status != "ok" {
		return "", fmt.Errorf("user lookup error: %s", env.Message)
	}

	var users []pikUser
	if err := json.Unmarshal(env.Data, &users); err != nil {
		return "", err
	}
	for _, u := range users {
		if u.HeroName == playerName {
			return u.RootID, nil
		}
	}
	return "", nil
}

func (c *Connector) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return json.NewDecoder(resp.Body).Decode(out)
}

// postIngest posts one ingest event and returns the changes_applied
// document.
func (c *Connector) postIngest(ctx context.Context, rootID, eventType string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(map[string]any{
		"root_id":    rootID,
		"event_type": eventType,
		"payload":    payload,
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.PIKAPIURL+"/api/ingest", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PIK-API-Key", c.cfg.PIKAPIKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var env pikEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return nil, fmt.Errorf("malformed response (%s): %w", resp.Status, err)
	}
	if env.Status != "ok" {
		return nil, fmt.Errorf("ingest rejected (%s): %s", resp.Status, env.Message)
	}

	var result struct {
		ChangesApplied json.RawMessage `json:"changes_applied"`
	}
	if err := json.Unmarshal(env.Data, &result); err != nil {
		return nil, err
	}
	return result.ChangesApplied, nil
}
