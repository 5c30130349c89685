// Package repotest provides an in-memory Manager and repository set for
// engine tests. Behavior mirrors the Postgres implementations, including
// the sentinel errors and unique-constraint checks; transactions are
// flattened (no rollback simulation).
package repotest

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/fateworks/pik/internal/server/models"
	"github.com/fateworks/pik/internal/server/repositories/repomanager"
	"github.com/fateworks/pik/internal/shared"
)

// Manager is the in-memory repomanager.Manager.
type Manager struct {
	mu    sync.Mutex
	repos repomanager.Repos
	state *state
}

type state struct {
	identities map[string]*models.RootIdentity
	personas   map[string]*models.Persona
	keys       map[string]*models.AuthKey
	challenges map[string]*models.WebAuthnChallenge
	sessions   map[string]*models.SessionToken
	sources    map[string]*models.Source
	links      map[string]*models.SourceLink
	events     []*models.IdentityEvent
	titles     map[string]*models.Title
	userTitles map[string]map[string]time.Time
	markers    []*models.FateMarker
	caches     map[string]*models.FateCache
	pool       []models.LootEntry
	gear       map[string]*models.GearItem
	inventory  []*models.InventoryItem
	equipment  map[string]*models.Equipment
	config     map[string]string
}

// NewManager builds a Manager pre-seeded with the default config keys and
// the level/boss title catalog.
func NewManager() *Manager {
	st := &state{
		identities: map[string]*models.RootIdentity{},
		personas:   map[string]*models.Persona{},
		keys:       map[string]*models.AuthKey{},
		challenges: map[string]*models.WebAuthnChallenge{},
		sessions:   map[string]*models.SessionToken{},
		sources:    map[string]*models.Source{},
		links:      map[string]*models.SourceLink{},
		titles:     map[string]*models.Title{},
		userTitles: map[string]map[string]time.Time{},
		caches:     map[string]*models.FateCache{},
		gear:       map[string]*models.GearItem{},
		equipment:  map[string]*models.Equipment{},
		config: map[string]string{
			"xp_per_session_normal":  "100",
			"xp_per_session_hard":    "150",
			"xp_node_completion":     "15",
			"xp_boss_tier_pct":       "0.5",
			"event_xp_multiplier":    "1.0",
			"xp_base_threshold":      "250",
			"xp_level_multiplier":    "1.5",
			"session_token_ttl_secs": "3600",
			"default_link_scope":     "progression:write",
		},
	}
	for _, id := range []string{
		"title_fate_awakened", "title_fate_burning", "title_fate_ascendant",
		"title_boss_slayer", "title_boss_breaker", "title_boss_legend",
	} {
		st.titles[id] = &models.Title{ID: id, Name: id}
	}

	m := &Manager{state: st}
	m.repos = repomanager.Repos{
		Identities: &identitiesRepo{m: m},
		AuthKeys:   &authKeysRepo{m: m},
		Sessions:   &sessionsRepo{m: m},
		Sources:    &sourcesRepo{m: m},
		Ledger:     &ledgerRepo{m: m},
		Titles:     &titlesRepo{m: m},
		Loot:       &lootRepo{m: m},
		Settings:   &settingsRepo{m: m},
	}
	return m
}

func (m *Manager) Repos() repomanager.Repos { return m.repos }

func (m *Manager) WithTx(ctx context.Context, fn func(ctx context.Context, r repomanager.Repos) error) error {
	return fn(ctx, m.repos)
}

func (m *Manager) Conn() *sql.DB                        { return nil }
func (m *Manager) RunMigrations(ctx context.Context) error { return nil }
func (m *Manager) Close() error                         { return nil }

// Seeding helpers. All take ownership of the given value.

func (m *Manager) SeedIdentity(root *models.RootIdentity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.identities[root.ID] = root
}

func (m *Manager) SeedSource(source *models.Source) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sources[source.ID] = source
}

func (m *Manager) SeedLink(link *models.SourceLink) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.links[link.ID] = link
}

func (m *Manager) SeedKey(key *models.AuthKey) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.keys[key.ID] = key
}

func (m *Manager) SeedChallenge(ch *models.WebAuthnChallenge) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.challenges[ch.ID] = ch
}

func (m *Manager) SeedSession(token *models.SessionToken) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.sessions[token.ID] = token
}

func (m *Manager) SeedCache(cache *models.FateCache) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.caches[cache.ID] = cache
}

func (m *Manager) SeedLootEntry(entry models.LootEntry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.pool = append(m.state.pool, entry)
}

func (m *Manager) SeedGear(item *models.GearItem) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.gear[item.ID] = item
}

func (m *Manager) SeedTitle(t *models.Title) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.titles[t.ID] = t
}

func (m *Manager) SetConfig(key, value string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state.config[key] = value
}

// Events returns a copy of the ledger, oldest first.
func (m *Manager) Events() []*models.IdentityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*models.IdentityEvent, len(m.state.events))
	copy(out, m.state.events)
	return out
}

// EventsOfType filters the ledger by event type, oldest first.
func (m *Manager) EventsOfType(eventType string) []*models.IdentityEvent {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.IdentityEvent
	for _, ev := range m.state.events {
		if ev.EventType == eventType {
			out = append(out, ev)
		}
	}
	return out
}

// Challenges returns the live challenge rows.
func (m *Manager) Challenges() []*models.WebAuthnChallenge {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.WebAuthnChallenge
	for _, ch := range m.state.challenges {
		out = append(out, ch)
	}
	return out
}

// Sessions returns the live session token rows.
func (m *Manager) Sessions() []*models.SessionToken {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.SessionToken
	for _, s := range m.state.sessions {
		out = append(out, s)
	}
	return out
}

// Inventory returns the inventory rows for a root.
func (m *Manager) Inventory(rootID string) []*models.InventoryItem {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*models.InventoryItem
	for _, item := range m.state.inventory {
		if item.RootID == rootID {
			out = append(out, item)
		}
	}
	return out
}

type identitiesRepo struct{ m *Manager }

func (r *identitiesRepo) Create(ctx context.Context, identity *models.RootIdentity) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.state.identities[identity.ID]; ok {
		return fmt.Errorf("%w: identity exists", shared.ErrConflict)
	}
	cp := *identity
	r.m.state.identities[identity.ID] = &cp
	return nil
}

func (r *identitiesRepo) Get(ctx context.Context, id string) (*models.RootIdentity, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	root, ok := r.m.state.identities[id]
	if !ok {
		return nil, fmt.Errorf("%w: identity not found", shared.ErrNotFound)
	}
	cp := *root
	return &cp, nil
}

func (r *identitiesRepo) GetForUpdate(ctx context.Context, id string) (*models.RootIdentity, error) {
	return r.Get(ctx, id)
}

func (r *identitiesRepo) List(ctx context.Context) ([]models.IdentitySummary, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.IdentitySummary
	for _, root := range r.m.state.identities {
		active := 0
		for _, link := range r.m.state.links {
			if link.RootID == root.ID && link.Status == models.LinkStatusActive {
				active++
			}
		}
		out = append(out, models.IdentitySummary{RootIdentity: *root, ActiveSources: active})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].EnrolledAt.After(out[j].EnrolledAt) })
	return out, nil
}

func (r *identitiesRepo) UpdateProgress(ctx context.Context, id string, xp int64, level int) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	root, ok := r.m.state.identities[id]
	if !ok {
		return fmt.Errorf("%w: identity not found", shared.ErrNotFound)
	}
	root.FateXP = xp
	root.FateLevel = level
	return nil
}

func (r *identitiesRepo) UpdateProfile(ctx context.Context, identity *models.RootIdentity) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	root, ok := r.m.state.identities[identity.ID]
	if !ok {
		return fmt.Errorf("%w: identity not found", shared.ErrNotFound)
	}
	root.HeroName = identity.HeroName
	root.FateAlignment = identity.FateAlignment
	root.Origin = identity.Origin
	return nil
}

func (r *identitiesRepo) SetEquippedTitle(ctx context.Context, id string, titleID *string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	root, ok := r.m.state.identities[id]
	if !ok {
		return fmt.Errorf("%w: identity not found", shared.ErrNotFound)
	}
	root.EquippedTitleID = titleID
	return nil
}

func (r *identitiesRepo) CreatePersona(ctx context.Context, persona *models.Persona) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *persona
	r.m.state.personas[persona.ID] = &cp
	return nil
}

func (r *identitiesRepo) PrimaryPersona(ctx context.Context, rootID string) (*models.Persona, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, p := range r.m.state.personas {
		if p.RootID == rootID && p.IsPrimary {
			cp := *p
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: persona not found", shared.ErrNotFound)
}

type authKeysRepo struct{ m *Manager }

func (r *authKeysRepo) CreateKey(ctx context.Context, key *models.AuthKey) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, k := range r.m.state.keys {
		if k.CredentialID == key.CredentialID {
			return fmt.Errorf("%w: credential exists", shared.ErrConflict)
		}
	}
	cp := *key
	r.m.state.keys[key.ID] = &cp
	return nil
}

func (r *authKeysRepo) GetKey(ctx context.Context, id string) (*models.AuthKey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key, ok := r.m.state.keys[id]
	if !ok {
		return nil, fmt.Errorf("%w: key not found", shared.ErrNotFound)
	}
	cp := *key
	return &cp, nil
}

func (r *authKeysRepo) GetKeyByCredentialID(ctx context.Context, credentialID string) (*models.AuthKey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, key := range r.m.state.keys {
		if key.CredentialID == credentialID {
			cp := *key
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: key not found", shared.ErrNotFound)
}

func (r *authKeysRepo) ListByRoot(ctx context.Context, rootID string) ([]models.AuthKey, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.AuthKey
	for _, key := range r.m.state.keys {
		if key.RootID == rootID {
			out = append(out, *key)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *authKeysRepo) ActiveByRoot(ctx context.Context, rootID string) ([]models.AuthKey, error) {
	all, _ := r.ListByRoot(ctx, rootID)
	var out []models.AuthKey
	for _, key := range all {
		if key.Status == models.AuthKeyStatusActive {
			out = append(out, key)
		}
	}
	return out, nil
}

func (r *authKeysRepo) CountActive(ctx context.Context, rootID string) (int, error) {
	active, _ := r.ActiveByRoot(ctx, rootID)
	return len(active), nil
}

func (r *authKeysRepo) UpdateCounter(ctx context.Context, id string, signCount int64, usedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key, ok := r.m.state.keys[id]
	if !ok {
		return fmt.Errorf("%w: key not found", shared.ErrNotFound)
	}
	key.SignCount = signCount
	key.LastUsedAt = &usedAt
	return nil
}

func (r *authKeysRepo) RevokeKey(ctx context.Context, id string, revokedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	key, ok := r.m.state.keys[id]
	if !ok || key.Status != models.AuthKeyStatusActive {
		return fmt.Errorf("%w: active key not found", shared.ErrNotFound)
	}
	key.Status = models.AuthKeyStatusRevoked
	key.RevokedAt = &revokedAt
	return nil
}

func (r *authKeysRepo) CreateChallenge(ctx context.Context, ch *models.WebAuthnChallenge) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *ch
	r.m.state.challenges[ch.ID] = &cp
	return nil
}

func (r *authKeysRepo) GetChallenge(ctx context.Context, challenge string) (*models.WebAuthnChallenge, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, ch := range r.m.state.challenges {
		if ch.Challenge == challenge {
			cp := *ch
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: challenge not found", shared.ErrNotFound)
}

func (r *authKeysRepo) DeleteChallenge(ctx context.Context, id string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.state.challenges[id]; !ok {
		return fmt.Errorf("%w: challenge not found", shared.ErrNotFound)
	}
	delete(r.m.state.challenges, id)
	return nil
}

func (r *authKeysRepo) DeleteExpiredChallenges(ctx context.Context, now time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, ch := range r.m.state.challenges {
		if ch.ExpiresAt.Before(now) {
			delete(r.m.state.challenges, id)
			n++
		}
	}
	return n, nil
}

type sessionsRepo struct{ m *Manager }

func (r *sessionsRepo) Create(ctx context.Context, token *models.SessionToken) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *token
	r.m.state.sessions[token.ID] = &cp
	return nil
}

func (r *sessionsRepo) FindByHash(ctx context.Context, tokenHash string) (*models.SessionToken, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, token := range r.m.state.sessions {
		if token.TokenHash == tokenHash {
			cp := *token
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: session not found", shared.ErrNotFound)
}

func (r *sessionsRepo) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for id, token := range r.m.state.sessions {
		if token.ExpiresAt.Before(now) {
			delete(r.m.state.sessions, id)
			n++
		}
	}
	return n, nil
}

type sourcesRepo struct{ m *Manager }

func (r *sourcesRepo) Create(ctx context.Context, source *models.Source) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.state.sources[source.ID]; ok {
		return fmt.Errorf("%w: source exists", shared.ErrConflict)
	}
	cp := *source
	r.m.state.sources[source.ID] = &cp
	return nil
}

func (r *sourcesRepo) Get(ctx context.Context, id string) (*models.Source, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	source, ok := r.m.state.sources[id]
	if !ok {
		return nil, fmt.Errorf("%w: source not found", shared.ErrNotFound)
	}
	cp := *source
	return &cp, nil
}

func (r *sourcesRepo) List(ctx context.Context) ([]models.Source, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Source
	for _, source := range r.m.state.sources {
		out = append(out, *source)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *sourcesRepo) UpdateKeyHash(ctx context.Context, id, keyHash string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	source, ok := r.m.state.sources[id]
	if !ok {
		return fmt.Errorf("%w: source not found", shared.ErrNotFound)
	}
	source.APIKeyHash = keyHash
	return nil
}

func (r *sourcesRepo) UpdateStatus(ctx context.Context, id, status string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	source, ok := r.m.state.sources[id]
	if !ok {
		return fmt.Errorf("%w: source not found", shared.ErrNotFound)
	}
	source.Status = status
	return nil
}

func (r *sourcesRepo) FindActiveByKeyHash(ctx context.Context, keyHash string) (*models.Source, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, source := range r.m.state.sources {
		if source.APIKeyHash == keyHash && source.Status == models.SourceStatusActive {
			cp := *source
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: source not found", shared.ErrNotFound)
}

func (r *sourcesRepo) CreateLink(ctx context.Context, link *models.SourceLink) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *link
	r.m.state.links[link.ID] = &cp
	return nil
}

func (r *sourcesRepo) GetLink(ctx context.Context, id string) (*models.SourceLink, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	link, ok := r.m.state.links[id]
	if !ok {
		return nil, fmt.Errorf("%w: link not found", shared.ErrNotFound)
	}
	cp := *link
	return &cp, nil
}

func (r *sourcesRepo) ListLinksByRoot(ctx context.Context, rootID string) ([]models.SourceLink, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.SourceLink
	for _, link := range r.m.state.links {
		if link.RootID == rootID {
			out = append(out, *link)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

func (r *sourcesRepo) ActiveLink(ctx context.Context, rootID, sourceID string) (*models.SourceLink, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	for _, link := range r.m.state.links {
		if link.RootID == rootID && link.SourceID == sourceID && link.Status == models.LinkStatusActive {
			cp := *link
			return &cp, nil
		}
	}
	return nil, fmt.Errorf("%w: link not found", shared.ErrNotFound)
}

func (r *sourcesRepo) RevokeLink(ctx context.Context, id string, revokedAt time.Time, revokedBy *string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	link, ok := r.m.state.links[id]
	if !ok || link.Status != models.LinkStatusActive {
		return fmt.Errorf("%w: active link not found", shared.ErrNotFound)
	}
	link.Status = models.LinkStatusRevoked
	link.RevokedAt = &revokedAt
	link.RevokedBy = revokedBy
	return nil
}

type ledgerRepo struct{ m *Manager }

func (r *ledgerRepo) Append(ctx context.Context, event *models.IdentityEvent) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *event
	r.m.state.events = append(r.m.state.events, &cp)
	return nil
}

func (r *ledgerRepo) Timeline(ctx context.Context, rootID string) ([]models.TimelineEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.TimelineEntry
	for _, ev := range r.m.state.events {
		if ev.RootID != rootID {
			continue
		}
		entry := models.TimelineEntry{IdentityEvent: *ev}
		if ev.SourceID != nil {
			if source, ok := r.m.state.sources[*ev.SourceID]; ok {
				entry.SourceName = &source.Name
			}
		}
		out = append(out, entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *ledgerRepo) Recent(ctx context.Context, rootID string, n int) ([]models.IdentityEvent, error) {
	timeline, _ := r.Timeline(ctx, rootID)
	var out []models.IdentityEvent
	for i, entry := range timeline {
		if i >= n {
			break
		}
		out = append(out, entry.IdentityEvent)
	}
	return out, nil
}

func (r *ledgerRepo) CountByType(ctx context.Context, rootID, eventType string) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var n int64
	for _, ev := range r.m.state.events {
		if ev.RootID == rootID && ev.EventType == eventType {
			n++
		}
	}
	return n, nil
}

func (r *ledgerRepo) TotalCount(ctx context.Context) (int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	return int64(len(r.m.state.events)), nil
}

func (r *ledgerRepo) CountsByType(ctx context.Context) (map[string]int64, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := map[string]int64{}
	for _, ev := range r.m.state.events {
		out[ev.EventType]++
	}
	return out, nil
}

type titlesRepo struct{ m *Manager }

func (r *titlesRepo) GetTitle(ctx context.Context, id string) (*models.Title, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	title, ok := r.m.state.titles[id]
	if !ok {
		return nil, fmt.Errorf("%w: title not found", shared.ErrNotFound)
	}
	cp := *title
	return &cp, nil
}

func (r *titlesRepo) HeldTitles(ctx context.Context, rootID string) ([]models.HeldTitle, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.HeldTitle
	for titleID, grantedAt := range r.m.state.userTitles[rootID] {
		title := r.m.state.titles[titleID]
		if title == nil {
			continue
		}
		out = append(out, models.HeldTitle{Title: *title, GrantedAt: grantedAt})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.After(out[j].GrantedAt) })
	return out, nil
}

func (r *titlesRepo) InsertUserTitle(ctx context.Context, ut *models.UserTitle) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	held := r.m.state.userTitles[ut.RootID]
	if held == nil {
		held = map[string]time.Time{}
		r.m.state.userTitles[ut.RootID] = held
	}
	if _, ok := held[ut.TitleID]; ok {
		return fmt.Errorf("%w: title already held", shared.ErrConflict)
	}
	held[ut.TitleID] = ut.GrantedAt
	return nil
}

func (r *titlesRepo) HasTitle(ctx context.Context, rootID, titleID string) (bool, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	_, ok := r.m.state.userTitles[rootID][titleID]
	return ok, nil
}

func (r *titlesRepo) InsertMarker(ctx context.Context, marker *models.FateMarker) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *marker
	r.m.state.markers = append(r.m.state.markers, &cp)
	return nil
}

func (r *titlesRepo) MarkersByRoot(ctx context.Context, rootID string) ([]models.FateMarker, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.FateMarker
	for _, marker := range r.m.state.markers {
		if marker.RootID == rootID {
			out = append(out, *marker)
		}
	}
	return out, nil
}

type lootRepo struct{ m *Manager }

func (r *lootRepo) CreateCache(ctx context.Context, cache *models.FateCache) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *cache
	r.m.state.caches[cache.ID] = &cp
	return nil
}

func (r *lootRepo) GetCache(ctx context.Context, id string) (*models.FateCache, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cache, ok := r.m.state.caches[id]
	if !ok {
		return nil, fmt.Errorf("%w: cache not found", shared.ErrNotFound)
	}
	cp := *cache
	return &cp, nil
}

func (r *lootRepo) CachesByRoot(ctx context.Context, rootID string) ([]models.FateCache, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.FateCache
	for _, cache := range r.m.state.caches {
		if cache.RootID == rootID {
			out = append(out, *cache)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (r *lootRepo) OpenCache(ctx context.Context, id string, reward models.LootEntry, openedAt time.Time) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cache, ok := r.m.state.caches[id]
	if !ok {
		return fmt.Errorf("%w: cache not found", shared.ErrNotFound)
	}
	if cache.Status != models.CacheStatusSealed {
		return fmt.Errorf("%w: cache is not sealed", shared.ErrConflict)
	}
	cache.Status = models.CacheStatusOpened
	cache.RewardType = &reward.RewardType
	cache.RewardValue = &reward.RewardValue
	cache.RewardName = &reward.Name
	cache.OpenedAt = &openedAt
	return nil
}

func (r *lootRepo) PoolEntries(ctx context.Context, cacheType string, level int) ([]models.LootEntry, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.LootEntry
	for _, entry := range r.m.state.pool {
		if entry.CacheType == cacheType && entry.MinLevel <= level {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *lootRepo) GetGear(ctx context.Context, id string) (*models.GearItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	item, ok := r.m.state.gear[id]
	if !ok {
		return nil, fmt.Errorf("%w: gear not found", shared.ErrNotFound)
	}
	cp := *item
	return &cp, nil
}

func (r *lootRepo) AddInventory(ctx context.Context, item *models.InventoryItem) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *item
	r.m.state.inventory = append(r.m.state.inventory, &cp)
	return nil
}

func (r *lootRepo) InventoryByRoot(ctx context.Context, rootID string) ([]models.InventoryItem, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.InventoryItem
	for _, item := range r.m.state.inventory {
		if item.RootID == rootID {
			out = append(out, *item)
		}
	}
	return out, nil
}

func (r *lootRepo) Equip(ctx context.Context, eq *models.Equipment) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	cp := *eq
	r.m.state.equipment[eq.RootID+"|"+eq.Slot] = &cp
	return nil
}

func (r *lootRepo) EquipmentByRoot(ctx context.Context, rootID string) ([]models.Equipment, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	var out []models.Equipment
	for _, eq := range r.m.state.equipment {
		if eq.RootID == rootID {
			out = append(out, *eq)
		}
	}
	return out, nil
}

type settingsRepo struct{ m *Manager }

func (r *settingsRepo) GetAll(ctx context.Context) (map[string]string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	out := make(map[string]string, len(r.m.state.config))
	for k, v := range r.m.state.config {
		out[k] = v
	}
	return out, nil
}

func (r *settingsRepo) Get(ctx context.Context, key string) (string, error) {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	v, ok := r.m.state.config[key]
	if !ok {
		return "", fmt.Errorf("%w: config key not found", shared.ErrNotFound)
	}
	return v, nil
}

func (r *settingsRepo) Update(ctx context.Context, key, value string) error {
	r.m.mu.Lock()
	defer r.m.mu.Unlock()
	if _, ok := r.m.state.config[key]; !ok {
		return fmt.Errorf("%w: config key not found", shared.ErrNotFound)
	}
	r.m.state.config[key] = value
	return nil
}
