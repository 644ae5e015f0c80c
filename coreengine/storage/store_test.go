package storage

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leaseflow/coreengine/commbus"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

// ===== PROFILES =====

func TestProfileRoundTrip(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	profile := map[string]any{
		"email":  "alice@example.com",
		"income": "85000",
	}
	require.NoError(t, store.SaveProfile(ctx, "alice@example.com", profile))

	got, err := store.GetProfile(ctx, "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, "85000", got["income"])
}

func TestGetProfileNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetProfile(context.Background(), "nobody@example.com")
	assert.ErrorIs(t, err, ErrProfileNotFound)
}

func TestSaveProfileUpsert(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SaveProfile(ctx, "bob@example.com", map[string]any{"income": "50000"}))
	require.NoError(t, store.SaveProfile(ctx, "bob@example.com", map[string]any{"income": "60000"}))

	got, err := store.GetProfile(ctx, "bob@example.com")
	require.NoError(t, err)
	assert.Equal(t, "60000", got["income"])
}

func TestSaveProfileRequiresEmail(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveProfile(context.Background(), "", map[string]any{})
	assert.ErrorIs(t, err, ErrMissingEmail)
}

// ===== APPLICATIONS =====

func TestSaveApplicationRequiresEmail(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveApplication(context.Background(), &Application{
		State: "NSW",
		Data:  map[string]any{"query": "am I eligible?"},
	})
	assert.ErrorIs(t, err, ErrMissingEmail)
}

func TestSaveApplicationGeneratesID(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	app := &Application{
		Email: "carol@example.com",
		State: "VIC",
		Data:  map[string]any{"status": "complete"},
	}
	require.NoError(t, store.SaveApplication(ctx, app))
	assert.NotEmpty(t, app.ID)
	assert.False(t, app.CreatedAt.IsZero())

	apps, err := store.ListApplications(ctx)
	require.NoError(t, err)
	require.Len(t, apps, 1)
	assert.Equal(t, "carol@example.com", apps[0].Email)
	assert.Equal(t, "complete", apps[0].Data["status"])
}

// ===== RULE TABLES =====

func TestSeedIfEmpty(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedIfEmpty(ctx))

	rules, err := store.ComplianceRulesFor(ctx, "NSW")
	require.NoError(t, err)
	require.Len(t, rules, 3)
	assert.Equal(t, "proof_of_income", rules[0].Name)

	guardrails, err := store.GuardrailRules(ctx)
	require.NoError(t, err)
	assert.Len(t, guardrails, 5)
}

func TestSeedIfEmptyIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.SeedIfEmpty(ctx))
	require.NoError(t, store.SeedIfEmpty(ctx))

	rules, err := store.ComplianceRulesFor(ctx, "QLD")
	require.NoError(t, err)
	assert.Len(t, rules, 3)
}

func TestComplianceRulesForUnknownState(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SeedIfEmpty(ctx))

	rules, err := store.ComplianceRulesFor(ctx, "ACT")
	require.NoError(t, err)
	assert.Empty(t, rules)
}

// ===== AUDIT TRAIL =====

func TestAuditAppendAndRecent(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AppendAudit(ctx, &AuditEvent{
		RequestID: "req-1",
		Action:    "compliance_check",
		State:     "NSW",
		Details:   map[string]any{"passed": 2},
	}))
	require.NoError(t, store.AppendAudit(ctx, &AuditEvent{
		RequestID: "req-2",
		Action:    "guardrails_scan",
	}))

	events, err := store.RecentAudit(ctx, 10)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "guardrails_scan", events[0].Action)
	assert.Equal(t, "compliance_check", events[1].Action)
	assert.Equal(t, float64(2), events[1].Details["passed"])
}

func TestAuditSubscriberPersistsEvents(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	bus := commbus.NewInMemoryCommBus(time.Second)
	bus.Subscribe("AuditRecorded", store.AuditSubscriber())

	require.NoError(t, bus.Publish(ctx, &commbus.AuditRecorded{
		RequestID:    "req-9",
		Action:       "save_application",
		Jurisdiction: "VIC",
	}))

	events, err := store.RecentAudit(ctx, 5)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "save_application", events[0].Action)
	assert.Equal(t, "VIC", events[0].State)
}

// ===== KNOWLEDGE CHUNKS =====

func TestChunkInsertAndList(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.InsertChunk(ctx, &Chunk{
		Text:      "NSW requires proof of income.",
		Metadata:  map[string]any{"source": "seed"},
		Embedding: []float32{0.1, 0.2, 0.3},
	}))

	chunks, err := store.ListChunks(ctx, "rental_kb")
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "NSW requires proof of income.", chunks[0].Text)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, chunks[0].Embedding)

	count, err := store.CountChunks(ctx, "rental_kb")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	collections, err := store.ListCollections(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"rental_kb"}, collections)
}

// ===== STATUS =====

func TestStatusCounts(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.SeedIfEmpty(ctx))

	status, err := store.Status(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, status["applications"])
	assert.Equal(t, 9, status["compliance_rules"])
	assert.Equal(t, 5, status["guardrails_rules"])
}
