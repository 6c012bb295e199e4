package service

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"r6-rolesync/internal/api"
	"r6-rolesync/internal/config"
	"r6-rolesync/internal/database"
	"r6-rolesync/internal/platform"
	"r6-rolesync/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

// stubProvider scripts rank lookups per handle.
type stubProvider struct {
	mu       sync.Mutex
	results  map[string]api.Result
	errs     map[string]error
	rate     float64
	resets   int
	blockOn  chan struct{} // when set, PlayerRank blocks until closed
	requests int
}

func newStubProvider() *stubProvider {
	return &stubProvider{
		results: make(map[string]api.Result),
		errs:    make(map[string]error),
	}
}

func (p *stubProvider) setRank(handle string, r api.Result) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.results[handle] = r
}

func (p *stubProvider) setErr(handle string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.errs[handle] = err
}

func (p *stubProvider) Authenticate(ctx context.Context) error { return nil }

func (p *stubProvider) PlayerRank(ctx context.Context, handle, platformName string) (api.Result, error) {
	p.mu.Lock()
	block := p.blockOn
	p.requests++
	err := p.errs[handle]
	result := p.results[handle]
	p.mu.Unlock()

	if block != nil {
		<-block
	}
	if err != nil {
		return api.Result{}, err
	}
	return result, nil
}

func (p *stubProvider) HandleExists(ctx context.Context, handle, platformName string) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err, ok := p.errs[handle]; ok {
		return false, err
	}
	result, ok := p.results[handle]
	return ok && result.Found, nil
}

func (p *stubProvider) RateLimitPercentage() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.rate
}

func (p *stubProvider) ResetRequestCount() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.resets++
	p.requests = 0
}

func (p *stubProvider) Close() error { return nil }

type testEnv struct {
	cfg        *config.Config
	provider   *stubProvider
	guild      *platform.Memory
	identities *repository.IdentityRepository
	history    *repository.RankHistoryRepository
	reconciler *RoleReconciler
	audit      *Audit
	cycle      *Cycle
	linker     *Linker
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.Open(filepath.Join(t.TempDir(), "test.db"), zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &config.Config{
		CommandChannelName:     "bot-commands",
		AdminChannelName:       "admin-logs",
		UnrankedRoleName:       "Unranked",
		UnlinkedRoleName:       "Unlinked",
		UpdateInterval:         time.Hour,
		RateLimitWarnThreshold: 80,
	}

	guild := platform.NewMemory()
	provider := newStubProvider()
	identities := repository.NewIdentityRepository(db, zerolog.Nop())
	history := repository.NewRankHistoryRepository(db, zerolog.Nop())
	audit := NewAudit(guild, cfg, zerolog.Nop())
	reconciler := NewRoleReconciler(guild, audit, cfg, zerolog.Nop())

	return &testEnv{
		cfg:        cfg,
		provider:   provider,
		guild:      guild,
		identities: identities,
		history:    history,
		reconciler: reconciler,
		audit:      audit,
		cycle:      NewCycle(provider, identities, history, reconciler, guild, guild, audit, cfg, zerolog.Nop()),
		linker:     NewLinker(provider, identities, history, reconciler, guild, guild, audit, cfg, zerolog.Nop()),
	}
}
