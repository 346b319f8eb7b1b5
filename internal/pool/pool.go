package pool

import (
	"context"
	"errors"
	"log"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kreepthom/aiproxy/internal/auth/claude"
	"github.com/kreepthom/aiproxy/internal/config"
	"github.com/kreepthom/aiproxy/internal/db"
	"github.com/kreepthom/aiproxy/internal/db/models"
	"golang.org/x/sync/singleflight"
)

// ErrNoAvailableAccounts is returned when filtering leaves no eligible account.
var ErrNoAvailableAccounts = errors.New("no available accounts")

// TokenRefresher refreshes an account's access token. Satisfied by
// *claude.Client.
type TokenRefresher interface {
	Refresh(ctx context.Context, refreshToken string) (*claude.TokenSet, error)
}

// Pool answers "give me a usable account, excluding these ids". The durable
// store is the source of truth; the pool keeps a snapshot of the active set
// as derived state, refreshed by the sync loop and used only when a live
// store read fails.
type Pool struct {
	store   db.AccountStore
	oauth   TokenRefresher
	health  *HealthTracker
	cfg     config.PoolConfig
	refresh singleflight.Group

	mu       sync.RWMutex
	snapshot []models.Account

	rr   uint64 // round-robin cursor
	stop chan struct{}
	wg   sync.WaitGroup
}

// New creates an account pool.
func New(store db.AccountStore, oauth TokenRefresher, cfg config.PoolConfig) *Pool {
	return &Pool{
		store:  store,
		oauth:  oauth,
		health: NewHealthTracker(cfg.MaxConsecutiveFailures, cfg.HealthThreshold),
		cfg:    cfg,
		stop:   make(chan struct{}),
	}
}

// Health exposes the tracker to the background loops.
func (p *Pool) Health() *HealthTracker { return p.health }

// Select returns a usable account not in excluding. Candidates whose token
// expires within the configured lead time are refreshed synchronously
// (single-flighted per account); a refresh failure degrades that account to
// EXPIRED and skips it for this round only.
func (p *Pool) Select(ctx context.Context, excluding map[string]struct{}) (*models.Account, error) {
	accounts, err := p.store.LoadAllActive()
	if err != nil {
		log.Printf("⚠️ Account store read failed, falling back to snapshot: %v", err)
		accounts = p.snapshotCopy()
	} else {
		p.setSnapshot(accounts)
	}

	eligible := make([]models.Account, 0, len(accounts))
	for i := range accounts {
		acc := accounts[i]
		if _, tried := excluding[acc.ID]; tried {
			continue
		}
		if !p.health.Healthy(acc.ID) {
			continue
		}
		if acc.AuthScheme == models.AuthSchemeOAuth && acc.TokenExpiresWithin(p.cfg.TokenRefreshLeadTime) {
			refreshed, err := p.refreshAccount(ctx, acc)
			if err != nil {
				log.Printf("⚠️ Token refresh failed for account %s, skipping this round: %v", acc.Email, err)
				continue
			}
			acc = *refreshed
		}
		if !acc.Eligible() {
			continue
		}
		eligible = append(eligible, acc)
	}

	if len(eligible) == 0 {
		return nil, ErrNoAvailableAccounts
	}

	selected := p.pick(eligible)
	log.Printf("🎯 Selected account %s (%d eligible, %d excluded)", selected.Email, len(eligible), len(excluding))
	return selected, nil
}

func (p *Pool) pick(eligible []models.Account) *models.Account {
	switch p.cfg.SelectionStrategy {
	case config.StrategyRoundRobin:
		idx := atomic.AddUint64(&p.rr, 1)
		return &eligible[int(idx)%len(eligible)]
	case config.StrategyLeastUsed:
		least := 0
		for i := 1; i < len(eligible); i++ {
			if eligible[i].LastUsedAt.Before(eligible[least].LastUsedAt) {
				least = i
			}
		}
		return &eligible[least]
	default: // random
		return &eligible[rand.Intn(len(eligible))]
	}
}

// refreshAccount performs a single-flighted token refresh. Concurrent
// selections of the same near-expiry account share one refresh call so a
// stale in-flight response cannot overwrite a newer token.
func (p *Pool) refreshAccount(ctx context.Context, acc models.Account) (*models.Account, error) {
	v, err, _ := p.refresh.Do(acc.ID, func() (interface{}, error) {
		tokens, err := p.oauth.Refresh(ctx, acc.RefreshToken)
		if err != nil {
			// A single refresh failure is not a pool failure: degrade the
			// account to EXPIRED and let the admin (or a later refresh)
			// bring it back.
			acc.Status = models.StatusExpired
			if saveErr := p.store.Save(&acc); saveErr != nil {
				log.Printf("⚠️ Failed to persist EXPIRED status for %s: %v", acc.Email, saveErr)
			}
			return nil, err
		}

		acc.AccessToken = tokens.AccessToken
		if tokens.RefreshToken != "" {
			acc.RefreshToken = tokens.RefreshToken
		}
		acc.TokenExpiresAt = time.Now().Add(time.Duration(tokens.ExpiresIn) * time.Second)
		acc.Status = models.StatusActive
		if err := p.store.Save(&acc); err != nil {
			return nil, err
		}
		log.Printf("✅ Refreshed token for account %s (expires %s)", acc.Email, acc.TokenExpiresAt.Format(time.RFC3339))
		return &acc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Account), nil
}

// MarkSuccess records a healthy outcome and updates usage counters in the
// background. The store update never blocks or fails the request path.
func (p *Pool) MarkSuccess(id string) {
	p.health.RecordSuccess(id)
	go p.persistSuccess(id)
}

func (p *Pool) persistSuccess(id string) {
	acc, err := p.store.Load(id)
	if err != nil {
		log.Printf("⚠️ Failed to load account %s for usage update: %v", id, err)
		return
	}
	acc.LastUsedAt = time.Now()
	acc.TotalRequests++
	if err := p.store.Save(acc); err != nil {
		log.Printf("⚠️ Failed to update usage for account %s: %v", id, err)
	}
}

// MarkFailure records a failed outcome. When the consecutive-failure
// threshold trips, the account transitions to ERROR/disabled exactly once.
func (p *Pool) MarkFailure(id string, cause error) {
	if p.health.RecordFailure(id) {
		log.Printf("🔒 Account %s crossed %d consecutive failures, disabling: %v", id, p.cfg.MaxConsecutiveFailures, cause)
		go p.persistDisable(id)
	}
}

func (p *Pool) persistDisable(id string) {
	acc, err := p.store.Load(id)
	if err != nil {
		log.Printf("⚠️ Failed to load account %s to disable: %v", id, err)
		return
	}
	acc.Status = models.StatusError
	acc.Enabled = false
	if err := p.store.Save(acc); err != nil {
		log.Printf("⚠️ Failed to disable account %s: %v", id, err)
	}
}

// SyncNow refreshes the derived snapshot from the store.
func (p *Pool) SyncNow() error {
	accounts, err := p.store.LoadAllActive()
	if err != nil {
		return err
	}
	p.setSnapshot(accounts)
	return nil
}

// Snapshot returns a copy of the last synced active set.
func (p *Pool) Snapshot() []models.Account {
	return p.snapshotCopy()
}

func (p *Pool) setSnapshot(accounts []models.Account) {
	p.mu.Lock()
	p.snapshot = accounts
	p.mu.Unlock()
}

func (p *Pool) snapshotCopy() []models.Account {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]models.Account, len(p.snapshot))
	copy(out, p.snapshot)
	return out
}
