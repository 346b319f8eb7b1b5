package pool

import (
	"log"
	"time"

	"github.com/kreepthom/aiproxy/internal/db/models"
)

// StartBackground launches the health-recovery and account-sync loops.
// Both run off the request path and only touch the pool through its public
// mutation operations.
func (p *Pool) StartBackground() {
	p.wg.Add(2)

	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.HealthCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				p.runHealthCheck()
			case <-p.stop:
				return
			}
		}
	}()

	go func() {
		defer p.wg.Done()
		ticker := time.NewTicker(p.cfg.AccountSyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if err := p.SyncNow(); err != nil {
					log.Printf("⚠️ Account sync failed: %v", err)
				}
			case <-p.stop:
				return
			}
		}
	}()

	log.Printf("🔄 Pool background tasks started (health %s, sync %s)", p.cfg.HealthCheckInterval, p.cfg.AccountSyncInterval)
}

// Stop shuts the background loops down and waits for them.
func (p *Pool) Stop() {
	close(p.stop)
	p.wg.Wait()
}

// runHealthCheck prunes stale health records and optimistically recovers
// ERROR accounts past the cooldown. Recovery is proven only by the next
// live request outcome.
func (p *Pool) runHealthCheck() {
	if pruned := p.health.Prune(p.cfg.HealthStaleAfter); pruned > 0 {
		log.Printf("🧹 Pruned %d stale health records", pruned)
	}
	p.recoverErrorAccounts()
}

func (p *Pool) recoverErrorAccounts() {
	accounts, err := p.store.LoadAll()
	if err != nil {
		log.Printf("⚠️ Health check could not load accounts: %v", err)
		return
	}

	now := time.Now()
	for i := range accounts {
		acc := accounts[i]
		if acc.Status != models.StatusError {
			continue
		}
		lastCheck, ok := p.health.LastCheck(acc.ID)
		if ok && lastCheck.Add(p.cfg.RecoveryCooldown).After(now) {
			continue // still cooling down
		}

		acc.Status = models.StatusActive
		acc.Enabled = true
		p.health.Reset(acc.ID)
		if err := p.store.Save(&acc); err != nil {
			log.Printf("⚠️ Failed to recover account %s: %v", acc.Email, err)
			continue
		}
		log.Printf("✅ Account %s recovered from ERROR to ACTIVE", acc.Email)
	}
}
