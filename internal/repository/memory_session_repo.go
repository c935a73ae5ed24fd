package repository

import (
	"context"
	"sync"
	"time"

	"github.com/hitoshi/registre/internal/model"
)

// MemorySessionRepo はプロセス内メモリにGrantを保持するセッションリポジトリ。
// 再起動でセッションは失われる。単一プロセス構成向け。
type MemorySessionRepo struct {
	mu     sync.RWMutex
	grants map[string]*model.Grant

	now      func() time.Time
	stopCh   chan struct{}
	stopOnce sync.Once
}

// NewMemorySessionRepo はMemorySessionRepoを生成する。
// purgeIntervalが正の場合、期限切れGrantを定期的に削除するゴルーチンを開始する。
func NewMemorySessionRepo(purgeInterval time.Duration) *MemorySessionRepo {
	r := &MemorySessionRepo{
		grants: make(map[string]*model.Grant),
		now:    time.Now,
		stopCh: make(chan struct{}),
	}

	if purgeInterval > 0 {
		go r.purgeLoop(purgeInterval)
	}

	return r
}

// Save はGrantのコピーを保存する。
func (r *MemorySessionRepo) Save(ctx context.Context, grant *model.Grant) error {
	g := *grant
	r.mu.Lock()
	r.grants[g.SessionID] = &g
	r.mu.Unlock()
	return nil
}

// FindByID は指定IDのGrantのコピーを返す。期限切れの場合はnilを返す。
func (r *MemorySessionRepo) FindByID(ctx context.Context, id string) (*model.Grant, error) {
	r.mu.RLock()
	g, ok := r.grants[id]
	r.mu.RUnlock()

	if !ok || !r.now().Before(g.ExpiresAt) {
		return nil, nil
	}

	cp := *g
	return &cp, nil
}

// DeleteByID は指定IDのGrantを削除する。存在しない場合も成功とする。
func (r *MemorySessionRepo) DeleteByID(ctx context.Context, id string) error {
	r.mu.Lock()
	delete(r.grants, id)
	r.mu.Unlock()
	return nil
}

// Len は保持中のGrant数を返す。テストおよびメトリクス用。
func (r *MemorySessionRepo) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.grants)
}

// Close はパージのバックグラウンドゴルーチンを停止する。
func (r *MemorySessionRepo) Close() error {
	r.stopOnce.Do(func() { close(r.stopCh) })
	return nil
}

// purgeLoop はバックグラウンドで期限切れGrantを定期的に削除する。
func (r *MemorySessionRepo) purgeLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			r.purge()
		case <-r.stopCh:
			return
		}
	}
}

// purge はExpiresAtを過ぎたGrantを削除し、削除件数を返す。
func (r *MemorySessionRepo) purge() int {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	removed := 0
	for id, g := range r.grants {
		if !now.Before(g.ExpiresAt) {
			delete(r.grants, id)
			removed++
		}
	}
	return removed
}

// compile-time interface check
var _ SessionRepository = (*MemorySessionRepo)(nil)
