package downloadtokens

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dmitrijs2005/shashinpass/internal/common"
	"github.com/dmitrijs2005/shashinpass/internal/server/models"
)

var errDuplicateDigest = errors.New("duplicate token digest")

// MemoryRepository keeps tokens for the lifetime of the process.
type MemoryRepository struct {
	mu     sync.RWMutex
	tokens map[string]models.DownloadToken
	now    func() time.Time
}

// NewMemoryRepository returns an empty in-memory token store.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		tokens: make(map[string]models.DownloadToken),
		now:    time.Now,
	}
}

func (r *MemoryRepository) Create(ctx context.Context, token *models.DownloadToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tokens[token.Digest]; ok {
		return errDuplicateDigest
	}
	stored := *token
	stored.Token = ""
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = r.now()
	}
	r.tokens[token.Digest] = stored
	return nil
}

func (r *MemoryRepository) Find(ctx context.Context, digest string) (*models.DownloadToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[digest]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &t, nil
}

func (r *MemoryRepository) DeleteExpired(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for digest, t := range r.tokens {
		if t.ExpiresAt.Before(before) {
			delete(r.tokens, digest)
			n++
		}
	}
	return n, nil
}

// Len reports how many tokens are held.
func (r *MemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tokens)
}
