package service

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"
)

const permissionCachePrefix = "perm:role:"

// PermissionSet is the effective set of permission names of a role.
type PermissionSet map[string]struct{}

// NewPermissionSet builds a set from names.
func NewPermissionSet(names ...string) PermissionSet {
	set := make(PermissionSet, len(names))
	for _, name := range names {
		set[name] = struct{}{}
	}
	return set
}

// Has reports whether name is in the set.
func (p PermissionSet) Has(name string) bool {
	_, ok := p[name]
	return ok
}

// Names returns the members sorted.
func (p PermissionSet) Names() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

type permissionRepository interface {
	PermissionNames(ctx context.Context, roleID string) ([]string, error)
}

// permissionSource is what consumers of resolved permissions depend on.
type permissionSource interface {
	EffectivePermissions(ctx context.Context, roleID string) (PermissionSet, error)
}

// PermissionResolverConfig tunes caching and store timeouts.
type PermissionResolverConfig struct {
	CacheTTL     time.Duration
	StoreTimeout time.Duration
}

// PermissionResolver computes effective permissions through the role to
// permission join. The cache is an optimisation only: any cache failure
// falls back to the store.
type PermissionResolver struct {
	repo   permissionRepository
	cache  *CacheService
	cfg    PermissionResolverConfig
	logger *zap.Logger
}

// NewPermissionResolver constructs a PermissionResolver. cache may be nil.
func NewPermissionResolver(repo permissionRepository, cache *CacheService, cfg PermissionResolverConfig, logger *zap.Logger) *PermissionResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 30 * time.Second
	}
	return &PermissionResolver{repo: repo, cache: cache, cfg: cfg, logger: logger}
}

// EffectivePermissions returns the permissions granted to roleID. A role with
// no grants yields an empty set.
func (r *PermissionResolver) EffectivePermissions(ctx context.Context, roleID string) (PermissionSet, error) {
	key := permissionCachePrefix + roleID

	var cached []string
	if hit, _ := r.cache.Get(ctx, key, &cached); hit {
		return NewPermissionSet(cached...), nil
	}

	storeCtx, cancel := withStoreTimeout(ctx, r.cfg.StoreTimeout)
	defer cancel()
	names, err := r.repo.PermissionNames(storeCtx, roleID)
	if err != nil {
		return nil, storeError(err, "failed to resolve permissions")
	}

	if err := r.cache.Set(ctx, key, names, r.cfg.CacheTTL); err != nil {
		r.logger.Debug("permission cache not populated", zap.String("role_id", roleID), zap.Error(err))
	}
	return NewPermissionSet(names...), nil
}

// HasPermission reports whether roleID grants name.
func (r *PermissionResolver) HasPermission(ctx context.Context, roleID, name string) (bool, error) {
	set, err := r.EffectivePermissions(ctx, roleID)
	if err != nil {
		return false, err
	}
	return set.Has(name), nil
}

// Invalidate drops the cached set for roleID. Provisioning calls it
// synchronously after every role or grant mutation.
func (r *PermissionResolver) Invalidate(ctx context.Context, roleID string) {
	if err := r.cache.Delete(ctx, permissionCachePrefix+roleID); err != nil {
		r.logger.Warn("failed to invalidate permission cache", zap.String("role_id", roleID), zap.Error(err))
	}
}

// InvalidateAll drops every cached permission set.
func (r *PermissionResolver) InvalidateAll(ctx context.Context) {
	if err := r.cache.Invalidate(ctx, permissionCachePrefix+"*"); err != nil {
		r.logger.Warn("failed to flush permission cache", zap.Error(err))
	}
}
