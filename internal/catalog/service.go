package catalog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/singleflight"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	GetProduct(ctx context.Context, sku string) (Product, error)
	ListGroupMembers(ctx context.Context, groupID string) ([]Product, error)
	UpsertProduct(ctx context.Context, p Product) error
	SetProductGroup(ctx context.Context, sku string, groupID *string) error
	GetMapping(ctx context.Context, sellerSKU string) (ChannelMapping, bool, error)
	UpsertMapping(ctx context.Context, m ChannelMapping) error
}

// Service coordinates catalog operations and linked-product resolution.
type Service struct {
	repo     RepositoryPort
	cache    *redis.Client
	cacheTTL time.Duration
	lookups  singleflight.Group
}

// ServiceConfig groups optional settings.
type ServiceConfig struct {
	MappingCacheTTL time.Duration
}

// NewService builds Service. The redis client is optional; without it every
// mapping lookup hits the repository.
func NewService(repo RepositoryPort, cache *redis.Client, cfg ServiceConfig) *Service {
	ttl := cfg.MappingCacheTTL
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Service{repo: repo, cache: cache, cacheTTL: ttl}
}

// ResolveGroup returns every product sharing the physical inventory pool of
// sku, including the product itself. A standalone product resolves to a
// one-element group.
func (s *Service) ResolveGroup(ctx context.Context, sku string) ([]Product, error) {
	product, err := s.repo.GetProduct(ctx, sku)
	if err != nil {
		return nil, err
	}
	if !product.Grouped() {
		return []Product{product}, nil
	}
	members, err := s.repo.ListGroupMembers(ctx, *product.PhysicalGroupID)
	if err != nil {
		return nil, err
	}
	if len(members) == 0 {
		return []Product{product}, nil
	}
	return members, nil
}

// MasterSKU resolves a seller-facing channel SKU to the internal master SKU.
// The second return is false for unmapped SKUs. Lookups are cached in redis
// and collapsed via singleflight under concurrent load.
func (s *Service) MasterSKU(ctx context.Context, sellerSKU string) (string, bool, error) {
	sellerSKU = strings.TrimSpace(sellerSKU)
	if sellerSKU == "" {
		return "", false, nil
	}
	cacheKey := mappingCacheKey(sellerSKU)
	if s.cache != nil {
		if cached, err := s.cache.Get(ctx, cacheKey).Result(); err == nil {
			if cached == cacheMissSentinel {
				return "", false, nil
			}
			return cached, true, nil
		}
	}
	out, err, _ := s.lookups.Do(sellerSKU, func() (any, error) {
		mapping, found, err := s.repo.GetMapping(ctx, sellerSKU)
		if err != nil {
			return nil, err
		}
		if s.cache != nil {
			value := cacheMissSentinel
			if found {
				value = mapping.MasterSKU
			}
			_ = s.cache.Set(ctx, cacheKey, value, s.cacheTTL).Err()
		}
		if !found {
			return "", nil
		}
		return mapping.MasterSKU, nil
	})
	if err != nil {
		return "", false, err
	}
	master := out.(string)
	return master, master != "", nil
}

// UpsertProduct validates and stores a product.
func (s *Service) UpsertProduct(ctx context.Context, p Product) error {
	if strings.TrimSpace(p.SKU) == "" {
		return fmt.Errorf("%w: sku is required", ErrValidation)
	}
	if strings.TrimSpace(p.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if p.Cost.IsNegative() {
		return fmt.Errorf("%w: cost must be >= 0", ErrValidation)
	}
	return s.repo.UpsertProduct(ctx, p)
}

// AssignGroup sets the product's shared-inventory group. Passing an empty
// group id detaches the product into a standalone pool. Group reassignment is
// an explicit admin action; receiving and deduction never change it.
func (s *Service) AssignGroup(ctx context.Context, sku, groupID string) error {
	sku = strings.TrimSpace(sku)
	if sku == "" {
		return fmt.Errorf("%w: sku is required", ErrValidation)
	}
	var group *string
	if trimmed := strings.TrimSpace(groupID); trimmed != "" {
		group = &trimmed
	}
	return s.repo.SetProductGroup(ctx, sku, group)
}

// UpsertMapping stores a channel mapping and invalidates its cache entry.
func (s *Service) UpsertMapping(ctx context.Context, m ChannelMapping) error {
	if strings.TrimSpace(m.SellerSKU) == "" || strings.TrimSpace(m.MasterSKU) == "" {
		return fmt.Errorf("%w: seller and master sku are required", ErrValidation)
	}
	if _, err := s.repo.GetProduct(ctx, m.MasterSKU); err != nil {
		return err
	}
	if err := s.repo.UpsertMapping(ctx, m); err != nil {
		return err
	}
	if s.cache != nil {
		_ = s.cache.Del(ctx, mappingCacheKey(m.SellerSKU)).Err()
	}
	return nil
}

const cacheMissSentinel = "\x00unmapped"

func mappingCacheKey(sellerSKU string) string {
	return fmt.Sprintf("catalog:mapping:%s", sellerSKU)
}
