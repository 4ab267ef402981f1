// membership_cache.go — LRU-кэш участия пользователей в делах с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus-метрики кэша.
var (
	membershipCacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_membership_cache_hits_total",
		Help: "Общее количество попаданий в кэш участников дел.",
	})
	membershipCacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "lm_membership_cache_misses_total",
		Help: "Общее количество промахов кэша участников дел.",
	})
)

// MembershipCache хранит только положительные ответы: участники
// из дела не удаляются, поэтому «да» не устаревает.
type MembershipCache struct {
	cache *expirable.LRU[string, struct{}]
}

// NewMembershipCache создаёт кэш на maxSize пар (дело, пользователь).
func NewMembershipCache(maxSize int, ttl time.Duration) *MembershipCache {
	return &MembershipCache{cache: expirable.NewLRU[string, struct{}](maxSize, nil, ttl)}
}

// IsMember возвращает true, если участие уже подтверждено.
func (c *MembershipCache) IsMember(matterID, userID string) bool {
	if _, ok := c.cache.Get(membershipKey(matterID, userID)); ok {
		membershipCacheHitsTotal.Inc()
		return true
	}
	membershipCacheMissesTotal.Inc()
	return false
}

// Remember запоминает подтверждённое участие.
func (c *MembershipCache) Remember(matterID, userID string) {
	c.cache.Add(membershipKey(matterID, userID), struct{}{})
}

// Len — число записей в кэше.
func (c *MembershipCache) Len() int {
	return c.cache.Len()
}

func membershipKey(matterID, userID string) string {
	return matterID + "\x00" + userID
}
