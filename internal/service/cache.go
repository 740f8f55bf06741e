// Пакет service — бизнес-логика LexStore.
// CacheService — LRU-кэш записей документов с TTL.
// Обёртка над hashicorp/golang-lru/v2/expirable.
package service

import (
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/golexstore/internal/domain/model"
)

// Prometheus-метрики кэша.
var (
	cacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ls_cache_hits_total",
		Help: "Общее количество попаданий в LRU-кэш документов.",
	})
	cacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "ls_cache_misses_total",
		Help: "Общее количество промахов LRU-кэша документов.",
	})
)

// CacheService — LRU-кэш записей документов с автоматическим TTL.
// Каждый экземпляр LexStore имеет собственный in-memory кэш.
type CacheService struct {
	cache *expirable.LRU[string, *model.Document]
}

// NewCacheService создаёт LRU-кэш с указанным максимальным размером и TTL.
// maxSize — максимальное количество записей в кэше.
// ttl — время жизни записи после добавления.
func NewCacheService(maxSize int, ttl time.Duration) *CacheService {
	cache := expirable.NewLRU[string, *model.Document](maxSize, nil, ttl)
	return &CacheService{cache: cache}
}

// Get возвращает Document из кэша по ID.
// Возвращает (запись, true) при hit или (nil, false) при miss.
// Обновляет Prometheus-метрики hit/miss.
func (c *CacheService) Get(docID string) (*model.Document, bool) {
	val, ok := c.cache.Get(docID)
	if ok {
		cacheHitsTotal.Inc()
		return val, true
	}
	cacheMissesTotal.Inc()
	return nil, false
}

// Set добавляет или обновляет запись в кэше.
func (c *CacheService) Set(docID string, doc *model.Document) {
	c.cache.Add(docID, doc)
}

// Delete удаляет запись из кэша (инвалидация при мутации документа).
func (c *CacheService) Delete(docID string) {
	c.cache.Remove(docID)
}
