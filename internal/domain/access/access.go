// Пакет access — политика доступа к документам по уровню подписки.
// Чистая функция без I/O: tier подписки → множество уровней доступа.
// Каждый tier — надмножество предыдущего (кумулятивный доступ).
package access

// Уровни подписки (tiers) в порядке возрастания привилегий.
const (
	TierBronze   = "bronze"
	TierSilver   = "silver"
	TierGold     = "gold"
	TierPlatinum = "platinum"
)

// Уровни доступа документов в порядке возрастания закрытости.
const (
	LevelPublic    = "public"
	LevelBasic     = "basic"
	LevelPremium   = "premium"
	LevelExclusive = "exclusive"
)

// tierWeight — вес tier для сравнения. Чем выше вес, тем шире доступ.
var tierWeight = map[string]int{
	TierBronze:   1,
	TierSilver:   2,
	TierGold:     3,
	TierPlatinum: 4,
}

// levelWeight — минимальный вес tier, необходимый для уровня доступа.
var levelWeight = map[string]int{
	LevelPublic:    1,
	LevelBasic:     2,
	LevelPremium:   3,
	LevelExclusive: 4,
}

// HasAccess проверяет, открывает ли tier указанный уровень доступа:
// bronze → {public}; silver → {public, basic};
// gold → {public, basic, premium};
// platinum → {public, basic, premium, exclusive}.
// Неизвестный tier или уровень — всегда false (отсутствие подписки
// не даёт доступа даже к public-документам платного контура).
func HasAccess(tier, level string) bool {
	tw, ok := tierWeight[tier]
	if !ok {
		return false
	}
	lw, ok := levelWeight[level]
	if !ok {
		return false
	}
	return tw >= lw
}

// AllowedLevels возвращает множество уровней, доступных tier-у,
// в порядке возрастания закрытости. Для неизвестного tier — nil.
func AllowedLevels(tier string) []string {
	tw, ok := tierWeight[tier]
	if !ok {
		return nil
	}
	var result []string
	for _, level := range []string{LevelPublic, LevelBasic, LevelPremium, LevelExclusive} {
		if levelWeight[level] <= tw {
			result = append(result, level)
		}
	}
	return result
}

// IsValidTier проверяет, является ли строка допустимым tier.
func IsValidTier(tier string) bool {
	_, ok := tierWeight[tier]
	return ok
}

// IsValidLevel проверяет, является ли строка допустимым уровнем доступа.
func IsValidLevel(level string) bool {
	_, ok := levelWeight[level]
	return ok
}

// MaxTier возвращает tier с максимальным доступом из двух.
func MaxTier(a, b string) string {
	if tierWeight[a] >= tierWeight[b] {
		return a
	}
	return b
}
