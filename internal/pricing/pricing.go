// Package pricing holds the static credit price list, the free-quota
// policy and the stars-to-credits purchase packages.
package pricing

import "github.com/tokengen/tokengen-bot/internal/models"

const (
	// FreeDailyLimit is the number of free-quota issuances per account
	// per UTC calendar day.
	FreeDailyLimit = 3

	// freeQuotaCostCeiling caps which kinds the free quota may pay for:
	// only kinds priced at or below this many credits qualify.
	freeQuotaCostCeiling = 5

	// fallbackCreditsPerStar converts purchases that match no known
	// package.
	fallbackCreditsPerStar = 2
)

var prices = map[models.TokenKind]int{
	models.KindAPIKey: 5,
	models.KindJWT:    10,
	models.KindUUID:   3,
	models.KindCustom: 8,
	models.KindBulk:   20,
}

// creditPackages maps stars paid to credits granted.
var creditPackages = map[int]int{
	50:  100,
	100: 250,
	250: 750,
	500: 2000,
}

// Cost returns the base credit cost of a token kind. Unknown kinds fall
// back to the API-key price.
func Cost(kind models.TokenKind) int {
	if c, ok := prices[kind]; ok {
		return c
	}
	return prices[models.KindAPIKey]
}

// CustomCost prices a custom token including surcharges for oversized
// length and special characters.
func CustomCost(length int, includeSpecial bool) int {
	cost := prices[models.KindCustom]
	if length > 64 {
		cost += 5
	}
	if includeSpecial {
		cost += 2
	}
	return cost
}

// FreeQuotaEligible reports whether the free quota may fund the kind.
func FreeQuotaEligible(kind models.TokenKind) bool {
	return Cost(kind) <= freeQuotaCostCeiling
}

// CreditsForStars maps a paid stars amount to granted credits. Amounts
// outside the package table convert at the fallback rate.
func CreditsForStars(stars int) int {
	if credits, ok := creditPackages[stars]; ok {
		return credits
	}
	return stars * fallbackCreditsPerStar
}

// Packages returns the purchase tiers in ascending stars order.
func Packages() []struct{ Stars, Credits int } {
	return []struct{ Stars, Credits int }{
		{50, 100},
		{100, 250},
		{250, 750},
		{500, 2000},
	}
}
