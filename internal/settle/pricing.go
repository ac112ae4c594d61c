// ABOUTME: Pricing arithmetic for fetch settlement
// ABOUTME: Flat plus per-kilobyte cost and basis-point fee splits

package settle

import (
	"github.com/mercatae/mercat-gateway/internal/store"
)

const bytesPerKB = 1024

// Cost computes the charge for delivering the given number of bytes:
// flat price plus per-KB price times the kilobyte count, rounded up.
func Cost(resource *store.Resource, bytes int64) float64 {
	cost := resource.PriceFlat
	if resource.PricePerKB > 0 && bytes > 0 {
		kb := (bytes + bytesPerKB - 1) / bytesPerKB
		cost += resource.PricePerKB * float64(kb)
	}
	return cost
}

// Quote estimates the charge before content size is known: the flat price
// plus one kilobyte of per-KB pricing. The settled cost uses actual bytes.
func Quote(resource *store.Resource) float64 {
	cost := resource.PriceFlat
	if resource.PricePerKB > 0 {
		cost += resource.PricePerKB
	}
	return cost
}

// Split divides a cost between platform and provider using a basis-point
// platform fee. The provider share is the remainder so the two always sum
// back to the cost.
func Split(cost float64, feeBps int64) (platform, provider float64) {
	platform = cost * float64(feeBps) / 10000
	provider = cost - platform
	return platform, provider
}
