package utils

import "math"

// RoundRupees rounds to the nearest whole currency unit. Used for redeem
// and shipping-charge fields at the point they are persisted.
func RoundRupees(amount float64) float64 {
	return math.Round(amount)
}

// RoundPaise rounds to two decimal places. Used for commission and
// cashback amounts.
func RoundPaise(amount float64) float64 {
	return math.Round(amount*100) / 100
}
