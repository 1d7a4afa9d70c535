package underwriting

import (
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
)

// AssumptionsHash implements spec.md §4.6.3's canonical-hash rule:
// SHA-1 of a canonical JSON encoding that sorts keys lexicographically and
// omits optional fields whose value is unset, so identical assumption
// objects hash identically regardless of struct field order.
//
// encoding/json already sorts map[string]interface{} keys alphabetically
// when marshaling, so building the canonical form as a map (rather than
// hand-rolling a sorted-key encoder) is sufficient and matches the
// corpus's preference for stdlib json over a bespoke serializer.
func AssumptionsHash(a Assumptions) string {
	canonical := map[string]interface{}{
		"downPct":      a.DownPct,
		"rateBps":      a.RateBps,
		"amortMonths":  a.AmortMonths,
		"rentScenario": a.RentScenario,
	}
	if a.MgmtPct != nil {
		canonical["mgmtPct"] = *a.MgmtPct
	}
	if a.ReservesMonthly != nil {
		canonical["reservesMonthly"] = *a.ReservesMonthly
	}
	if a.ExitCapPct != nil {
		canonical["exitCapPct"] = *a.ExitCapPct
	}
	if a.GrowthRentPct != nil {
		canonical["growthRentPct"] = *a.GrowthRentPct
	}
	if a.GrowthExpensePct != nil {
		canonical["growthExpensePct"] = *a.GrowthExpensePct
	}
	if a.HoldYears != nil {
		canonical["holdYears"] = *a.HoldYears
	}

	// json.Marshal error is impossible here: every value is a plain scalar.
	b, _ := json.Marshal(canonical)
	sum := sha1.Sum(b)
	return hex.EncodeToString(sum[:])
}
