package reconciliation

import (
	"math"
	"sort"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	accshared "github.com/meridian-books/meridian/internal/accounting/shared"
)

// Severity thresholds in currency units.
const (
	warningThreshold  = 1.00
	criticalThreshold = 100.00
)

var amounts = message.NewPrinter(language.English)

// UnbalancedJournal surfaces a specific journal whose own lines do not
// balance, to aid triage of a failed trial balance.
type UnbalancedJournal struct {
	JournalID   int64
	TotalDebit  float64
	TotalCredit float64
}

// WarehouseValue is the per-warehouse inventory valuation breakdown.
type WarehouseValue struct {
	WarehouseID int64
	Value       float64
}

// CheckResult is the outcome of one reconciliation check.
type CheckResult struct {
	Matched   bool
	Variances []Variance
}

// CheckTrialBalance compares total debits against total credits, listing any
// individually unbalanced journals.
func CheckTrialBalance(totalDebit, totalCredit float64, unbalanced []UnbalancedJournal) CheckResult {
	diff := accshared.Round2(totalDebit - totalCredit)
	if math.Abs(diff) < accshared.AmountEpsilon {
		return CheckResult{Matched: true}
	}
	result := CheckResult{}
	result.Variances = append(result.Variances, Variance{
		Type:        VarianceTrialBalance,
		Amount:      math.Abs(diff),
		Severity:    grade(diff),
		Description: amounts.Sprintf("trial balance off by %.2f: debits %.2f, credits %.2f", math.Abs(diff), totalDebit, totalCredit),
	})
	for _, j := range unbalanced {
		jdiff := accshared.Round2(j.TotalDebit - j.TotalCredit)
		result.Variances = append(result.Variances, Variance{
			Type:        VarianceTrialBalance,
			Amount:      math.Abs(jdiff),
			Severity:    grade(jdiff),
			Description: amounts.Sprintf("journal %d unbalanced: debits %.2f, credits %.2f", j.JournalID, j.TotalDebit, j.TotalCredit),
		})
	}
	return result
}

// CheckInventoryGL ties the FIFO layer valuation to the GL balance of
// inventory-flagged accounts, with a per-warehouse breakdown on mismatch.
func CheckInventoryGL(layerValue, glValue float64, perWarehouse []WarehouseValue) CheckResult {
	diff := accshared.Round2(layerValue - glValue)
	if math.Abs(diff) < accshared.AmountEpsilon {
		return CheckResult{Matched: true}
	}
	sorted := make([]WarehouseValue, len(perWarehouse))
	copy(sorted, perWarehouse)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Value > sorted[j].Value })
	breakdown := ""
	for i, wv := range sorted {
		if i > 0 {
			breakdown += ", "
		}
		breakdown += amounts.Sprintf("warehouse %d: %.2f", wv.WarehouseID, wv.Value)
	}
	desc := amounts.Sprintf("inventory layers value %.2f vs GL %.2f (diff %.2f)", layerValue, glValue, diff)
	if breakdown != "" {
		desc += "; " + breakdown
	}
	return CheckResult{Variances: []Variance{{
		Type:        VarianceInventory,
		Amount:      math.Abs(diff),
		Severity:    grade(diff),
		Description: desc,
	}}}
}

// CheckSubledger compares a control account's GL balance against the sum of
// open party balances for AR or AP.
func CheckSubledger(kind VarianceType, controlBalance, subledgerTotal float64) CheckResult {
	diff := accshared.Round2(controlBalance - subledgerTotal)
	if math.Abs(diff) < accshared.AmountEpsilon {
		return CheckResult{Matched: true}
	}
	return CheckResult{Variances: []Variance{{
		Type:        kind,
		Amount:      math.Abs(diff),
		Severity:    grade(diff),
		Description: amounts.Sprintf("%s control account %.2f vs subledger %.2f (diff %.2f)", label(kind), controlBalance, subledgerTotal, diff),
	}}}
}

func grade(diff float64) Severity {
	abs := math.Abs(diff)
	switch {
	case abs >= criticalThreshold:
		return SeverityCritical
	case abs >= warningThreshold:
		return SeverityWarning
	default:
		return SeverityInfo
	}
}

func label(kind VarianceType) string {
	switch kind {
	case VarianceAR:
		return "AR"
	case VarianceAP:
		return "AP"
	default:
		return string(kind)
	}
}
