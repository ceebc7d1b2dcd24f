package billing

import (
	"strings"

	"github.com/hms/backend/internal/domain/shared/valueobject"
	"github.com/shopspring/decimal"
)

var frequencyPerDay = map[string]int64{
	"QD":   1,
	"BID":  2,
	"TID":  3,
	"QID":  4,
	"Q4H":  6,
	"Q6H":  4,
	"Q8H":  3,
	"Q12H": 2,
	"PRN":  1,
	"STAT": 1,
	"AC":   3,
	"PC":   3,
	"HS":   1,
}

// FrequencyPerDay maps a dosing frequency code to administrations per day.
// Unknown codes count as once daily.
func FrequencyPerDay(code string) int64 {
	if n, ok := frequencyPerDay[strings.ToUpper(strings.TrimSpace(code))]; ok {
		return n
	}
	return 1
}

// DurationUnit is the unit a prescription duration is written in
type DurationUnit string

const (
	DurationDays   DurationUnit = "DAYS"
	DurationWeeks  DurationUnit = "WEEKS"
	DurationMonths DurationUnit = "MONTHS"
)

// DurationInDays converts a duration to days (weeks x7, months x30)
func DurationInDays(value int64, unit DurationUnit) int64 {
	switch DurationUnit(strings.ToUpper(string(unit))) {
	case DurationWeeks:
		return value * 7
	case DurationMonths:
		return value * 30
	default:
		return value
	}
}

// Administrations is the number of doses over the course
func Administrations(frequency string, duration int64, unit DurationUnit) int64 {
	return FrequencyPerDay(frequency) * DurationInDays(duration, unit)
}

// WeightBasedDosing describes a per-kilogram dose. Min and max are optional bounds.
type WeightBasedDosing struct {
	WeightBased   bool             `json:"is_weight_based"`
	DosePerKg     *decimal.Decimal `json:"dose_per_kg,omitempty"`
	MinDose       *decimal.Decimal `json:"min_dose,omitempty"`
	MaxDose       *decimal.Decimal `json:"max_dose,omitempty"`
	PatientWeight *decimal.Decimal `json:"patient_weight,omitempty"`
}

// Applies reports whether the item is flagged weight-based and both the dose
// per kg and the patient weight are known
func (w *WeightBasedDosing) Applies() bool {
	return w != nil && w.WeightBased && w.DosePerKg != nil && w.PatientWeight != nil
}

// Dose computes dose_per_kg x weight, clamped to [min, max] where set
func (w *WeightBasedDosing) Dose() decimal.Decimal {
	dose := w.DosePerKg.Mul(*w.PatientWeight)
	if w.MinDose != nil && dose.LessThan(*w.MinDose) {
		dose = *w.MinDose
	}
	if w.MaxDose != nil && dose.GreaterThan(*w.MaxDose) {
		dose = *w.MaxDose
	}
	return dose
}

// PrescriptionCharge is the priced result for one prescription item
type PrescriptionCharge struct {
	Quantity  decimal.Decimal
	UnitPrice decimal.Decimal
	Amount    decimal.Decimal
}

// PricePrescription prices a prescription item. The quantity is the
// administration count; with weight-based dosing the amount is
// dose x administrations x unit price instead of quantity x unit price.
func PricePrescription(frequency string, duration int64, unit DurationUnit, unitPrice decimal.Decimal, dosing *WeightBasedDosing) PrescriptionCharge {
	qty := decimal.NewFromInt(Administrations(frequency, duration, unit))
	price := valueobject.RoundMoney(unitPrice)

	amount := qty.Mul(price)
	if dosing.Applies() {
		amount = dosing.Dose().Mul(qty).Mul(price)
	}
	return PrescriptionCharge{
		Quantity:  qty,
		UnitPrice: price,
		Amount:    valueobject.RoundMoney(amount),
	}
}

// PriceLabTest returns price x quantity, quantity defaulting to 1
func PriceLabTest(price decimal.Decimal, quantity decimal.Decimal) (decimal.Decimal, decimal.Decimal) {
	if !quantity.IsPositive() {
		quantity = decimal.NewFromInt(1)
	}
	return quantity, valueobject.RoundMoney(price.Mul(quantity))
}
