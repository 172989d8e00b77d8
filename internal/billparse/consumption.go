// internal/billparse/consumption.go
package billparse

import "regexp"

// Consumption carries the metered-usage block of gas/electricity bills.
// Values are canonical decimal strings; absent readings stay empty.
type Consumption struct {
	MeasuredM3       string          `json:"measured_m3,omitempty"`
	CorrectionFactor string          `json:"correction_factor,omitempty"`
	CaloriesSupplied string          `json:"calories_supplied,omitempty"`
	BilledM3         string          `json:"billed_m3,omitempty"`
	AssignedM3       string          `json:"assigned_m3,omitempty"`
	VariableCharge   *VariableCharge `json:"variable_charge,omitempty"`
}

// VariableCharge is the kWh line of electricity bills.
type VariableCharge struct {
	KWh    string `json:"kwh,omitempty"`
	Rate   string `json:"rate,omitempty"`
	Amount string `json:"amount,omitempty"`
}

var (
	measuredPattern   = regexp.MustCompile(`(?i)Consumo Medido\s+(\d+)\s*m³`)
	correctionPattern = regexp.MustCompile(`(?i)Factor de correción.*?\(1\)\s+(\d+\.\d+)`)
	caloriesPattern   = regexp.MustCompile(`(?i)Calorías suministradas\s+(\d+\.\d+)\s*kcal`)
	billedPattern     = regexp.MustCompile(`(?i)Consumo a facturar a \d+ kcal/m³\s+(\d+)\s*x\s+(\d+\.\d+)\s*x\s*\(\s*(\d+\.\d+)\s*\)\s+(\d+)\s*m³`)
	assignedPattern   = regexp.MustCompile(`(?i)M3 asignados.*?(\d+\.\d+)\s*m³`)
	variablePattern   = regexp.MustCompile(`(?i)Cargo Variable kWh\s+(\d+)\s+([\d,.]+)\s+([\d,.]+)`)
	historyPattern    = regexp.MustCompile(`(\d{2}/\d{2})\s+(\d+(?:,\d+)?)`)
)

func normalizedMatch(re *regexp.Regexp, text string, group int) string {
	m := re.FindStringSubmatch(text)
	if len(m) <= group {
		return ""
	}
	value, ok := NormalizeAmount(m[group])
	if !ok {
		return ""
	}
	return value
}

func (p *Parser) extractConsumption(text string) *Consumption {
	c := Consumption{
		MeasuredM3:       normalizedMatch(measuredPattern, text, 1),
		CorrectionFactor: normalizedMatch(correctionPattern, text, 1),
		CaloriesSupplied: normalizedMatch(caloriesPattern, text, 1),
		// The billed line multiplies metered volume by the correction chain;
		// the last group is the resulting billed m³.
		BilledM3:   normalizedMatch(billedPattern, text, 4),
		AssignedM3: normalizedMatch(assignedPattern, text, 1),
	}

	if m := variablePattern.FindStringSubmatch(text); len(m) == 4 {
		vc := VariableCharge{}
		vc.KWh, _ = NormalizeAmount(m[1])
		vc.Rate, _ = NormalizeAmount(m[2])
		vc.Amount, _ = NormalizeAmount(m[3])
		if vc != (VariableCharge{}) {
			c.VariableCharge = &vc
		}
	}

	if c == (Consumption{}) {
		return nil
	}
	return &c
}

// ExtractConsumptionHistory returns the month-by-month usage table some
// providers print, keyed by "MM/YY" period.
func (p *Parser) ExtractConsumptionHistory(text string) map[string]string {
	history := make(map[string]string)
	for _, m := range historyPattern.FindAllStringSubmatch(text, -1) {
		value, ok := NormalizeAmount(m[2])
		if !ok {
			continue
		}
		history[m[1]] = value
	}
	if len(history) == 0 {
		return nil
	}
	return history
}
