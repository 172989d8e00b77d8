// internal/billparse/parser.go
package billparse

import (
	"regexp"
	"strings"

	"go.uber.org/zap"
)

// ParsedBill is the structured record extracted from one bill's raw text.
// Fields the text does not contain are omitted from the serialized form; the
// parser never asserts a field exists.
type ParsedBill struct {
	InvoiceNumber  string            `json:"invoice_number,omitempty"`
	InvoiceDate    string            `json:"invoice_date,omitempty"`
	AccountNumber  string            `json:"account_number,omitempty"`
	CustomerName   string            `json:"customer_name,omitempty"`
	DueDate        string            `json:"due_date,omitempty"`
	TotalAmount    string            `json:"total_amount,omitempty"`
	ServicePeriod  string            `json:"service_period,omitempty"`
	Address        *Address          `json:"address,omitempty"`
	BusinessInfo   map[string]string `json:"business_info,omitempty"`
	Charges        map[string]string `json:"charges,omitempty"`
	ServiceDetails []ServiceDetail   `json:"service_details,omitempty"`
	Installments   []Installment     `json:"installments,omitempty"`
	Consumption    *Consumption      `json:"consumption,omitempty"`
}

// ServiceDetail is one contracted-service line (plan, speed, period amounts).
type ServiceDetail struct {
	Service     string `json:"service,omitempty"`
	Description string `json:"description,omitempty"`
}

// Installment is one payment quota with its own due date.
type Installment struct {
	DueDate string `json:"due_date"`
	Amount  string `json:"amount"`
}

// Parser extracts structured fields from raw bill text using ordered pattern
// chains per semantic field. The first matching pattern wins, so chains are
// ordered most-specific first; a bare "$ amount" pattern is always last.
type Parser struct {
	logger *zap.Logger

	invoiceDate   []*regexp.Regexp
	accountNumber []*regexp.Regexp
	customerName  []*regexp.Regexp
	dueDate       []*regexp.Regexp
	totalAmount   []*regexp.Regexp
	servicePeriod []*regexp.Regexp
	invoiceNumber []*regexp.Regexp
	businessInfo  []labeledPattern
	charges       []*regexp.Regexp
	serviceDetail []*regexp.Regexp
	installments  *regexp.Regexp
}

type labeledPattern struct {
	label string
	re    *regexp.Regexp
}

func compileAll(patterns ...string) []*regexp.Regexp {
	res := make([]*regexp.Regexp, 0, len(patterns))
	for _, p := range patterns {
		res = append(res, regexp.MustCompile(p))
	}
	return res
}

// New builds a Parser with the default pattern set. Bill templates differ per
// provider, so every field carries several phrasings of the same label.
func New(logger *zap.Logger) *Parser {
	return &Parser{
		logger: logger.Named("billparse"),
		invoiceDate: compileAll(
			`(?im)Fecha(?:\sde)?\semisión:\s*(\d{2}/\d{2}/\d{2,4})`,
			`(?im)Fecha:\s*(\d{2}/\d{2}/\d{2,4})`,
			`(?im)Emisión:\s*(\d{2}/\d{2}/\d{2,4})`,
			`(?im)FECHA DE EMISIÓN\s*(\d{2}/\d{2}/\d{2,4})`,
		),
		accountNumber: compileAll(
			`(?im)NÚMERO DE CUENTA:\s*(\d+)`,
			`(?im)CÓDIGO PAGO ELECTRÓNICO\s*(\d+)`,
			`(?im)Cod\.\s*018\s*(\d+)`,
			`(?im)N° de Cliente:\s*(\d+)`,
			`(?im)(?:Cuenta|Account)(?:\sNº)?:\s*(\d+)`,
			`(?im)N° DE CLIENTE\s*(\d+)`,
			`(?im)Nº\s*(\d{3}-\d{7}-\d{3}-\d)`,
			`(?im)Código de LINK PAGOS / BANELCO:\s*(\d+)`,
		),
		customerName: compileAll(
			`(?im)NOMBRE:[ \t]*([^\n]+)`,
			`(?im)Titular:[ \t]*([^\n]+)`,
			`(?im)APELLIDO Y NOMBRE[^:\n]*:[ \t]*([^\n]+)`,
			// "Cliente:" must require a leading letter or it swallows the
			// digits of "N° de Cliente: 123".
			`(?im)Cliente:[ \t]*([A-ZÁÉÍÓÚÑ][^\n]*)`,
			`(?m)^([A-ZÁÉÍÓÚÑ ,]+?)\s+Vencimiento`,
		),
		dueDate: compileAll(
			`(?im)Vencimiento actual:\s*(\d{2}/\d{2}/\d{2,4})`,
			`(?im)Vencimiento:\s*(\d{2}/\d{2}/\d{2,4})`,
			`(?im)C\.E\.S\.P\..*?:\s*(\d{2}/\d{2}/\d{2,4})`,
			`(?im)Fecha de vencimiento:\s*(\d{2}/\d{2}/\d{2,4})`,
			`(?im)VENCIMIENTO\s*(\d{2}/\d{2}/\d{2,4})`,
		),
		totalAmount: compileAll(
			`(?im)TOTAL\s*\$\s*([\d,.]+)`,
			`(?im)Total a pagar.*?\$\s*([\d,.]+)`,
			`(?im)Importe Total:?\s*\$\s*([\d,.]+)`,
			`(?im)TOTAL PESOS:\s*\$\s*([\d,.]+)`,
			`(?im)IMPORTE A PAGAR\s*\$\s*([\d,.]+)`,
			// Generic trailing amount. Must stay last or it shadows the
			// labeled totals above.
			`(?m)\$\s*([\d,.]+)\s*$`,
		),
		servicePeriod: compileAll(
			`(?im)PERIODO\s+([^$\n]+?)\s+VENCIMIENTO`,
			`(?im)Período Facturado:\s*([\w\s/]+)`,
			`((?:\d{2}/\d{2}/\d{2,4})\s*al\s*(?:\d{2}/\d{2}/\d{2,4}))`,
		),
		invoiceNumber: compileAll(
			`(?im)FACTURA\s+([A-Z]\s+[\d-]+)`,
			`(?im)B-(\d+)`,
			`(?im)Nº\s*(\d{3}-\d{7}-\d{3}-\d)`,
		),
		businessInfo: []labeledPattern{
			{"CUIT", regexp.MustCompile(`(?im)CUIT[^:\n]*:\s*([\d-]+)`)},
			{"INGRESOS BRUTOS", regexp.MustCompile(`(?im)INGRESOS BRUTOS:\s*(\d+)`)},
			{"IVA", regexp.MustCompile(`(?im)IVA\s+([^:\n]+)`)},
			{"INICIO ACTIVIDAD", regexp.MustCompile(`(?im)Inicio[^:\n]*:\s*(\d{2}/\d{2}/\d{4})`)},
			{"ESTABLECIMIENTO", regexp.MustCompile(`(?im)ESTABLECIMIENTO[^:\n]*:\s*([\d-]+)`)},
		},
		charges: compileAll(
			`(?i)(Cargo Fijo[^$\n]*?)\$\s*([\d,.]+)`,
			`(?i)(Cargo Variable[^$\n]*?)\$\s*([\d,.]+)`,
			`(?i)(Subsidio[^:\n]*?):\s*\$?\s*(-?[\d,.]+)`,
			`(?i)(Impuesto[^:\n]*?):\s*\$?\s*([\d,.]+)`,
			`(?i)(Cargo[^:\n]*?):\s*\$?\s*([\d,.]+)`,
			`(?i)(Bonificación[^:\n]*?):\s*\$?\s*(-?[\d,.]+)`,
			`(?i)(Cuota Fija[^$\n]*?)\$?\s*([\d,.]+)`,
			`(?m)([\w\s]+?)\s*\$\s*([\d,.]+)$`,
		),
		serviceDetail: compileAll(
			`(?i)(\d{2}/\d{4})\s+(\d+)\s+([A-Z\s]+)\s+(\d+\s*[A-Z]+)\s+\$\s*([\d,.]+)`,
			`(?i)FTTH\s+([^$\n]+?)\s+\$`,
			`(?i)Internet\s+(\d+\s*MB)`,
		),
		installments: regexp.MustCompile(
			`(?i)CUOTA\s+\d+\s+VENCIMIENTO\s+(\d{2}/\d{2}/\d{4})\s+IMPORTE\s+\$\s*([\d,.]+)`),
	}
}

// extractField applies an ordered pattern chain and returns the first
// capture that matches. First match wins, not best match.
func extractField(text string, patterns []*regexp.Regexp) string {
	for _, re := range patterns {
		if m := re.FindStringSubmatch(text); len(m) > 1 {
			return strings.TrimSpace(m[1])
		}
	}
	return ""
}

// Parse extracts every supported field from the bill text. Missing fields
// are left at their zero value and dropped by the omitempty contract.
func (p *Parser) Parse(text string) ParsedBill {
	bill := ParsedBill{
		InvoiceNumber: extractField(text, p.invoiceNumber),
		InvoiceDate:   extractField(text, p.invoiceDate),
		AccountNumber: extractField(text, p.accountNumber),
		CustomerName:  extractField(text, p.customerName),
		DueDate:       extractField(text, p.dueDate),
		ServicePeriod: extractField(text, p.servicePeriod),
		BusinessInfo:  p.extractBusinessInfo(text),
		Charges:       p.ExtractCharges(text),
		Installments:  p.extractInstallments(text),
		Consumption:   p.extractConsumption(text),
	}

	if raw := extractField(text, p.totalAmount); raw != "" {
		if amount, ok := NormalizeAmount(raw); ok {
			bill.TotalAmount = amount
		} else {
			bill.TotalAmount = raw
		}
	}

	if addr := p.ExtractAddress(text); !addr.empty() {
		bill.Address = &addr
	}

	bill.ServiceDetails = p.extractServiceDetails(text)
	return bill
}

func (p *Parser) extractBusinessInfo(text string) map[string]string {
	info := make(map[string]string)
	for _, lp := range p.businessInfo {
		if m := lp.re.FindStringSubmatch(text); len(m) > 1 {
			info[lp.label] = strings.TrimSpace(m[1])
		}
	}
	if len(info) == 0 {
		return nil
	}
	return info
}

// ExtractCharges scans the whole text for repeating "label $ amount" lines
// and maps charge label to normalized amount. Unlike single fields this is a
// scan-all: every pattern contributes every match, later duplicates of a
// label overwrite earlier ones.
func (p *Parser) ExtractCharges(text string) map[string]string {
	charges := make(map[string]string)
	for _, re := range p.charges {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			if len(m) < 3 {
				continue
			}
			label := strings.TrimSpace(m[1])
			if label == "" {
				continue
			}
			amount, ok := NormalizeAmount(m[2])
			if !ok {
				continue
			}
			charges[label] = amount
		}
	}
	if len(charges) == 0 {
		return nil
	}
	return charges
}

func (p *Parser) extractInstallments(text string) []Installment {
	var out []Installment
	for _, m := range p.installments.FindAllStringSubmatch(text, -1) {
		amount, ok := NormalizeAmount(m[2])
		if !ok {
			continue
		}
		out = append(out, Installment{DueDate: m[1], Amount: amount})
	}
	return out
}

func (p *Parser) extractServiceDetails(text string) []ServiceDetail {
	var out []ServiceDetail
	for _, re := range p.serviceDetail {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			switch {
			case len(m) > 2:
				out = append(out, ServiceDetail{
					Service:     strings.TrimSpace(m[1]),
					Description: strings.TrimSpace(strings.Join(m[2:], " ")),
				})
			case len(m) == 2:
				out = append(out, ServiceDetail{Description: strings.TrimSpace(m[1])})
			}
		}
	}
	return out
}
