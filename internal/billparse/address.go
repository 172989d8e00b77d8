// internal/billparse/address.go
package billparse

import (
	"regexp"
	"strings"
)

// Address is the best-effort decomposition of the supply address. Partial
// results are expected: whatever the text yields is filled, the rest stays
// empty.
type Address struct {
	Street     string `json:"street,omitempty"`
	Number     string `json:"number,omitempty"`
	Floor      string `json:"floor,omitempty"`
	Apartment  string `json:"apartment,omitempty"`
	City       string `json:"city,omitempty"`
	Province   string `json:"province,omitempty"`
	PostalCode string `json:"postal_code,omitempty"`
}

func (a Address) empty() bool {
	return a == Address{}
}

var (
	addressPatterns = compileAll(
		`(?im)Domicilio:\s*([^\n]+)`,
		`(?im)DOMICILIO POSTAL\s*(?:Calle)?\s*([^\n]+)`,
		`(?im)Domicilio suministro:\s*(?:CL\s+)?(.*?)\d{4}`,
		`(?im)(?:CL|Calle)\s+(.*?)\d{4}`,
		`(?im)Dirección de suministro:\s*([^\n]+)`,
	)
	postalCodePatterns = compileAll(
		`(?im)(?:CL|Domicilio)[^\n]*?(\d{4})\s+[A-ZÁÉÍÓÚÑ\s]+`,
		`(?im)C\.P\.:\s*(\d{4})`,
		`(?im)CP:\s*(\d{4})`,
	)
	locationPatterns = compileAll(
		`(?im)(?:CL|Domicilio)[^\n]*?\d{4}\s+([A-Z\s]*(?:SAN RAFAEL|MENDOZA|BUENOS AIRES)[A-Z\s]*)`,
		`(?im)Localidad:\s*([A-ZÁÉÍÓÚÑ\s]+)`,
		`(?im)Loc\.:\s*([A-ZÁÉÍÓÚÑ\s]+)`,
	)
	apartmentPattern = regexp.MustCompile(`Dpto:(\d{2}-\d{2})`)

	// Known localities of the served area; anything else is passed through
	// city with no province inference.
	knownCities    = []string{"SAN RAFAEL", "MALARGUE", "MENDOZA", "BUENOS AIRES"}
	mendozaCities  = map[string]bool{"SAN RAFAEL": true, "MALARGUE": true}
)

// ExtractAddress decomposes the supply address using the same ordered
// first-match technique as the scalar fields.
func (p *Parser) ExtractAddress(text string) Address {
	var addr Address

	if streetLine := extractField(text, addressPatterns); streetLine != "" {
		parts := strings.Fields(streetLine)
		if len(parts) > 1 {
			addr.Street = strings.Join(parts[:len(parts)-1], " ")
			addr.Number = parts[len(parts)-1]
		} else {
			addr.Street = streetLine
		}
	}

	addr.PostalCode = extractField(text, postalCodePatterns)

	if location := extractField(text, locationPatterns); location != "" {
		for _, city := range knownCities {
			if strings.Contains(location, city) {
				addr.City = city
				break
			}
		}
		if addr.City != "" {
			if mendozaCities[addr.City] {
				addr.Province = "MENDOZA"
			} else {
				addr.Province = addr.City
			}
		}
	}

	if m := apartmentPattern.FindStringSubmatch(text); len(m) > 1 {
		addr.Apartment = m[1]
	}

	return addr
}
