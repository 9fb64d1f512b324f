package classify

import (
	"regexp"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Address is the normalised property address lifted from a certificate.
type Address struct {
	Line1    string `json:"addressLine1,omitempty"`
	City     string `json:"city,omitempty"`
	Postcode string `json:"postcode,omitempty"`
}

const maxAddressLine = 255

var postcodeRe = regexp.MustCompile(`(?i)[A-Z]{1,2}\d{1,2}[A-Z]?\s*\d[A-Z]{2}`)

// Plausible reports whether the address is complete enough to overwrite the
// property's stored address fields.
func (a Address) Plausible() bool {
	return len(a.Line1) > 5 &&
		!strings.EqualFold(a.City, "To Be Verified") &&
		!strings.EqualFold(a.Postcode, "UNKNOWN")
}

// NormaliseAddress accepts the address value in any of the shapes the tiers
// emit: a plain string, or an object with one of several line-1 aliases.
// Line 1 is truncated at 255 characters; the postcode is pulled out with the
// UK pattern and uppercased.
func NormaliseAddress(v any) Address {
	var addr Address
	switch val := v.(type) {
	case string:
		addr.Line1 = cleanLine(val)
	case map[string]any:
		addr.Line1 = cleanLine(str(val,
			"street", "streetAddress", "addressLine1", "address_line_1",
			"name", "fullAddress", "property", "line1", "address1"))
		addr.City = cleanLine(str(val, "city", "town", "locality"))
		addr.Postcode = strings.ToUpper(cleanLine(str(val, "postcode", "postCode", "postalCode", "zip")))
	default:
		return addr
	}

	if addr.Postcode == "" {
		if pc := postcodeRe.FindString(addr.Line1); pc != "" {
			addr.Postcode = strings.ToUpper(strings.TrimSpace(pc))
		}
	}
	if len(addr.Line1) > maxAddressLine {
		addr.Line1 = addr.Line1[:maxAddressLine]
	}
	return addr
}

func cleanLine(s string) string {
	s = norm.NFC.String(s)
	return strings.Join(strings.Fields(s), " ")
}
