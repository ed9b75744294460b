package pipeline

import (
	"bytes"
	"net/url"
	"regexp"
	"strings"

	"github.com/JakeFAU/dealer-gatherer/internal/product"
)

// Query keys that carry a listing identifier, checked in order.
var identifierKeys = []string{
	"vin", "listingid", "listing_id", "vehicleid", "vehicle_id", "inventoryid", "inventory_id", "carid", "vid", "id",
}

var (
	digitRunPattern = regexp.MustCompile(`\d{6,}`)
	hashPattern     = regexp.MustCompile(`^[0-9a-fA-F]{12,}$`)
	uuidPattern     = regexp.MustCompile(`^[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}$`)
	tokenSeparators = func(r rune) bool { return r == '-' || r == '_' || r == '.' || r == '+' }
)

const minQueryIdentifier = 4

// Identify extracts the listing identifier from pageURL. The identifier must also appear
// in body, otherwise the URL is not a listing page.
func Identify(pageURL string, body []byte) (string, error) {
	id := identifierFromURL(pageURL)
	if id == "" {
		return "", ErrNoIdentifier
	}
	if !bytes.Contains(bytes.ToLower(body), []byte(strings.ToLower(id))) {
		return "", ErrIdentifierNotInBody
	}
	return id, nil
}

func identifierFromURL(pageURL string) string {
	u, err := url.Parse(pageURL)
	if err != nil {
		return ""
	}
	query := u.Query()
	for _, key := range identifierKeys {
		for k, values := range query {
			if !strings.EqualFold(k, key) || len(values) == 0 {
				continue
			}
			if v := strings.TrimSpace(values[0]); len(v) >= minQueryIdentifier {
				return v
			}
		}
	}

	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if id := identifierInSegment(segments[i]); id != "" {
			return id
		}
	}
	return ""
}

func identifierInSegment(segment string) string {
	if uuidPattern.MatchString(segment) {
		return segment
	}
	tokens := strings.FieldsFunc(segment, tokenSeparators)
	for i := len(tokens) - 1; i >= 0; i-- {
		if product.LooksLikeVIN(tokens[i]) {
			return strings.ToUpper(tokens[i])
		}
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		if run := digitRunPattern.FindString(tokens[i]); run != "" {
			return run
		}
	}
	for i := len(tokens) - 1; i >= 0; i-- {
		if looksLikeHash(tokens[i]) {
			return tokens[i]
		}
	}
	return ""
}

func looksLikeHash(token string) bool {
	if !hashPattern.MatchString(token) {
		return false
	}
	return strings.ContainsAny(token, "0123456789") && strings.ContainsAny(strings.ToLower(token), "abcdef")
}
