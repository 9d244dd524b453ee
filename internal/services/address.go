package services

import (
	"encoding/json"
	"errors"
	"regexp"
	"strings"
)

// Recipient is the canonical internal form of one delivery destination.
// The checkout payload may carry a plain address string, a single
// recipient object, or an array of recipients for split delivery; all are
// normalized into this shape at the boundary before any business logic
// runs.
type Recipient struct {
	Name    string `json:"name"`
	Phone   string `json:"phone"`
	Address string `json:"address"`
	Pincode string `json:"pincode"`
}

var pincodePattern = regexp.MustCompile(`\b(\d{6})\b`)

// ErrEmptyAddress is returned when no usable address is present.
var ErrEmptyAddress = errors.New("shipping address is empty")

// ParseShippingAddress normalizes the raw shipping-address payload into a
// list of recipients.
func ParseShippingAddress(raw json.RawMessage) ([]Recipient, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, ErrEmptyAddress
	}

	// Plain string: freeform address, pincode extracted from the text.
	var freeform string
	if err := json.Unmarshal(raw, &freeform); err == nil {
		freeform = strings.TrimSpace(freeform)
		if freeform == "" {
			return nil, ErrEmptyAddress
		}
		return []Recipient{{
			Address: freeform,
			Pincode: extractPincode(freeform),
		}}, nil
	}

	// Array of recipient objects.
	var many []Recipient
	if err := json.Unmarshal(raw, &many); err == nil {
		result := make([]Recipient, 0, len(many))
		for _, r := range many {
			if normalized, ok := normalizeRecipient(r); ok {
				result = append(result, normalized)
			}
		}
		if len(result) == 0 {
			return nil, ErrEmptyAddress
		}
		return result, nil
	}

	// Single recipient object.
	var one Recipient
	if err := json.Unmarshal(raw, &one); err == nil {
		if normalized, ok := normalizeRecipient(one); ok {
			return []Recipient{normalized}, nil
		}
		return nil, ErrEmptyAddress
	}

	return nil, errors.New("unrecognized shipping address shape")
}

func normalizeRecipient(r Recipient) (Recipient, bool) {
	r.Address = strings.TrimSpace(r.Address)
	r.Pincode = strings.TrimSpace(r.Pincode)
	if r.Address == "" && r.Pincode == "" {
		return Recipient{}, false
	}
	if r.Pincode == "" {
		r.Pincode = extractPincode(r.Address)
	}
	return r, true
}

func extractPincode(text string) string {
	match := pincodePattern.FindString(text)
	return match
}
