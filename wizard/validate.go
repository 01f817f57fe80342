package wizard

import (
	"fmt"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Form field ids shared by the initial and preview forms.
const (
	FieldClient       = "client_name"
	FieldCompensation = "compensation"
	FieldDescription  = "description"
	FieldTags         = "tags"
	FieldRoles        = "required_roles"
)

const (
	maxClientLen       = 100
	maxCompensationLen = 50
	maxDescriptionLen  = 2000
	maxTagsLen         = 300
	maxRolesLen        = 500
	maxTags            = 15
)

var (
	// Commas group thousands and a dot starts the fraction: "1,500.50$".
	amountPattern   = regexp.MustCompile(`\d{1,3}(?:,\d{3})+(?:\.\d+)?|\d+(?:\.\d+)?`)
	maxCompensation = decimal.NewFromInt(1_000_000)
)

func requireText(field, label, value string, max int) (string, error) {
	v := strings.TrimSpace(value)
	if v == "" {
		return "", &ValidationError{Field: field, Reason: label + " is required"}
	}
	if utf8.RuneCountInString(v) > max {
		return "", &ValidationError{Field: field, Reason: fmt.Sprintf("%s must be at most %d characters", label, max)}
	}
	return v, nil
}

// validateCompensation requires a positive amount no larger than one
// million somewhere in the text; currency notation is kept as typed.
func validateCompensation(value string) (string, error) {
	v, err := requireText(FieldCompensation, "compensation", value, maxCompensationLen)
	if err != nil {
		return "", err
	}
	raw := amountPattern.FindString(v)
	if raw == "" {
		return "", &ValidationError{Field: FieldCompensation, Reason: "compensation must contain an amount"}
	}
	amount, err := decimal.NewFromString(strings.ReplaceAll(raw, ",", ""))
	if err != nil {
		return "", &ValidationError{Field: FieldCompensation, Reason: "compensation amount is not a number"}
	}
	if !amount.IsPositive() || amount.GreaterThan(maxCompensation) {
		return "", &ValidationError{Field: FieldCompensation, Reason: "compensation must be between 0 and " + maxCompensation.String()}
	}
	return v, nil
}

// validateCore checks the three text fields every order needs.
func validateCore(values map[string]string) (Draft, error) {
	var d Draft
	var err error
	if d.ClientName, err = requireText(FieldClient, "client name", values[FieldClient], maxClientLen); err != nil {
		return Draft{}, err
	}
	if d.Compensation, err = validateCompensation(values[FieldCompensation]); err != nil {
		return Draft{}, err
	}
	if d.Description, err = requireText(FieldDescription, "description", values[FieldDescription], maxDescriptionLen); err != nil {
		return Draft{}, err
	}
	return d, nil
}

// splitList parses comma or newline separated labels, dropping blanks and
// case-insensitive duplicates.
func splitList(field, value string, maxLen, maxItems int) ([]string, error) {
	if utf8.RuneCountInString(value) > maxLen {
		return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("must be at most %d characters", maxLen)}
	}
	seen := make(map[string]bool)
	var out []string
	for _, part := range strings.FieldsFunc(value, func(r rune) bool { return r == ',' || r == '\n' }) {
		p := strings.TrimSpace(part)
		key := strings.ToLower(p)
		if p == "" || seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, p)
	}
	if maxItems > 0 && len(out) > maxItems {
		return nil, &ValidationError{Field: field, Reason: fmt.Sprintf("at most %d entries", maxItems)}
	}
	return out, nil
}
