package validation

import (
	"net/mail"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

type Violations map[string]string

func (v Violations) Empty() bool { return len(v) == 0 }

// Fields returns the violated keys in stable order.
func (v Violations) Fields() []string {
	keys := make([]string, 0, len(v))
	for k := range v {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Add records a violation unless the field already has one.
func (v Violations) Add(field, reason string) {
	if _, ok := v[field]; !ok {
		v[field] = reason
	}
}

// Basic validators
func Required(field, value string, v Violations) {
	if strings.TrimSpace(value) == "" {
		v.Add(field, "required")
	}
}

func Email(field, value string, v Violations) {
	value = strings.TrimSpace(value)
	if value == "" {
		v.Add(field, "required")
		return
	}
	addr, err := mail.ParseAddress(value)
	if err != nil || addr.Address != value {
		v.Add(field, "invalid_email")
	}
}

func PositiveInt(field string, val int, v Violations) {
	if val <= 0 {
		v.Add(field, "must_be_positive")
	}
}

func NonNegativeFloat(field string, val float64, v Violations) {
	if val < 0 {
		v.Add(field, "must_not_be_negative")
	}
}

func RangeInt(field string, val, minVal, maxVal int, v Violations) {
	if val < minVal || val > maxVal {
		v.Add(field, "out_of_range")
	}
}

func OneOf(field, value string, allowed []string, v Violations) {
	for _, a := range allowed {
		if value == a {
			return
		}
	}
	v.Add(field, "invalid_choice")
}

var isoDate = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)

// ISODate accepts YYYY-MM-DD or a full RFC 3339 timestamp.
func ISODate(field, value string, v Violations) {
	value = strings.TrimSpace(value)
	if isoDate.MatchString(value) {
		if _, err := time.Parse("2006-01-02", value); err == nil {
			return
		}
	} else if _, err := time.Parse(time.RFC3339, value); err == nil {
		return
	}
	v.Add(field, "invalid_date")
}

func Bool(field, value string, v Violations) {
	if _, err := strconv.ParseBool(strings.TrimSpace(value)); err != nil {
		v.Add(field, "invalid_boolean")
	}
}
