// Package validate checks user-entered values and whole records before they
// are encrypted. Messages are the Spanish texts shown to staff.
package validate

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"
)

// Result is the outcome of one check. Message is empty when Valid.
type Result struct {
	Valid   bool   `json:"valid"`
	Message string `json:"message,omitempty"`
}

func ok() Result { return Result{Valid: true} }

func fail(format string, args ...any) Result {
	return Result{Message: fmt.Sprintf(format, args...)}
}

type pattern struct {
	re      *regexp.Regexp
	message string
}

// Kinds accepted by Check.
const (
	KindCURP  = "curp"
	KindRFC   = "rfc"
	KindPhone = "phone"
	KindEmail = "email"
)

var patterns = map[string]pattern{
	KindCURP: {
		re:      regexp.MustCompile(`^[A-Z]{4}\d{6}[HM][A-Z]{5}[A-Z0-9]\d$`),
		message: "CURP inválida. Formato: AAAA######HAAAAA#0",
	},
	KindRFC: {
		re:      regexp.MustCompile(`^[A-Z&Ñ]{3,4}\d{6}[A-Z0-9]{3}$`),
		message: "RFC inválido. Formato: AAA######ABC",
	},
	KindPhone: {
		re:      regexp.MustCompile(`^\d{10}$`),
		message: "Teléfono inválido. Formato: ##########",
	},
	KindEmail: {
		re:      regexp.MustCompile(`^[^\s@]+@[^\s@]+\.[^\s@]+$`),
		message: "Email inválido",
	},
}

// Check validates value against one of the named formats.
func Check(kind, value string) (Result, error) {
	p, found := patterns[kind]
	if !found {
		return Result{}, fmt.Errorf("unknown validation kind %q", kind)
	}
	if !p.re.MatchString(value) {
		return Result{Message: p.message}, nil
	}
	return ok(), nil
}

// Kinds lists the formats Check understands.
func Kinds() []string {
	return []string{KindCURP, KindRFC, KindPhone, KindEmail}
}

func CURP(value string) Result  { r, _ := Check(KindCURP, value); return r }
func RFC(value string) Result   { r, _ := Check(KindRFC, value); return r }
func Phone(value string) Result { r, _ := Check(KindPhone, value); return r }
func Email(value string) Result { r, _ := Check(KindEmail, value); return r }

// IsEmail reports whether value looks like an email address.
func IsEmail(value string) bool {
	return patterns[KindEmail].re.MatchString(value)
}

// Required fails for nil and the empty string.
func Required(value any) Result {
	if value == nil {
		return fail("Este campo es requerido")
	}
	if s, isString := value.(string); isString && s == "" {
		return fail("Este campo es requerido")
	}
	return ok()
}

// MinLength counts characters, not bytes.
func MinLength(value string, min int) Result {
	if value == "" || utf8.RuneCountInString(value) < min {
		return fail("Mínimo %d caracteres", min)
	}
	return ok()
}

func MaxLength(value string, max int) Result {
	if value == "" || utf8.RuneCountInString(value) > max {
		return fail("Máximo %d caracteres", max)
	}
	return ok()
}

var dateLayouts = []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"}

// ParseDate accepts ISO dates with or without a time part.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, value); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func Date(value string) Result {
	if _, valid := ParseDate(value); !valid {
		return fail("Fecha inválida")
	}
	return ok()
}

// DateRange checks value lies within [min, max]. Zero bounds are open.
func DateRange(value string, min, max time.Time) Result {
	d, valid := ParseDate(value)
	if !valid {
		return fail("Fecha inválida")
	}
	if !min.IsZero() && d.Before(min) {
		return fail("La fecha debe ser posterior a %s", localDate(min))
	}
	if !max.IsZero() && d.After(max) {
		return fail("La fecha debe ser anterior a %s", localDate(max))
	}
	return ok()
}

// localDate renders t the way es-MX short dates read: d/m/yyyy.
func localDate(t time.Time) string {
	return fmt.Sprintf("%d/%d/%d", t.Day(), int(t.Month()), t.Year())
}

// ToNumber converts JSON numbers and numeric strings.
func ToNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		return v, true
	case float32:
		return float64(v), true
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		return f, err == nil
	}
	return 0, false
}

func Number(value any) Result {
	if _, valid := ToNumber(value); !valid {
		return fail("Debe ser un número válido")
	}
	return ok()
}

// NumberRange checks min <= value <= max. Nil bounds are open.
func NumberRange(value any, min, max *float64) Result {
	n, valid := ToNumber(value)
	if !valid {
		return fail("Debe ser un número válido")
	}
	if min != nil && n < *min {
		return fail("El valor debe ser mayor o igual a %s", formatNumber(*min))
	}
	if max != nil && n > *max {
		return fail("El valor debe ser menor o igual a %s", formatNumber(*max))
	}
	return ok()
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// Rule is one check in a form rule list.
type Rule func(value any) Result

// Form runs each field's rules in order and records the first failure per
// field.
func Form(data map[string]any, rules map[string][]Rule) (bool, map[string]string) {
	errs := make(map[string]string)
	for field, fieldRules := range rules {
		value := data[field]
		for _, rule := range fieldRules {
			if r := rule(value); !r.Valid {
				errs[field] = r.Message
				break
			}
		}
	}
	return len(errs) == 0, errs
}

// Pattern adapts a named format check to a Rule. Absent values pass; pair it
// with RequiredRule when the field is mandatory.
func Pattern(kind string) Rule {
	return func(value any) Result {
		if value == nil {
			return ok()
		}
		s, isString := value.(string)
		if !isString {
			r, _ := Check(kind, fmt.Sprint(value))
			return r
		}
		if s == "" {
			return ok()
		}
		r, err := Check(kind, s)
		if err != nil {
			return fail("%v", err)
		}
		return r
	}
}

// RequiredRule is Required as a Rule.
func RequiredRule() Rule { return Required }
