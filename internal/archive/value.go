package archive

import (
	"strings"

	"github.com/shopspring/decimal"
)

// ValueKind tags how a raw result token was interpreted.
type ValueKind string

const (
	KindNumeric             ValueKind = "numeric"
	KindBelowDetectionLimit ValueKind = "below_detection_limit"
	KindUnparsed            ValueKind = "unparsed"
)

// Value is a result decided at parse time. Raw is always the token as received
// and is what sinks write back out, so sentinels such as "<1" survive.
type Value struct {
	Kind   ValueKind       `json:"kind"`
	Number decimal.Decimal `json:"number"`
	Raw    string          `json:"raw"`
}

// ParseValue classifies a raw result token.
// "<x" with a numeric x is a detection-limit marker with threshold x.
func ParseValue(raw string) Value {
	s := strings.TrimSpace(raw)
	if rest, ok := strings.CutPrefix(s, "<"); ok {
		if d, err := decimal.NewFromString(strings.TrimSpace(rest)); err == nil {
			return Value{Kind: KindBelowDetectionLimit, Number: d, Raw: raw}
		}
		return Value{Kind: KindUnparsed, Raw: raw}
	}
	if d, err := decimal.NewFromString(s); err == nil {
		return Value{Kind: KindNumeric, Number: d, Raw: raw}
	}
	return Value{Kind: KindUnparsed, Raw: raw}
}

// IsNumeric reports whether the value carries an exact measurement.
func (v Value) IsNumeric() bool {
	return v.Kind == KindNumeric
}

// Float returns the numeric part and whether there is one.
// Detection-limit markers report their threshold.
func (v Value) Float() (float64, bool) {
	if v.Kind == KindUnparsed {
		return 0, false
	}
	f, _ := v.Number.Float64()
	return f, true
}

func (v Value) String() string {
	return v.Raw
}
