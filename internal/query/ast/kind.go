package ast

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Kind is the value type of a node.
type Kind int

const (
	KindUnknown Kind = iota
	KindNull
	KindBool
	KindInt
	KindFloat
	KindDecimal
	KindString
	KindDateTime
	KindDateTimeOffset
	KindDate
	KindTime
	KindGUID
	KindEnum
	KindList
)

var kindNames = [...]string{
	KindUnknown:        "unknown",
	KindNull:           "null",
	KindBool:           "bool",
	KindInt:            "int",
	KindFloat:          "float",
	KindDecimal:        "decimal",
	KindString:         "string",
	KindDateTime:       "datetime",
	KindDateTimeOffset: "datetimeoffset",
	KindDate:           "date",
	KindTime:           "time",
	KindGUID:           "guid",
	KindEnum:           "enum",
	KindList:           "list",
}

func (k Kind) String() string {
	if int(k) >= 0 && int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("kind(%d)", int(k))
}

// IsNumeric reports whether arithmetic and numeric functions apply.
func (k Kind) IsNumeric() bool {
	return k == KindInt || k == KindFloat || k == KindDecimal
}

// IsTemporal reports whether the kind is one of the date/time kinds.
func (k Kind) IsTemporal() bool {
	return k == KindDateTime || k == KindDateTimeOffset || k == KindDate || k == KindTime
}

// Integral reports whether n statically yields an integer. known is false
// when the answer depends on the runtime value, as with untyped members.
// Division truncates only when both operands are integral.
func Integral(n Node) (integral, known bool) {
	switch x := n.(type) {
	case nil:
		return false, false
	case *BinaryOp:
		if !x.Op.IsArithmetic() {
			return false, true
		}
		li, lk := Integral(x.Left)
		ri, rk := Integral(x.Right)
		switch {
		case lk && !li, rk && !ri:
			return false, true
		case lk && rk:
			return true, true
		}
		return false, false
	case *UnaryOp:
		if x.Op == OpNegate {
			return Integral(x.Operand)
		}
		return false, true
	}
	switch n.Type() {
	case KindInt:
		return true, true
	case KindUnknown:
		return false, false
	}
	return false, true
}

// EdmName returns the canonical wire type name used in cast() expressions.
// DateTime values are sent as UTC offsets, so both timestamp kinds share a name.
func (k Kind) EdmName() (string, bool) {
	switch k {
	case KindDateTime, KindDateTimeOffset:
		return "Edm.DateTimeOffset", true
	case KindDate:
		return "Edm.Date", true
	case KindTime:
		return "Edm.TimeOfDay", true
	case KindGUID:
		return "Edm.Guid", true
	case KindString:
		return "Edm.String", true
	case KindInt:
		return "Edm.Int64", true
	case KindFloat:
		return "Edm.Double", true
	case KindDecimal:
		return "Edm.Decimal", true
	case KindBool:
		return "Edm.Boolean", true
	}
	return "", false
}

// KindFromEdm is the inverse of EdmName.
func KindFromEdm(name string) (Kind, bool) {
	switch name {
	case "Edm.DateTimeOffset":
		return KindDateTimeOffset, true
	case "Edm.Date":
		return KindDate, true
	case "Edm.TimeOfDay":
		return KindTime, true
	case "Edm.Guid":
		return KindGUID, true
	case "Edm.String":
		return KindString, true
	case "Edm.Int32", "Edm.Int64":
		return KindInt, true
	case "Edm.Double", "Edm.Single":
		return KindFloat, true
	case "Edm.Decimal":
		return KindDecimal, true
	case "Edm.Boolean":
		return KindBool, true
	}
	return KindUnknown, false
}

// Date is a calendar date without a time of day.
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the date portion of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

func (d Date) String() string {
	return fmt.Sprintf("%04d-%02d-%02d", d.Year, int(d.Month), d.Day)
}

// ParseDate parses a yyyy-mm-dd literal.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return Date{}, err
	}
	return DateOf(t), nil
}

// TimeOfDay is a wall clock time without a date.
type TimeOfDay struct {
	Hour, Minute, Second int
	Nanosecond           int
}

// TimeOfDayOf returns the clock portion of t.
func TimeOfDayOf(t time.Time) TimeOfDay {
	return TimeOfDay{Hour: t.Hour(), Minute: t.Minute(), Second: t.Second(), Nanosecond: t.Nanosecond()}
}

func (t TimeOfDay) String() string {
	s := fmt.Sprintf("%02d:%02d:%02d", t.Hour, t.Minute, t.Second)
	if ms := t.Nanosecond / int(time.Millisecond); ms > 0 {
		s += fmt.Sprintf(".%03d", ms)
	}
	return s
}

// ParseTimeOfDay parses hh:mm:ss with optional fractional seconds.
func ParseTimeOfDay(s string) (TimeOfDay, error) {
	t, err := time.Parse("15:04:05.999999999", s)
	if err != nil {
		return TimeOfDay{}, err
	}
	return TimeOfDayOf(t), nil
}

// StringComparison selects how string methods compare their operands.
type StringComparison int

const (
	CurrentCulture StringComparison = iota
	CurrentCultureIgnoreCase
	InvariantCulture
	InvariantCultureIgnoreCase
	Ordinal
	OrdinalIgnoreCase
)

var comparisonNames = [...]string{
	"CurrentCulture", "CurrentCultureIgnoreCase", "InvariantCulture",
	"InvariantCultureIgnoreCase", "Ordinal", "OrdinalIgnoreCase",
}

func (c StringComparison) String() string {
	if int(c) >= 0 && int(c) < len(comparisonNames) {
		return comparisonNames[c]
	}
	return fmt.Sprintf("StringComparison(%d)", int(c))
}

// KindOf infers the kind of a Go value. Enumerations are never inferred; use
// EnumConst.
func KindOf(v any) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return KindInt
	case float32, float64:
		return KindFloat
	case decimal.Decimal:
		return KindDecimal
	case string:
		return KindString
	case time.Time:
		return KindDateTimeOffset
	case Date:
		return KindDate
	case TimeOfDay:
		return KindTime
	case uuid.UUID:
		return KindGUID
	case []any, []string, []int, []int64, []float64:
		return KindList
	}
	return KindUnknown
}
