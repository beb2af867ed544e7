package query

import (
	"fmt"
	"math"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/Guizzs26/go-datasync/internal/query/ast"
)

// TimestampLayout is the wire form of timestamp literals.
const TimestampLayout = "2006-01-02T15:04:05.000Z"

// FormatLiteral renders a constant in the filter grammar.
func FormatLiteral(c *ast.Constant) (string, error) {
	switch c.Kind {
	case ast.KindNull:
		return "null", nil
	case ast.KindList:
		items, _ := c.Value.([]any)
		parts := make([]string, 0, len(items))
		for _, it := range items {
			s, err := formatValue(it, elementKind(it))
			if err != nil {
				return "", err
			}
			parts = append(parts, s)
		}
		return "(" + strings.Join(parts, ",") + ")", nil
	case ast.KindEnum:
		switch v := c.Value.(type) {
		case fmt.Stringer:
			return quote(v.String()), nil
		case string:
			return quote(v), nil
		}
		return "", compileErr(UnsupportedConstant, ast.Describe(c), "enumeration value %T has no name", c.Value)
	}
	return formatValue(c.Value, c.Kind)
}

func elementKind(v any) ast.Kind {
	k := ast.KindOf(v)
	if k == ast.KindUnknown {
		if _, ok := v.(fmt.Stringer); ok {
			return ast.KindEnum
		}
	}
	return k
}

func formatValue(v any, kind ast.Kind) (string, error) {
	if i, ok := ast.AsInt64(v); ok {
		switch kind {
		case ast.KindFloat:
			return formatFloat(float64(i))
		case ast.KindDecimal:
			return decimal.NewFromInt(i).String() + "M", nil
		}
		return strconv.FormatInt(i, 10), nil
	}
	switch x := v.(type) {
	case nil:
		return "null", nil
	case bool:
		return strconv.FormatBool(x), nil
	case float64:
		if kind == ast.KindDecimal {
			d, ok := toDecimal(x)
			if !ok {
				return "", compileErr(UnsupportedConstant, fmt.Sprint(x), "non-finite number")
			}
			return d.String() + "M", nil
		}
		return formatFloat(x)
	case float32:
		if kind == ast.KindDecimal {
			return decimal.NewFromFloat32(x).String() + "M", nil
		}
		return formatFloat(float64(x))
	case decimal.Decimal:
		if kind == ast.KindFloat {
			return formatFloat(x.InexactFloat64())
		}
		return x.String() + "M", nil
	case string:
		if kind == ast.KindGUID {
			return cast(x, ast.KindGUID), nil
		}
		return quote(x), nil
	case time.Time:
		switch kind {
		case ast.KindDate:
			return cast(ast.DateOf(x).String(), kind), nil
		case ast.KindTime:
			return cast(ast.TimeOfDayOf(x).String(), kind), nil
		}
		return cast(x.UTC().Format(TimestampLayout), ast.KindDateTimeOffset), nil
	case ast.Date:
		return cast(x.String(), ast.KindDate), nil
	case ast.TimeOfDay:
		return cast(x.String(), ast.KindTime), nil
	case uuid.UUID:
		return cast(x.String(), ast.KindGUID), nil
	case ast.StringComparison:
		return "", compileErr(UnsupportedConstant, x.String(), "string comparison outside a string method")
	case fmt.Stringer:
		return quote(x.String()), nil
	}
	return "", compileErr(UnsupportedConstant, fmt.Sprintf("%v", v), "value of type %T", v)
}

// formatFloat renders f so that it always carries a decimal point.
func formatFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", compileErr(UnsupportedConstant, fmt.Sprint(f), "non-finite number")
	}
	abs := math.Abs(f)
	var s string
	if abs == 0 || (abs >= 1e-6 && abs < 1e21) {
		s = strconv.FormatFloat(f, 'f', -1, 64)
	} else {
		s = strconv.FormatFloat(f, 'e', -1, 64)
	}
	if i := strings.IndexByte(s, 'e'); i >= 0 {
		if !strings.Contains(s[:i], ".") {
			s = s[:i] + ".0" + s[i:]
		}
		return s, nil
	}
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s, nil
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}

func cast(lit string, kind ast.Kind) string {
	name, _ := kind.EdmName()
	return "cast(" + lit + "," + name + ")"
}

// Escape percent-encodes s, keeping only the RFC 3986 unreserved characters.
func Escape(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}
