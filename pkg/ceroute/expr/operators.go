package expr

import (
	"fmt"
	"regexp"
	"strings"
	"sync"
)

// Compare compares two values using the specified operator.
// Returns an error for unknown operators.
func Compare(left, right any, op string) (bool, error) {
	switch op {
	case "==":
		return compareEquals(left, right), nil
	case "!=":
		return compareNotEquals(left, right), nil
	case "<":
		return compareLT(left, right), nil
	case ">":
		return compareGT(left, right), nil
	case "<=":
		return compareLTE(left, right), nil
	case ">=":
		return compareGTE(left, right), nil
	case "contains":
		return compareContains(left, right), nil
	case "startswith":
		return compareStartsWith(left, right), nil
	case "endswith":
		return compareEndsWith(left, right), nil
	case "matches":
		return compareMatches(left, right), nil
	default:
		return false, fmt.Errorf("unknown operator: %s", op)
	}
}

// compareEquals compares if left equals right using string comparison.
func compareEquals(left, right any) bool {
	return fmt.Sprint(left) == fmt.Sprint(right)
}

// compareNotEquals compares if left does not equal right using string comparison.
func compareNotEquals(left, right any) bool {
	return fmt.Sprint(left) != fmt.Sprint(right)
}

func compareLT(left, right any) bool {
	return ToFloat64(left) < ToFloat64(right)
}

func compareGT(left, right any) bool {
	return ToFloat64(left) > ToFloat64(right)
}

func compareLTE(left, right any) bool {
	return ToFloat64(left) <= ToFloat64(right)
}

func compareGTE(left, right any) bool {
	return ToFloat64(left) >= ToFloat64(right)
}

// compareContains checks if left contains right as a substring.
func compareContains(left, right any) bool {
	return strings.Contains(fmt.Sprint(left), fmt.Sprint(right))
}

// compareStartsWith matches hierarchical attributes such as CloudEvents
// types ("com.example.order.") or sources ("/orders/").
func compareStartsWith(left, right any) bool {
	return strings.HasPrefix(fmt.Sprint(left), fmt.Sprint(right))
}

func compareEndsWith(left, right any) bool {
	return strings.HasSuffix(fmt.Sprint(left), fmt.Sprint(right))
}

// compareMatches reports whether left matches the regular expression right.
// Invalid patterns never match; Check reports them at load time. Only
// patterns written as literals in a rule are cached, so values taken from
// events cannot grow the cache.
func compareMatches(left, right any) bool {
	p := fmt.Sprint(right)
	re, ok := cachedPattern(p)
	if !ok {
		var err error
		if re, err = regexp.Compile(p); err != nil {
			return false
		}
	}
	return re.MatchString(fmt.Sprint(left))
}

var patterns sync.Map // rule literal -> *regexp.Regexp

func cachedPattern(p string) (*regexp.Regexp, bool) {
	re, ok := patterns.Load(p)
	if !ok {
		return nil, false
	}
	return re.(*regexp.Regexp), true
}

// compileLiteral compiles a pattern written in a rule and caches it.
func compileLiteral(p string) (*regexp.Regexp, error) {
	if re, ok := cachedPattern(p); ok {
		return re, nil
	}
	re, err := regexp.Compile(p)
	if err != nil {
		return nil, err
	}
	patterns.Store(p, re)
	return re, nil
}
