package types

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/mangle/ast"
)

// =============================================================================
// MANGLE FACT TYPES
// =============================================================================

// MangleAtom represents a Mangle name constant (starting with /).
// This explicit type avoids ambiguity between strings and atoms.
type MangleAtom string

// Fact represents a single logical fact (atom) asserted to the policy kernel.
type Fact struct {
	Predicate string
	Args      []interface{}
}

func isValidMangleNameConstant(v string) bool {
	if !strings.HasPrefix(v, "/") {
		return false
	}
	// Whitespace is never valid in Mangle name constants
	if strings.ContainsAny(v, " \t\n\r") {
		return false
	}
	// Name constants stay short like /true or /compare. More than 2 path
	// segments means it is an ordinary string that happens to start with /.
	if strings.Count(v, "/") > 2 {
		return false
	}
	_, err := ast.Name(v)
	return err == nil
}

// String returns the Datalog string representation of the fact.
func (f Fact) String() string {
	var args []string
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case MangleAtom:
			args = append(args, string(v))
		case string:
			if isValidMangleNameConstant(v) {
				args = append(args, v)
			} else {
				args = append(args, fmt.Sprintf("%q", v))
			}
		case int:
			args = append(args, fmt.Sprintf("%d", v))
		case int64:
			args = append(args, fmt.Sprintf("%d", v))
		case float64:
			args = append(args, fmt.Sprintf("%f", v))
		case bool:
			if v {
				args = append(args, "/true")
			} else {
				args = append(args, "/false")
			}
		default:
			args = append(args, fmt.Sprintf("%v", v))
		}
	}
	return fmt.Sprintf("%s(%s).", f.Predicate, strings.Join(args, ", "))
}

// ToAtom converts a Fact to a Mangle AST Atom for direct store insertion.
func (f Fact) ToAtom() (ast.Atom, error) {
	var terms []ast.BaseTerm
	for _, arg := range f.Args {
		switch v := arg.(type) {
		case MangleAtom:
			s := string(v)
			if !strings.HasPrefix(s, "/") {
				terms = append(terms, ast.String(s))
				continue
			}
			c, err := ast.Name(s)
			if err != nil {
				return ast.Atom{}, err
			}
			terms = append(terms, c)
		case string:
			if isValidMangleNameConstant(v) {
				c, _ := ast.Name(v)
				terms = append(terms, c)
			} else {
				terms = append(terms, ast.String(v))
			}
		case int:
			terms = append(terms, ast.Number(int64(v)))
		case int64:
			terms = append(terms, ast.Number(v))
		case float64:
			// Fixed-point: scores are stored as hundredths.
			terms = append(terms, ast.Number(int64(v*100)))
		case time.Time:
			terms = append(terms, ast.Number(v.UnixNano()))
		case bool:
			if v {
				terms = append(terms, ast.TrueConstant)
			} else {
				terms = append(terms, ast.FalseConstant)
			}
		default:
			terms = append(terms, ast.String(fmt.Sprintf("%v", v)))
		}
	}
	return ast.NewAtom(f.Predicate, terms...), nil
}
