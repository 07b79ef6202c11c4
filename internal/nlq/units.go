package nlq

import (
	"fmt"
	"regexp"
)

// Unit is the physical or monetary unit of a result column.
type Unit string

const (
	USD Unit = "USD"
	EUR Unit = "EUR"
	MM  Unit = "MM"
	KG  Unit = "KG"
	PCS Unit = "PCS"
)

// UnitPatterns lists the column name patterns that imply a unit.
type UnitPatterns struct {
	Unit     Unit
	Patterns []string
}

// DefaultUnitPatterns is checked in order; the first unit with a matching
// pattern wins.
var DefaultUnitPatterns = []UnitPatterns{
	{USD, []string{`usd`, `dollar`}},
	{EUR, []string{`eur`, `euro`, `revenue`, `price`, `cost`, `amount`}},
	{MM, []string{`(^|_)mm($|_)`, `millimet`, `length`, `width`}},
	{KG, []string{`(^|_)kg($|_)`, `kilo`, `weight`}},
	{PCS, []string{`pcs`, `pieces`, `quantity`, `qty`, `units`}},
}

type unitRule struct {
	unit Unit
	res  []*regexp.Regexp
}

// UnitAssigner guesses column units from column names.
type UnitAssigner struct {
	rules []unitRule
}

// NewUnitAssigner compiles patterns case-insensitively. Nil selects
// DefaultUnitPatterns.
func NewUnitAssigner(patterns []UnitPatterns) (*UnitAssigner, error) {
	if patterns == nil {
		patterns = DefaultUnitPatterns
	}
	a := &UnitAssigner{}
	for _, p := range patterns {
		rule := unitRule{unit: p.Unit}
		for _, expr := range p.Patterns {
			re, err := regexp.Compile("(?i)" + expr)
			if err != nil {
				return nil, fmt.Errorf("unit %s pattern %q: %w", p.Unit, expr, err)
			}
			rule.res = append(rule.res, re)
		}
		a.rules = append(a.rules, rule)
	}
	return a, nil
}

// Assign returns one unit per column, nil where none applies.
func (a *UnitAssigner) Assign(columns []string) []*Unit {
	out := make([]*Unit, len(columns))
	for i, col := range columns {
		out[i] = a.unitOf(col)
	}
	return out
}

func (a *UnitAssigner) unitOf(column string) *Unit {
	for _, rule := range a.rules {
		for _, re := range rule.res {
			if re.MatchString(column) {
				u := rule.unit
				return &u
			}
		}
	}
	return nil
}
