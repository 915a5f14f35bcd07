package router

import (
	"fmt"

	"github.com/randalmurphal/ceroute/pkg/ceroute/config"
	"github.com/randalmurphal/ceroute/pkg/ceroute/event"
	"github.com/randalmurphal/ceroute/pkg/ceroute/expr"
)

// Rule sends events matching When to the To ports.
type Rule struct {
	When string
	To   []config.PortID
}

// Rules routes by evaluating expressions over event attributes.
//
// Configuration:
//
//	routing:
//	  type: rules
//	  config:
//	    mode: all            # "all" (default) unions every match, "first" stops at the first
//	    rules:
//	      - when: type startswith 'com.example.order.'
//	        to: [orders, audit]
//	      - when: priority >= 5
//	        to: pager
//	    default: [archive]   # used when no rule matches; omit to drop unmatched events
//
// An event that matches nothing and has no default gets no destinations,
// which the kernel acknowledges immediately.
type Rules struct {
	eval *expr.Evaluator
}

// Compile-time interface checks.
var (
	_ Router    = (*Rules)(nil)
	_ Validator = (*Rules)(nil)
)

// NewRules creates a rules router. Options are passed to the expression
// evaluator, for example to register custom operators.
func NewRules(opts ...expr.Option) *Rules {
	return &Rules{eval: expr.New(opts...)}
}

type ruleSet struct {
	first    bool
	rules    []Rule
	fallback []config.PortID
}

// ValidateTable implements Validator: every rule must parse and every
// destination must be an output of the snapshot.
func (r *Rules) ValidateTable(t *Table) error {
	rs, err := r.parse(t.Config)
	if err != nil {
		return err
	}
	for i, rule := range rs.rules {
		if err := t.CheckDestinations(portStrings(rule.To)); err != nil {
			return fmt.Errorf("rule #%d: %w", i, err)
		}
	}
	if err := t.CheckDestinations(portStrings(rs.fallback)); err != nil {
		return fmt.Errorf("default: %w", err)
	}
	return nil
}

// Route implements Router.
func (r *Rules) Route(evt *event.Event, t *Table) ([]config.PortID, error) {
	v, err := t.Memo("rules", func() (any, error) { return r.parse(t.Config) })
	if err != nil {
		return nil, err
	}
	rs := v.(*ruleSet)

	vars := Vars(evt)
	var dests []config.PortID
	seen := make(map[config.PortID]bool)
	matched := false
	for i, rule := range rs.rules {
		ok, err := r.eval.Evaluate(rule.When, vars)
		if err != nil {
			return nil, fmt.Errorf("rule #%d: %w", i, err)
		}
		if !ok {
			continue
		}
		matched = true
		dests = appendUnique(dests, seen, rule.To)
		if rs.first {
			break
		}
	}
	if !matched {
		dests = appendUnique(dests, seen, rs.fallback)
	}
	return dests, nil
}

func (r *Rules) parse(cfg config.Config) (*ruleSet, error) {
	rs := &ruleSet{}
	switch mode := cfg.String("mode", "all"); mode {
	case "all":
	case "first":
		rs.first = true
	default:
		return nil, fmt.Errorf("unknown rules mode %q", mode)
	}

	if cfg.Has("rules") {
		items, ok := cfg.List("rules")
		if !ok {
			return nil, fmt.Errorf("rules must be a list")
		}
		for i, item := range items {
			when := item.String("when", "")
			if err := r.eval.Check(when); err != nil {
				return nil, fmt.Errorf("rule #%d: %w", i, err)
			}
			to := item.StringSlice("to", nil)
			if len(to) == 0 {
				return nil, fmt.Errorf("rule #%d: no destinations", i)
			}
			rs.rules = append(rs.rules, Rule{When: when, To: portIDs(to)})
		}
	}
	rs.fallback = portIDs(cfg.StringSlice("default", nil))
	return rs, nil
}

func appendUnique(dst []config.PortID, seen map[config.PortID]bool, ids []config.PortID) []config.PortID {
	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			dst = append(dst, id)
		}
	}
	return dst
}

func portIDs(ss []string) []config.PortID {
	ids := make([]config.PortID, len(ss))
	for i, s := range ss {
		ids[i] = config.PortID(s)
	}
	return ids
}

func portStrings(ids []config.PortID) []string {
	ss := make([]string, len(ids))
	for i, id := range ids {
		ss[i] = string(id)
	}
	return ss
}
