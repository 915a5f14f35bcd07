/*
Package expr evaluates the boolean conditions used by the rules router.

# Expression Syntax

	<expr> := <comparison>
	        | <expr> 'and' <expr>
	        | <expr> 'or' <expr>
	        | 'not' <expr>
	        | '!' <expr>
	        | <value>

	<comparison> := <value> <op> <value>
	<op> := '==' | '!=' | '<' | '>' | '<=' | '>=' |
	        'contains' | 'startswith' | 'endswith' | 'matches'
	<value> := 'string' | "string" | number | true | false | null | identifier

Identifiers resolve against the variables map; the router exposes the
CloudEvents attributes (id, source, type, subject, datacontenttype,
dataschema, time) and every extension by name. An identifier that is not
a variable resolves to null.

# Operators

	==, !=       string comparison of the formatted values
	<, >, <=, >= numeric comparison (times compare as Unix seconds)
	contains     substring
	startswith   prefix, for hierarchical types and sources
	endswith     suffix
	matches      regular expression (RE2 syntax)

Separators inside quoted literals are ignored, so
type == 'a and b' is a single comparison.

# Examples

	type == 'com.example.order.created'
	type startswith 'com.example.' and source != '/test'
	subject matches '^order-[0-9]+$'
	priority >= 5 or not tenant

# Validation

Check reports syntax problems without evaluating. Call it when a rule is
loaded:

	if err := expr.New().Check(rule); err != nil {
	    return err
	}

# Custom Operators

	e := expr.New(
	    expr.WithCustomOperator("under", func(left, right any) bool {
	        return strings.HasPrefix(fmt.Sprint(left), fmt.Sprint(right)+"/")
	    }),
	)
	ok, _ := e.Evaluate("source under '/orders'", vars)
*/
package expr
