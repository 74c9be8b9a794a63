package ddbmem

import (
	"strconv"
	"strings"

	"github.com/Invicton-Labs/go-stackerr"
	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// The expression engine covers the DynamoDB grammar this module actually
// sends to the store: attribute_exists / attribute_not_exists, the six
// comparators, AND / OR / NOT, parentheses, #name aliases and :value
// placeholders for condition expressions, and SET / REMOVE clauses for
// update expressions.

type (
	// conditionExpr is an AST element which describes a series of OR conditions
	conditionExpr struct {
		Or []*andExpr `parser:"@@ ( 'OR' @@ )*"`
	}

	// andExpr is an AST element which describes a series of AND conditions
	andExpr struct {
		And []*unaryExpr `parser:"@@ ( 'AND' @@ )*"`
	}

	// unaryExpr is an optionally negated primary
	unaryExpr struct {
		Not     *unaryExpr `parser:"  'NOT' @@"`
		Primary *primary   `parser:"| @@"`
	}

	// primary groups a function call, a comparison or a parenthesized expression
	primary struct {
		Func  *funcCall      `parser:"  @@"`
		Cmp   *comparison    `parser:"| @@"`
		Group *conditionExpr `parser:"| '(' @@ ')'"`
	}

	// funcCall is an attribute_exists / attribute_not_exists call on a path
	funcCall struct {
		Name string `parser:"@Func"`
		Path string `parser:"'(' @(NameRef | Ident) ')'"`
	}

	// comparison is a binary comparison between two operands
	comparison struct {
		Left  *operand `parser:"@@"`
		Op    string   `parser:"@Cmp"`
		Right *operand `parser:"@@"`
	}

	// operand is either an attribute path or a :value placeholder
	operand struct {
		Path     *string `parser:"  @(NameRef | Ident)"`
		ValueRef *string `parser:"| @ValueRef"`
	}

	// updateExpr is a sequence of SET / REMOVE clauses
	updateExpr struct {
		Clauses []*updateClause `parser:"@@+"`
	}

	updateClause struct {
		Set    *setClause    `parser:"  @@"`
		Remove *removeClause `parser:"| @@"`
	}

	setClause struct {
		Actions []*setAction `parser:"'SET' @@ ( ',' @@ )*"`
	}

	setAction struct {
		Path  string `parser:"@(NameRef | Ident) '='"`
		Value string `parser:"@ValueRef"`
	}

	removeClause struct {
		Paths []string `parser:"'REMOVE' @(NameRef | Ident) ( ',' @(NameRef | Ident) )*"`
	}
)

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: `Keyword`, Pattern: `(?i)\b(AND|OR|NOT|SET|REMOVE)\b`},
	{Name: `Func`, Pattern: `(?i)\b(attribute_exists|attribute_not_exists)\b`},
	{Name: `Ident`, Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
	{Name: `NameRef`, Pattern: `#[a-zA-Z0-9_]+`},
	{Name: `ValueRef`, Pattern: `:[a-zA-Z0-9_]+`},
	{Name: `Cmp`, Pattern: `<>|<=|>=|[=<>]`},
	{Name: `Punct`, Pattern: `[(),]`},
	{Name: `whitespace`, Pattern: `\s+`},
})

var (
	conditionParser = participle.MustBuild[conditionExpr](
		participle.Lexer(exprLexer),
		participle.CaseInsensitive("Keyword", "Func"),
		participle.UseLookahead(2),
	)
	updateParser = participle.MustBuild[updateExpr](
		participle.Lexer(exprLexer),
		participle.CaseInsensitive("Keyword", "Func"),
		participle.UseLookahead(2),
	)
)

// exprContext carries the alias tables and the item an expression is
// evaluated against.
type exprContext struct {
	names  map[string]string
	values map[string]types.AttributeValue
	item   map[string]types.AttributeValue
}

// resolvePath maps a #alias through ExpressionAttributeNames; plain
// identifiers name the attribute directly.
func (ec exprContext) resolvePath(path string) (string, stackerr.Error) {
	if !strings.HasPrefix(path, "#") {
		return path, nil
	}
	name, ok := ec.names[path]
	if !ok {
		return "", stackerr.Errorf("expression attribute name %s is not defined", path)
	}
	return name, nil
}

func (ec exprContext) resolveValue(ref string) (types.AttributeValue, stackerr.Error) {
	value, ok := ec.values[ref]
	if !ok {
		return nil, stackerr.Errorf("expression attribute value %s is not defined", ref)
	}
	return value, nil
}

// resolveOperand returns the operand's attribute value and whether it is
// present. A path operand naming an absent attribute resolves to present
// == false, which makes any comparison involving it evaluate to false.
func (ec exprContext) resolveOperand(op *operand) (types.AttributeValue, bool, stackerr.Error) {
	if op.ValueRef != nil {
		value, err := ec.resolveValue(*op.ValueRef)
		if err != nil {
			return nil, false, err
		}
		return value, true, nil
	}
	name, err := ec.resolvePath(*op.Path)
	if err != nil {
		return nil, false, err
	}
	value, ok := ec.item[name]
	return value, ok, nil
}

// evalCondition parses and evaluates a condition expression against an
// item. A nil item is treated as a non-existent item (every attribute
// absent), matching how DynamoDB evaluates conditions for writes that
// would create the item.
func evalCondition(expression string, ec exprContext) (bool, stackerr.Error) {
	ast, err := conditionParser.ParseString("", expression)
	if err != nil {
		return false, stackerr.Wrap(err)
	}
	return ast.eval(ec)
}

func (e *conditionExpr) eval(ec exprContext) (bool, stackerr.Error) {
	for _, or := range e.Or {
		ok, err := or.eval(ec)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func (e *andExpr) eval(ec exprContext) (bool, stackerr.Error) {
	for _, and := range e.And {
		ok, err := and.eval(ec)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func (e *unaryExpr) eval(ec exprContext) (bool, stackerr.Error) {
	if e.Not != nil {
		ok, err := e.Not.eval(ec)
		if err != nil {
			return false, err
		}
		return !ok, nil
	}
	return e.Primary.eval(ec)
}

func (e *primary) eval(ec exprContext) (bool, stackerr.Error) {
	switch {
	case e.Func != nil:
		name, err := ec.resolvePath(e.Func.Path)
		if err != nil {
			return false, err
		}
		_, exists := ec.item[name]
		switch strings.ToLower(e.Func.Name) {
		case "attribute_exists":
			return exists, nil
		case "attribute_not_exists":
			return !exists, nil
		default:
			return false, stackerr.Errorf("unsupported function %s", e.Func.Name)
		}
	case e.Cmp != nil:
		left, leftOk, err := ec.resolveOperand(e.Cmp.Left)
		if err != nil {
			return false, err
		}
		right, rightOk, err := ec.resolveOperand(e.Cmp.Right)
		if err != nil {
			return false, err
		}
		// A comparison referencing an absent attribute never holds.
		if !leftOk || !rightOk {
			return false, nil
		}
		return compareValues(left, right, e.Cmp.Op)
	default:
		return e.Group.eval(ec)
	}
}

// compareValues compares two attribute values of the same type. Strings
// compare lexicographically, numbers numerically. Comparing values of
// different types never holds, except that <> between mismatched types
// holds trivially.
func compareValues(left, right types.AttributeValue, op string) (bool, stackerr.Error) {
	switch l := left.(type) {
	case *types.AttributeValueMemberS:
		r, ok := right.(*types.AttributeValueMemberS)
		if !ok {
			return op == "<>", nil
		}
		return compareOrdered(strings.Compare(l.Value, r.Value), op)
	case *types.AttributeValueMemberN:
		r, ok := right.(*types.AttributeValueMemberN)
		if !ok {
			return op == "<>", nil
		}
		lv, err := strconv.ParseFloat(l.Value, 64)
		if err != nil {
			return false, stackerr.Wrap(err)
		}
		rv, err := strconv.ParseFloat(r.Value, 64)
		if err != nil {
			return false, stackerr.Wrap(err)
		}
		switch {
		case lv < rv:
			return compareOrdered(-1, op)
		case lv > rv:
			return compareOrdered(1, op)
		default:
			return compareOrdered(0, op)
		}
	case *types.AttributeValueMemberBOOL:
		r, ok := right.(*types.AttributeValueMemberBOOL)
		if !ok {
			return op == "<>", nil
		}
		switch op {
		case "=":
			return l.Value == r.Value, nil
		case "<>":
			return l.Value != r.Value, nil
		default:
			return false, stackerr.Errorf("operator %s is not defined for booleans", op)
		}
	default:
		return false, stackerr.Errorf("unsupported attribute type %T in comparison", left)
	}
}

func compareOrdered(cmp int, op string) (bool, stackerr.Error) {
	switch op {
	case "=":
		return cmp == 0, nil
	case "<>":
		return cmp != 0, nil
	case "<":
		return cmp < 0, nil
	case "<=":
		return cmp <= 0, nil
	case ">":
		return cmp > 0, nil
	case ">=":
		return cmp >= 0, nil
	default:
		return false, stackerr.Errorf("unsupported comparison operator %s", op)
	}
}

// applyUpdate parses an update expression and applies its SET and REMOVE
// clauses to a copy of the given item, returning the updated item.
func applyUpdate(expression string, ec exprContext) (map[string]types.AttributeValue, stackerr.Error) {
	ast, err := updateParser.ParseString("", expression)
	if err != nil {
		return nil, stackerr.Wrap(err)
	}

	updated := copyItem(ec.item)
	for _, clause := range ast.Clauses {
		switch {
		case clause.Set != nil:
			for _, action := range clause.Set.Actions {
				name, serr := ec.resolvePath(action.Path)
				if serr != nil {
					return nil, serr
				}
				value, serr := ec.resolveValue(action.Value)
				if serr != nil {
					return nil, serr
				}
				updated[name] = value
			}
		case clause.Remove != nil:
			for _, path := range clause.Remove.Paths {
				name, serr := ec.resolvePath(path)
				if serr != nil {
					return nil, serr
				}
				delete(updated, name)
			}
		}
	}
	return updated, nil
}
