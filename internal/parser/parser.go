package parser

import (
	"fmt"
	"strings"

	sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/dshills/codesearch-mcp/pkg/types"
)

// Parser builds entity graphs from Python source using tree-sitter
type Parser struct {
	language *sitter.Language
}

// New creates a new Parser instance
func New() *Parser {
	return &Parser{
		language: sitter.NewLanguage(tree_sitter_python.Language()),
	}
}

// Parse builds the entity arena for one file. It never fails: files that cannot
// be parsed come back Unstructured with only the file entity and a recorded error.
func (p *Parser) Parse(path string, content []byte) *types.ParseResult {
	result := &types.ParseResult{Path: path}
	lineCount := len(types.SplitLines(string(content)))

	b := &entityBuilder{
		path:  path,
		code:  content,
		names: make(map[string]int),
	}
	b.addFile(lineCount)

	// tree-sitter parsers are not safe for concurrent use, one per call
	tp := sitter.NewParser()
	defer tp.Close()

	if err := tp.SetLanguage(p.language); err != nil {
		result.Unstructured = true
		result.AddError(path, 0, 0, fmt.Sprintf("failed to set language: %v", err))
		result.Entities = b.entities
		return result
	}

	tree := tp.Parse(content, nil)
	if tree == nil {
		result.Unstructured = true
		result.AddError(path, 0, 0, "parser returned no syntax tree")
		result.Entities = b.entities
		return result
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		// Syntax errors degrade the file to substring/line retrieval only
		result.Unstructured = true
		line, col := firstErrorPosition(root)
		result.AddError(path, line, col, fmt.Sprintf("syntax error at line %d, column %d", line, col))
		result.Entities = b.entities
		return result
	}

	b.entities[0].Docstring = docstring(root, content)
	b.walk(root, 0)
	result.Entities = b.entities
	return result
}

// entityBuilder accumulates the arena for one file
type entityBuilder struct {
	path     string
	code     []byte
	entities []types.CodeEntity
	names    map[string]int // base qualified name -> occurrences
}

func (b *entityBuilder) addFile(lineCount int) {
	if lineCount < 1 {
		lineCount = 1
	}
	b.entities = append(b.entities, types.CodeEntity{
		ID:            0,
		QualifiedName: b.path,
		Name:          b.path,
		Kind:          types.KindFile,
		FilePath:      b.path,
		StartLine:     1,
		EndLine:       lineCount,
		Parent:        types.NoParent,
	})
}

// walk visits the named children of node, emitting definitions as children of parent
func (b *entityBuilder) walk(node *sitter.Node, parent types.EntityID) {
	for i := uint(0); i < node.NamedChildCount(); i++ {
		child := node.NamedChild(i)
		if child == nil {
			continue
		}

		switch child.Kind() {
		case "class_definition", "function_definition":
			b.define(child, child, parent)

		case "decorated_definition":
			def := child.ChildByFieldName("definition")
			if def == nil {
				continue
			}
			// the entity range starts at the first decorator
			b.define(child, def, parent)

		default:
			// definitions nested in if/try/with blocks belong to the enclosing entity
			b.walk(child, parent)
		}
	}
}

// define emits an entity for def. span is the node whose range the entity covers.
func (b *entityBuilder) define(span, def *sitter.Node, parent types.EntityID) {
	nameNode := def.ChildByFieldName("name")
	if nameNode == nil {
		return
	}
	name := nameNode.Utf8Text(b.code)

	var kind types.EntityKind
	var signature string
	switch def.Kind() {
	case "class_definition":
		kind = types.KindClass
		signature = classSignature(def, name, b.code)
	case "function_definition":
		kind = types.KindFunction
		if b.entities[parent].Kind == types.KindClass {
			kind = types.KindMethod
		}
		signature = functionSignature(def, name, b.code)
	default:
		return
	}

	start, end := lineRange(span)
	p := &b.entities[parent]
	if start < p.StartLine {
		start = p.StartLine
	}
	if end > p.EndLine {
		end = p.EndLine
	}
	if end < start {
		end = start
	}

	id := types.EntityID(len(b.entities))
	b.entities = append(b.entities, types.CodeEntity{
		ID:            id,
		QualifiedName: b.qualify(parent, name),
		Name:          name,
		Kind:          kind,
		FilePath:      b.path,
		StartLine:     start,
		EndLine:       end,
		Signature:     signature,
		Parent:        parent,
	})
	b.entities[parent].Children = append(b.entities[parent].Children, id)

	if body := def.ChildByFieldName("body"); body != nil {
		b.entities[id].Docstring = docstring(body, b.code)
		b.walk(body, id)
	}
}

// qualify builds a unique qualified name for name under parent.
// Redefinitions get a "#2", "#3"... suffix in source order.
func (b *entityBuilder) qualify(parent types.EntityID, name string) string {
	p := &b.entities[parent]
	var qn string
	if p.Kind == types.KindFile {
		qn = b.path + ":" + name
	} else {
		qn = p.QualifiedName + "." + name
	}

	b.names[qn]++
	if n := b.names[qn]; n > 1 {
		return fmt.Sprintf("%s#%d", qn, n)
	}
	return qn
}

// lineRange converts a node span into 1-based inclusive lines. A node ending at
// column 0 of a later row does not include that row.
func lineRange(n *sitter.Node) (int, int) {
	startRow := n.StartPosition().Row
	endPos := n.EndPosition()
	end := int(endPos.Row) + 1
	if endPos.Column == 0 && endPos.Row > startRow {
		end = int(endPos.Row)
	}
	return int(startRow) + 1, end
}

func classSignature(def *sitter.Node, name string, code []byte) string {
	sig := "class " + name
	if supers := def.ChildByFieldName("superclasses"); supers != nil {
		sig += collapseSpace(supers.Utf8Text(code))
	}
	return sig
}

func functionSignature(def *sitter.Node, name string, code []byte) string {
	var sb strings.Builder
	if first := def.Child(0); first != nil && first.Kind() == "async" {
		sb.WriteString("async ")
	}
	sb.WriteString("def ")
	sb.WriteString(name)
	if params := def.ChildByFieldName("parameters"); params != nil {
		sb.WriteString(collapseSpace(params.Utf8Text(code)))
	}
	if ret := def.ChildByFieldName("return_type"); ret != nil {
		sb.WriteString(" -> ")
		sb.WriteString(collapseSpace(ret.Utf8Text(code)))
	}
	return sb.String()
}

// docstring returns the text of the first statement of block when it is a string
func docstring(block *sitter.Node, code []byte) string {
	for i := uint(0); i < block.NamedChildCount(); i++ {
		stmt := block.NamedChild(i)
		if stmt == nil || stmt.Kind() == "comment" {
			continue
		}
		if stmt.Kind() != "expression_statement" || stmt.NamedChildCount() == 0 {
			return ""
		}
		expr := stmt.NamedChild(0)
		if expr == nil || expr.Kind() != "string" {
			return ""
		}
		return unquote(expr.Utf8Text(code))
	}
	return ""
}

// unquote strips string prefixes and quotes from a Python string literal
func unquote(lit string) string {
	s := strings.TrimLeft(lit, "rRuUbBfF")
	for _, q := range []string{`"""`, `'''`, `"`, `'`} {
		if len(s) >= 2*len(q) && strings.HasPrefix(s, q) && strings.HasSuffix(s, q) {
			s = s[len(q) : len(s)-len(q)]
			break
		}
	}
	return strings.TrimSpace(s)
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

// firstErrorPosition returns the 1-based line and column of the first ERROR or
// MISSING node in document order
func firstErrorPosition(root *sitter.Node) (int, int) {
	var found *sitter.Node
	var visit func(n *sitter.Node)
	visit = func(n *sitter.Node) {
		if found != nil || n == nil || !n.HasError() && !n.IsError() && !n.IsMissing() {
			return
		}
		if n.IsError() || n.IsMissing() {
			found = n
			return
		}
		for i := uint(0); i < n.ChildCount(); i++ {
			visit(n.Child(i))
		}
	}
	visit(root)

	if found == nil {
		return 1, 1
	}
	pos := found.StartPosition()
	return int(pos.Row) + 1, int(pos.Column) + 1
}
