package projection

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/rotisserie/eris"
)

// node is one WKT element: KEYWORD[arg, arg, ...]. Args hold strings,
// float64 values or nested nodes.
type node struct {
	Keyword string
	Args    []any
}

// child returns the first nested node with the given keyword.
func (n *node) child(keyword string) *node {
	for _, a := range n.Args {
		if c, ok := a.(*node); ok && strings.EqualFold(c.Keyword, keyword) {
			return c
		}
	}
	return nil
}

// children returns every nested node with the given keyword.
func (n *node) children(keyword string) []*node {
	var out []*node
	for _, a := range n.Args {
		if c, ok := a.(*node); ok && strings.EqualFold(c.Keyword, keyword) {
			out = append(out, c)
		}
	}
	return out
}

func (n *node) str(i int) string {
	if i >= len(n.Args) {
		return ""
	}
	s, _ := n.Args[i].(string)
	return s
}

func (n *node) num(i int) (float64, bool) {
	if i >= len(n.Args) {
		return 0, false
	}
	f, ok := n.Args[i].(float64)
	return f, ok
}

type wktParser struct {
	src string
	pos int
}

// parseWKT parses OGC/ESRI WKT1 into a node tree.
func parseWKT(src string) (*node, error) {
	p := &wktParser{src: src}
	n, err := p.parseNode()
	if err != nil {
		return nil, err
	}
	p.skipSpace()
	if p.pos != len(p.src) {
		return nil, eris.Errorf("projection: trailing data at offset %d", p.pos)
	}
	return n, nil
}

func (p *wktParser) skipSpace() {
	for p.pos < len(p.src) && unicode.IsSpace(rune(p.src[p.pos])) {
		p.pos++
	}
}

func (p *wktParser) parseNode() (*node, error) {
	p.skipSpace()
	start := p.pos
	for p.pos < len(p.src) && (isIdentChar(p.src[p.pos])) {
		p.pos++
	}
	if start == p.pos {
		return nil, eris.Errorf("projection: expected keyword at offset %d", start)
	}
	n := &node{Keyword: strings.ToUpper(p.src[start:p.pos])}

	p.skipSpace()
	if p.pos >= len(p.src) || (p.src[p.pos] != '[' && p.src[p.pos] != '(') {
		// Bare keyword, e.g. an axis direction such as EAST.
		return n, nil
	}
	closer := byte(']')
	if p.src[p.pos] == '(' {
		closer = ')'
	}
	p.pos++

	for {
		p.skipSpace()
		if p.pos >= len(p.src) {
			return nil, eris.Errorf("projection: unterminated %s", n.Keyword)
		}
		c := p.src[p.pos]
		switch {
		case c == closer:
			p.pos++
			return n, nil
		case c == ',':
			p.pos++
		case c == '"':
			s, err := p.parseString()
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, s)
		case c == '-' || c == '+' || c == '.' || (c >= '0' && c <= '9'):
			f, err := p.parseNumber()
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, f)
		case isIdentChar(c):
			child, err := p.parseNode()
			if err != nil {
				return nil, err
			}
			n.Args = append(n.Args, child)
		default:
			return nil, eris.Errorf("projection: unexpected %q at offset %d", c, p.pos)
		}
	}
}

func (p *wktParser) parseString() (string, error) {
	p.pos++ // opening quote
	var sb strings.Builder
	for p.pos < len(p.src) {
		c := p.src[p.pos]
		p.pos++
		if c == '"' {
			// Doubled quotes escape a literal quote.
			if p.pos < len(p.src) && p.src[p.pos] == '"' {
				sb.WriteByte('"')
				p.pos++
				continue
			}
			return sb.String(), nil
		}
		sb.WriteByte(c)
	}
	return "", eris.New("projection: unterminated string")
}

func (p *wktParser) parseNumber() (float64, error) {
	start := p.pos
	for p.pos < len(p.src) && strings.IndexByte("+-.0123456789eE", p.src[p.pos]) >= 0 {
		p.pos++
	}
	f, err := strconv.ParseFloat(p.src[start:p.pos], 64)
	if err != nil {
		return 0, eris.Wrapf(err, "projection: parse number at offset %d", start)
	}
	return f, nil
}

func isIdentChar(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}
