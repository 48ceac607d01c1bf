package prompt

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Renderer compiles template content into an executable form and caches the
// result keyed by version id. Version content is immutable, so cached
// entries are never invalidated; editing a prompt always means a new
// version with a new id.
type Renderer struct {
	mu       sync.Mutex
	cache    map[string]*compiled
	partials map[string]*compiled
}

func NewRenderer() *Renderer {
	r := &Renderer{
		cache:    map[string]*compiled{},
		partials: map[string]*compiled{},
	}
	for name, content := range Partials {
		c, err := r.compile(content)
		if err != nil {
			panic(fmt.Sprintf("prompt: builtin partial %s: %v", name, err))
		}
		r.partials[name] = c
	}
	return r
}

// Render hydrates content with ctx, compiling on first use per version id.
// Missing or null context fields render as empty text; output is never
// escaped because prompts are plain text.
func (r *Renderer) Render(versionID, content string, ctx map[string]any) (string, error) {
	r.mu.Lock()
	c, ok := r.cache[versionID]
	if !ok {
		var err error
		c, err = r.compile(content)
		if err != nil {
			r.mu.Unlock()
			return "", err
		}
		r.cache[versionID] = c
	}
	r.mu.Unlock()

	var b strings.Builder
	r.renderNodes(&b, c.nodes, ctx, nil)
	return b.String(), nil
}

// Compile parses content without caching it, for validation at authoring time.
func (r *Renderer) Compile(content string) error {
	_, err := r.compile(content)
	return err
}

type nodeKind int

const (
	nodeText nodeKind = iota
	nodeVar
	nodeIf
	nodeEach
	nodePartial
)

type node struct {
	kind   nodeKind
	text   string
	path   []string
	helper string
	name   string
	body   []node
	alt    []node
}

type compiled struct {
	nodes []node
}

type parser struct {
	src string
	pos int
}

func (r *Renderer) compile(content string) (*compiled, error) {
	p := &parser{src: content}
	nodes, _, err := r.parseNodes(p, "")
	if err != nil {
		return nil, err
	}
	return &compiled{nodes: nodes}, nil
}

// parseBlock consumes a block body up to the closing tag, splitting it at an
// optional {{else}} into the main and alternative arms.
func (r *Renderer) parseBlock(p *parser, block string) (body, alt []node, err error) {
	body, sawElse, err := r.parseNodes(p, block)
	if err != nil {
		return nil, nil, err
	}
	if sawElse {
		var again bool
		alt, again, err = r.parseNodes(p, block)
		if err != nil {
			return nil, nil, err
		}
		if again {
			return nil, nil, fmt.Errorf("template: duplicate {{else}} in #%s", block)
		}
	}
	return body, alt, nil
}

// parseNodes consumes the tag stream until the matching {{/until}} tag, or
// until end of input when until is empty. The bool reports stopping at an
// {{else}} tag instead; the caller owning the block resumes for the
// alternative arm.
func (r *Renderer) parseNodes(p *parser, until string) ([]node, bool, error) {
	var nodes []node
	for p.pos < len(p.src) {
		open := strings.Index(p.src[p.pos:], "{{")
		if open < 0 {
			nodes = append(nodes, node{kind: nodeText, text: p.src[p.pos:]})
			p.pos = len(p.src)
			break
		}
		if open > 0 {
			nodes = append(nodes, node{kind: nodeText, text: p.src[p.pos : p.pos+open]})
		}
		p.pos += open + 2
		end := strings.Index(p.src[p.pos:], "}}")
		if end < 0 {
			return nil, false, fmt.Errorf("template: unterminated tag")
		}
		tag := strings.TrimSpace(p.src[p.pos : p.pos+end])
		p.pos += end + 2

		switch {
		case strings.HasPrefix(tag, "/"):
			if tag[1:] != until {
				return nil, false, fmt.Errorf("template: unexpected {{/%s}}", tag[1:])
			}
			return nodes, false, nil
		case tag == "else":
			if until == "" {
				return nil, false, fmt.Errorf("template: {{else}} outside a block")
			}
			return nodes, true, nil
		case strings.HasPrefix(tag, "#if"):
			arg := strings.TrimSpace(strings.TrimPrefix(tag, "#if"))
			if arg == "" {
				return nil, false, fmt.Errorf("template: #if needs a path")
			}
			body, alt, err := r.parseBlock(p, "if")
			if err != nil {
				return nil, false, err
			}
			nodes = append(nodes, node{kind: nodeIf, path: strings.Split(arg, "."), body: body, alt: alt})
		case strings.HasPrefix(tag, "#each"):
			arg := strings.TrimSpace(strings.TrimPrefix(tag, "#each"))
			if arg == "" {
				return nil, false, fmt.Errorf("template: #each needs a path")
			}
			body, alt, err := r.parseBlock(p, "each")
			if err != nil {
				return nil, false, err
			}
			nodes = append(nodes, node{kind: nodeEach, path: strings.Split(arg, "."), body: body, alt: alt})
		case strings.HasPrefix(tag, "#"):
			return nil, false, fmt.Errorf("template: unknown block %q", tag)
		case strings.HasPrefix(tag, ">"):
			name := strings.TrimSpace(tag[1:])
			if _, ok := r.partials[name]; !ok {
				return nil, false, fmt.Errorf("template: unknown partial %q", name)
			}
			nodes = append(nodes, node{kind: nodePartial, name: name})
		default:
			fields := strings.Fields(tag)
			switch len(fields) {
			case 1:
				nodes = append(nodes, node{kind: nodeVar, path: strings.Split(fields[0], ".")})
			case 2:
				if fields[0] != "json" && fields[0] != "priority_label" {
					return nil, false, fmt.Errorf("template: unknown helper %q", fields[0])
				}
				nodes = append(nodes, node{kind: nodeVar, helper: fields[0], path: strings.Split(fields[1], ".")})
			default:
				return nil, false, fmt.Errorf("template: malformed tag %q", tag)
			}
		}
	}
	if until != "" {
		return nil, false, fmt.Errorf("template: missing {{/%s}}", until)
	}
	return nodes, false, nil
}

func (r *Renderer) renderNodes(b *strings.Builder, nodes []node, root map[string]any, scope any) {
	for _, n := range nodes {
		switch n.kind {
		case nodeText:
			b.WriteString(n.text)
		case nodeVar:
			v := resolve(n.path, root, scope)
			switch n.helper {
			case "json":
				b.WriteString(jsonHelper(v))
			case "priority_label":
				b.WriteString(priorityLabel(v))
			default:
				b.WriteString(formatValue(v))
			}
		case nodeIf:
			if truthy(resolve(n.path, root, scope)) {
				r.renderNodes(b, n.body, root, scope)
			} else {
				r.renderNodes(b, n.alt, root, scope)
			}
		case nodeEach:
			items, _ := resolve(n.path, root, scope).([]any)
			if len(items) == 0 {
				r.renderNodes(b, n.alt, root, scope)
			}
			for _, item := range items {
				r.renderNodes(b, n.body, root, item)
			}
		case nodePartial:
			r.renderNodes(b, r.partials[n.name].nodes, root, scope)
		}
	}
}

// resolve walks a dotted path through the context. Paths rooted at "this"
// address the current loop element; a trailing "length" segment yields the
// size of a list or string. Any miss yields nil.
func resolve(path []string, root map[string]any, scope any) any {
	var cur any = root
	if path[0] == "this" {
		cur = scope
		path = path[1:]
	}
	for _, seg := range path {
		if seg == "length" {
			switch v := cur.(type) {
			case []any:
				return len(v)
			case string:
				return len(v)
			}
		}
		m, ok := cur.(map[string]any)
		if !ok {
			return nil
		}
		cur = m[seg]
		if cur == nil {
			return nil
		}
	}
	return cur
}

func truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	case []any:
		return len(t) > 0
	case map[string]any:
		return len(t) > 0
	}
	return true
}

func formatValue(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case float64:
		if t == math.Trunc(t) && math.Abs(t) < 1e15 {
			return strconv.FormatInt(int64(t), 10)
		}
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(raw)
}

func jsonHelper(v any) string {
	raw, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "null"
	}
	return string(raw)
}

var priorityNames = map[int]string{
	1: "urgent",
	2: "high",
	3: "medium",
	4: "low",
	0: "none",
}

func priorityLabel(v any) string {
	var p int
	switch t := v.(type) {
	case int:
		p = t
	case int64:
		p = int(t)
	case float64:
		p = int(t)
	default:
		return "unknown"
	}
	if name, ok := priorityNames[p]; ok {
		return name
	}
	return "unknown"
}
