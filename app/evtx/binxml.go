package evtx

import (
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"unicode/utf16"
)

// binary XML tokens; bit 0x40 marks "more data follows"
const (
	tokEOF              = 0x00
	tokOpenStartElement = 0x01
	tokCloseStartElem   = 0x02
	tokCloseEmptyElem   = 0x03
	tokCloseElement     = 0x04
	tokValue            = 0x05
	tokAttribute        = 0x06
	tokCDATA            = 0x07
	tokCharRef          = 0x08
	tokEntityRef        = 0x09
	tokPITarget         = 0x0a
	tokPIData           = 0x0b
	tokTemplateInstance = 0x0c
	tokNormalSubst      = 0x0d
	tokOptionalSubst    = 0x0e
	tokFragmentHeader   = 0x0f

	tokMoreFlag = 0x40
)

const maxDepth = 64

var errTruncated = errors.New("truncated binary xml")

// part is a piece of text: a literal or a substitution reference.
type part struct {
	text     string
	sub      int
	isSub    bool
	optional bool
}

type attr struct {
	name  string
	parts []part
}

// node is a parsed element whose values may still refer to substitutions.
// A node with inst set stands for an instantiated template.
type node struct {
	name     string
	attrs    []attr
	text     []part
	children []*node
	inst     *instance
}

type instance struct {
	def    []*node
	values []value
}

type value struct {
	typ  byte
	data []byte
	off  int
}

type chunk struct {
	data      []byte
	names     map[int]string
	templates map[int][]*node
}

func newChunk(data []byte) *chunk {
	return &chunk{data: data, names: make(map[int]string), templates: make(map[int][]*node)}
}

// name reads a name structure: next offset, hash, length, UTF-16 text and
// a terminating NUL. It returns the text and the structure's size.
func (ch *chunk) name(off int) (string, int, error) {
	if off < 0 || off+8 > len(ch.data) {
		return "", 0, errTruncated
	}
	n := int(binary.LittleEndian.Uint16(ch.data[off+6:]))
	end := off + 8 + 2*n
	if end+2 > len(ch.data) {
		return "", 0, errTruncated
	}
	if s, ok := ch.names[off]; ok {
		return s, end + 2 - off, nil
	}
	s := decodeUTF16(ch.data[off+8 : end])
	ch.names[off] = s
	return s, end + 2 - off, nil
}

type parser struct {
	ch    *chunk
	pos   int
	depth int
}

func (p *parser) need(n int) error {
	if p.pos+n > len(p.ch.data) {
		return errTruncated
	}
	return nil
}

func (p *parser) u8() (byte, error) {
	if err := p.need(1); err != nil {
		return 0, err
	}
	b := p.ch.data[p.pos]
	p.pos++
	return b, nil
}

func (p *parser) u16() (uint16, error) {
	if err := p.need(2); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint16(p.ch.data[p.pos:])
	p.pos += 2
	return v, nil
}

func (p *parser) u32() (uint32, error) {
	if err := p.need(4); err != nil {
		return 0, err
	}
	v := binary.LittleEndian.Uint32(p.ch.data[p.pos:])
	p.pos += 4
	return v, nil
}

func (p *parser) skip(n int) error {
	if err := p.need(n); err != nil {
		return err
	}
	p.pos += n
	return nil
}

func (p *parser) utf16String() (string, error) {
	n, err := p.u16()
	if err != nil {
		return "", err
	}
	if err := p.need(2 * int(n)); err != nil {
		return "", err
	}
	s := decodeUTF16(p.ch.data[p.pos : p.pos+2*int(n)])
	p.pos += 2 * int(n)
	return s, nil
}

// nameRef resolves a name offset. Names defined in place follow the
// reference directly and are skipped over.
func (p *parser) nameRef() (string, error) {
	off, err := p.u32()
	if err != nil {
		return "", err
	}
	s, size, err := p.ch.name(int(off))
	if err != nil {
		return "", err
	}
	if int(off) == p.pos {
		p.pos += size
	}
	return s, nil
}

// fragment parses tokens up to end or an end-of-fragment token.
func (p *parser) fragment(end int) ([]*node, error) {
	if p.depth > maxDepth {
		return nil, errors.New("binary xml nested too deeply")
	}
	var out []*node
	for p.pos < end {
		tok, err := p.u8()
		if err != nil {
			return nil, err
		}
		switch tok &^ tokMoreFlag {
		case tokEOF:
			return out, nil
		case tokFragmentHeader:
			if err := p.skip(3); err != nil {
				return nil, err
			}
		case tokOpenStartElement:
			n, err := p.element(tok&tokMoreFlag != 0)
			if err != nil {
				return nil, err
			}
			out = append(out, n)
		case tokTemplateInstance:
			inst, err := p.templateInstance()
			if err != nil {
				return nil, err
			}
			out = append(out, &node{inst: inst})
		default:
			return nil, fmt.Errorf("unexpected token 0x%02x at %d", tok, p.pos-1)
		}
	}
	return out, nil
}

func (p *parser) element(hasAttrs bool) (*node, error) {
	if p.depth > maxDepth {
		return nil, errors.New("binary xml nested too deeply")
	}
	// dependency id and data size
	if err := p.skip(6); err != nil {
		return nil, err
	}
	name, err := p.nameRef()
	if err != nil {
		return nil, err
	}
	n := &node{name: name}

	if hasAttrs {
		if err := p.skip(4); err != nil {
			return nil, err
		}
		for p.pos < len(p.ch.data) && p.ch.data[p.pos]&^tokMoreFlag == tokAttribute {
			tok := p.ch.data[p.pos]
			p.pos++
			a, err := p.attribute()
			if err != nil {
				return nil, err
			}
			n.attrs = append(n.attrs, a)
			if tok&tokMoreFlag == 0 {
				break
			}
		}
	}

	closing, err := p.u8()
	if err != nil {
		return nil, err
	}
	switch closing {
	case tokCloseEmptyElem:
		return n, nil
	case tokCloseStartElem:
	default:
		return nil, fmt.Errorf("unexpected token 0x%02x closing <%s>", closing, name)
	}
	return n, p.content(n)
}

func (p *parser) content(n *node) error {
	for {
		tok, err := p.u8()
		if err != nil {
			return err
		}
		switch tok &^ tokMoreFlag {
		case tokCloseElement, tokEOF:
			return nil
		case tokOpenStartElement:
			p.depth++
			child, err := p.element(tok&tokMoreFlag != 0)
			p.depth--
			if err != nil {
				return err
			}
			n.children = append(n.children, child)
		case tokTemplateInstance:
			inst, err := p.templateInstance()
			if err != nil {
				return err
			}
			n.children = append(n.children, &node{inst: inst})
		case tokFragmentHeader:
			if err := p.skip(3); err != nil {
				return err
			}
		case tokPITarget:
			if _, err := p.nameRef(); err != nil {
				return err
			}
		case tokPIData:
			if _, err := p.utf16String(); err != nil {
				return err
			}
		default:
			pt, err := p.textPart(tok)
			if err != nil {
				return err
			}
			n.text = append(n.text, pt)
		}
	}
}

func (p *parser) attribute() (attr, error) {
	name, err := p.nameRef()
	if err != nil {
		return attr{}, err
	}
	tok, err := p.u8()
	if err != nil {
		return attr{}, err
	}
	pt, err := p.textPart(tok)
	if err != nil {
		return attr{}, err
	}
	return attr{name: name, parts: []part{pt}}, nil
}

// textPart handles the tokens that may carry character data.
func (p *parser) textPart(tok byte) (part, error) {
	switch tok &^ tokMoreFlag {
	case tokValue:
		if _, err := p.u8(); err != nil {
			return part{}, err
		}
		s, err := p.utf16String()
		return part{text: s}, err
	case tokCDATA:
		s, err := p.utf16String()
		return part{text: s}, err
	case tokCharRef:
		r, err := p.u16()
		return part{text: string(rune(r))}, err
	case tokEntityRef:
		name, err := p.nameRef()
		return part{text: entity(name)}, err
	case tokNormalSubst, tokOptionalSubst:
		id, err := p.u16()
		if err != nil {
			return part{}, err
		}
		if _, err := p.u8(); err != nil {
			return part{}, err
		}
		return part{sub: int(id), isSub: true, optional: tok == tokOptionalSubst}, nil
	}
	return part{}, fmt.Errorf("unexpected token 0x%02x at %d", tok, p.pos-1)
}

func entity(name string) string {
	switch name {
	case "amp":
		return "&"
	case "lt":
		return "<"
	case "gt":
		return ">"
	case "quot":
		return `"`
	case "apos":
		return "'"
	}
	return "&" + name + ";"
}

// templateInstance reads a template reference, parsing the definition on
// first sight, followed by the substitution values of this instance.
func (p *parser) templateInstance() (*instance, error) {
	if err := p.skip(1); err != nil {
		return nil, err
	}
	if _, err := p.u32(); err != nil {
		return nil, err
	}
	defOff, err := p.u32()
	if err != nil {
		return nil, err
	}
	def, err := p.ch.template(int(defOff), p.depth)
	if err != nil {
		return nil, err
	}
	if int(defOff) == p.pos {
		size := int(binary.LittleEndian.Uint32(p.ch.data[p.pos+20:]))
		if err := p.skip(24 + size); err != nil {
			return nil, err
		}
	}

	count, err := p.u32()
	if err != nil {
		return nil, err
	}
	if count > 4096 {
		return nil, fmt.Errorf("implausible substitution count %d", count)
	}
	type desc struct {
		size int
		typ  byte
	}
	descs := make([]desc, count)
	for i := range descs {
		size, err := p.u16()
		if err != nil {
			return nil, err
		}
		typ, err := p.u8()
		if err != nil {
			return nil, err
		}
		if err := p.skip(1); err != nil {
			return nil, err
		}
		descs[i] = desc{size: int(size), typ: typ}
	}
	values := make([]value, count)
	for i, d := range descs {
		if err := p.need(d.size); err != nil {
			return nil, err
		}
		values[i] = value{typ: d.typ, data: p.ch.data[p.pos : p.pos+d.size], off: p.pos}
		p.pos += d.size
	}
	return &instance{def: def, values: values}, nil
}

// template returns the parsed definition at off: next offset, GUID, data
// size, then a binary XML fragment.
func (ch *chunk) template(off, depth int) ([]*node, error) {
	if def, ok := ch.templates[off]; ok {
		return def, nil
	}
	if off < 0 || off+24 > len(ch.data) {
		return nil, errTruncated
	}
	size := int(binary.LittleEndian.Uint32(ch.data[off+20:]))
	start := off + 24
	if start+size > len(ch.data) {
		return nil, errTruncated
	}
	p := &parser{ch: ch, pos: start, depth: depth + 1}
	def, err := p.fragment(start + size)
	if err != nil {
		return nil, fmt.Errorf("template at %d: %w", off, err)
	}
	ch.templates[off] = def
	return def, nil
}

// Element is an instantiated XML element.
type Element struct {
	Name     string
	Attrs    map[string]string
	Text     string
	Children []*Element
}

// Child returns the first direct child with the given name.
func (e *Element) Child(name string) *Element {
	for _, c := range e.Children {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func (ch *chunk) instantiate(nodes []*node, values []value, depth int) ([]*Element, error) {
	if depth > maxDepth {
		return nil, errors.New("template nesting too deep")
	}
	var out []*Element
	for _, n := range nodes {
		if n.inst != nil {
			els, err := ch.instantiate(n.inst.def, n.inst.values, depth+1)
			if err != nil {
				return nil, err
			}
			out = append(out, els...)
			continue
		}
		e := &Element{Name: n.name}
		for _, a := range n.attrs {
			s := joinParts(a.parts, values)
			if s == "" {
				continue
			}
			if e.Attrs == nil {
				e.Attrs = make(map[string]string, len(n.attrs))
			}
			e.Attrs[a.name] = s
		}

		var sb strings.Builder
		for _, pt := range n.text {
			if pt.isSub && pt.sub < len(values) && values[pt.sub].typ == typeBinXML {
				v := values[pt.sub]
				p := &parser{ch: ch, pos: v.off, depth: depth + 1}
				sub, err := p.fragment(v.off + len(v.data))
				if err != nil {
					return nil, err
				}
				els, err := ch.instantiate(sub, nil, depth+1)
				if err != nil {
					return nil, err
				}
				e.Children = append(e.Children, els...)
				continue
			}
			sb.WriteString(partText(pt, values))
		}
		e.Text = sb.String()

		children, err := ch.instantiate(n.children, values, depth)
		if err != nil {
			return nil, err
		}
		e.Children = append(e.Children, children...)
		out = append(out, e)
	}
	return out, nil
}

func joinParts(parts []part, values []value) string {
	if len(parts) == 1 {
		return partText(parts[0], values)
	}
	var sb strings.Builder
	for _, pt := range parts {
		sb.WriteString(partText(pt, values))
	}
	return sb.String()
}

func partText(pt part, values []value) string {
	if !pt.isSub {
		return pt.text
	}
	if pt.sub >= len(values) {
		return ""
	}
	return values[pt.sub].String()
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[2*i:])
	}
	for len(u) > 0 && u[len(u)-1] == 0 {
		u = u[:len(u)-1]
	}
	return string(utf16.Decode(u))
}
