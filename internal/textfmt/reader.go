package textfmt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/lumipallolabs/godu/internal/entry"
	"github.com/lumipallolabs/godu/internal/sink"
)

// jsonVal is a parsed JSON value, kept generic enough that unknown
// object keys can be silently skipped (§7: "unknown keys are silently
// skipped") without the parser needing to know the schema up front.
type jsonVal struct {
	kind byte // 's' string, 'u' unsigned int, 'i' signed int, 'b' bool, 'a' array, 'o' object, 'z' null
	str  []byte
	u    uint64
	i    int64
	b    bool
	arr  []jsonVal
	obj  map[string]jsonVal
}

func (v jsonVal) field(key string) (jsonVal, bool) {
	if v.kind != 'o' {
		return jsonVal{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

func (v jsonVal) uint(key string) (uint64, bool, error) {
	f, ok := v.field(key)
	if !ok {
		return 0, false, nil
	}
	switch f.kind {
	case 'u':
		return f.u, true, nil
	case 'i':
		if f.i < 0 {
			return 0, false, fmt.Errorf("field %q: negative value not allowed", key)
		}
		return uint64(f.i), true, nil
	default:
		return 0, false, fmt.Errorf("field %q: expected a number", key)
	}
}

func (v jsonVal) sint(key string) (int64, bool, error) {
	f, ok := v.field(key)
	if !ok {
		return 0, false, nil
	}
	switch f.kind {
	case 'u':
		return int64(f.u), true, nil
	case 'i':
		return f.i, true, nil
	default:
		return 0, false, fmt.Errorf("field %q: expected a number", key)
	}
}

func (v jsonVal) boolField(key string) (bool, bool, error) {
	f, ok := v.field(key)
	if !ok {
		return false, false, nil
	}
	if f.kind != 'b' {
		return false, false, fmt.Errorf("field %q: expected a bool", key)
	}
	return f.b, true, nil
}

func (v jsonVal) strField(key string) (string, bool, error) {
	f, ok := v.field(key)
	if !ok {
		return "", false, nil
	}
	if f.kind != 's' {
		return "", false, fmt.Errorf("field %q: expected a string", key)
	}
	return string(f.str), true, nil
}

func (v jsonVal) nameField() ([]byte, error) {
	f, ok := v.field(fieldName)
	if !ok {
		return nil, fmt.Errorf("missing required field %q", fieldName)
	}
	if f.kind != 's' {
		return nil, fmt.Errorf("field %q: expected a string", fieldName)
	}
	return f.str, nil
}

// parser is a hand-rolled recursive-descent JSON reader tracking
// line/column so malformed input can be reported the way §7 requires
// ("invalid JSON is fatal with line:column context").
type parser struct {
	r          *bufio.Reader
	line, col  int
	peeked     int // -1 if nothing peeked
}

func newParser(r io.Reader) *parser {
	return &parser{r: bufio.NewReader(r), line: 1, col: 0, peeked: -1}
}

func (p *parser) errf(format string, a ...interface{}) error {
	return fmt.Errorf("textfmt: line %d, column %d: %s", p.line, p.col, fmt.Sprintf(format, a...))
}

func (p *parser) next() (byte, error) {
	if p.peeked >= 0 {
		b := byte(p.peeked)
		p.peeked = -1
		p.advance(b)
		return b, nil
	}
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, err
	}
	p.advance(b)
	return b, nil
}

func (p *parser) advance(b byte) {
	if b == '\n' {
		p.line++
		p.col = 0
	} else {
		p.col++
	}
}

func (p *parser) peek() (byte, error) {
	if p.peeked >= 0 {
		return byte(p.peeked), nil
	}
	b, err := p.r.ReadByte()
	if err != nil {
		return 0, err
	}
	p.peeked = int(b)
	return b, nil
}

func (p *parser) skipSpace() error {
	for {
		b, err := p.peek()
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
		if b != ' ' && b != '\t' && b != '\n' && b != '\r' {
			return nil
		}
		p.next()
	}
}

func (p *parser) expect(c byte) error {
	if err := p.skipSpace(); err != nil {
		return err
	}
	b, err := p.next()
	if err != nil {
		return p.errf("expected %q, got EOF", c)
	}
	if b != c {
		return p.errf("expected %q, got %q", c, b)
	}
	return nil
}

// parseValue parses any JSON value at the current position.
func (p *parser) parseValue() (jsonVal, error) {
	if err := p.skipSpace(); err != nil {
		return jsonVal{}, err
	}
	b, err := p.peek()
	if err != nil {
		return jsonVal{}, p.errf("unexpected end of input")
	}
	switch {
	case b == '[':
		return p.parseArray()
	case b == '{':
		return p.parseObject()
	case b == '"':
		s, err := p.parseString()
		if err != nil {
			return jsonVal{}, err
		}
		return jsonVal{kind: 's', str: s}, nil
	case b == 't' || b == 'f':
		return p.parseBool()
	case b == 'n':
		return p.parseNull()
	case b == '-' || (b >= '0' && b <= '9'):
		return p.parseNumber()
	default:
		return jsonVal{}, p.errf("unexpected character %q", b)
	}
}

func (p *parser) parseArray() (jsonVal, error) {
	if err := p.expect('['); err != nil {
		return jsonVal{}, err
	}
	var out []jsonVal
	if err := p.skipSpace(); err != nil {
		return jsonVal{}, err
	}
	b, err := p.peek()
	if err != nil {
		return jsonVal{}, p.errf("unterminated array")
	}
	if b == ']' {
		p.next()
		return jsonVal{kind: 'a', arr: out}, nil
	}
	for {
		v, err := p.parseValue()
		if err != nil {
			return jsonVal{}, err
		}
		out = append(out, v)
		if err := p.skipSpace(); err != nil {
			return jsonVal{}, err
		}
		b, err := p.next()
		if err != nil {
			return jsonVal{}, p.errf("unterminated array")
		}
		if b == ']' {
			return jsonVal{kind: 'a', arr: out}, nil
		}
		if b != ',' {
			return jsonVal{}, p.errf("expected ',' or ']', got %q", b)
		}
	}
}

func (p *parser) parseObject() (jsonVal, error) {
	if err := p.expect('{'); err != nil {
		return jsonVal{}, err
	}
	out := make(map[string]jsonVal)
	if err := p.skipSpace(); err != nil {
		return jsonVal{}, err
	}
	b, err := p.peek()
	if err != nil {
		return jsonVal{}, p.errf("unterminated object")
	}
	if b == '}' {
		p.next()
		return jsonVal{kind: 'o', obj: out}, nil
	}
	for {
		if err := p.skipSpace(); err != nil {
			return jsonVal{}, err
		}
		key, err := p.parseString()
		if err != nil {
			return jsonVal{}, err
		}
		if err := p.expect(':'); err != nil {
			return jsonVal{}, err
		}
		v, err := p.parseValue()
		if err != nil {
			return jsonVal{}, err
		}
		out[string(key)] = v

		if err := p.skipSpace(); err != nil {
			return jsonVal{}, err
		}
		b, err := p.next()
		if err != nil {
			return jsonVal{}, p.errf("unterminated object")
		}
		if b == '}' {
			return jsonVal{kind: 'o', obj: out}, nil
		}
		if b != ',' {
			return jsonVal{}, p.errf("expected ',' or '}', got %q", b)
		}
	}
}

func (p *parser) parseBool() (jsonVal, error) {
	if err := p.expectLiteral("true"); err == nil {
		return jsonVal{kind: 'b', b: true}, nil
	}
	if err := p.expectLiteral("false"); err == nil {
		return jsonVal{kind: 'b', b: false}, nil
	}
	return jsonVal{}, p.errf("invalid literal")
}

func (p *parser) parseNull() (jsonVal, error) {
	if err := p.expectLiteral("null"); err != nil {
		return jsonVal{}, err
	}
	return jsonVal{kind: 'z'}, nil
}

func (p *parser) expectLiteral(lit string) error {
	for i := 0; i < len(lit); i++ {
		b, err := p.next()
		if err != nil || b != lit[i] {
			return p.errf("invalid literal, expected %q", lit)
		}
	}
	return nil
}

func (p *parser) parseNumber() (jsonVal, error) {
	var buf []byte
	neg := false
	b, _ := p.peek()
	if b == '-' {
		neg = true
		c, _ := p.next()
		buf = append(buf, c)
	}
	isFloat := false
	for {
		b, err := p.peek()
		if err != nil {
			break
		}
		if b >= '0' && b <= '9' {
			c, _ := p.next()
			buf = append(buf, c)
			continue
		}
		if b == '.' || b == 'e' || b == 'E' || b == '+' || b == '-' {
			isFloat = true
			c, _ := p.next()
			buf = append(buf, c)
			continue
		}
		break
	}
	if isFloat {
		f, err := strconv.ParseFloat(string(buf), 64)
		if err != nil {
			return jsonVal{}, p.errf("invalid number %q", buf)
		}
		return jsonVal{kind: 'i', i: int64(f)}, nil
	}
	if neg {
		n, err := strconv.ParseInt(string(buf), 10, 64)
		if err != nil {
			return jsonVal{}, p.errf("invalid number %q", buf)
		}
		return jsonVal{kind: 'i', i: n}, nil
	}
	n, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		return jsonVal{}, p.errf("invalid number %q", buf)
	}
	return jsonVal{kind: 'u', u: n}, nil
}

// parseString decodes a quoted JSON string. \u00XX escapes decode to
// the single raw byte XX rather than a UTF-8-encoded code point, so
// that a name round-trips exactly through export/import even when it
// isn't valid UTF-8 (§8 invariant 7).
func (p *parser) parseString() ([]byte, error) {
	if err := p.expect('"'); err != nil {
		return nil, err
	}
	var out []byte
	for {
		b, err := p.next()
		if err != nil {
			return nil, p.errf("unterminated string")
		}
		if b == '"' {
			return out, nil
		}
		if b != '\\' {
			out = append(out, b)
			continue
		}
		esc, err := p.next()
		if err != nil {
			return nil, p.errf("unterminated escape")
		}
		switch esc {
		case '"':
			out = append(out, '"')
		case '\\':
			out = append(out, '\\')
		case '/':
			out = append(out, '/')
		case 'b':
			out = append(out, '\b')
		case 'f':
			out = append(out, '\f')
		case 'n':
			out = append(out, '\n')
		case 'r':
			out = append(out, '\r')
		case 't':
			out = append(out, '\t')
		case 'u':
			var hex [4]byte
			for i := range hex {
				c, err := p.next()
				if err != nil {
					return nil, p.errf("unterminated \\u escape")
				}
				hex[i] = c
			}
			cp, err := strconv.ParseUint(string(hex[:]), 16, 32)
			if err != nil {
				return nil, p.errf("invalid \\u escape")
			}
			if cp <= 0xff {
				out = append(out, byte(cp))
			} else {
				var rbuf [utf8.UTFMax]byte
				n := utf8.EncodeRune(rbuf[:], rune(cp))
				out = append(out, rbuf[:n]...)
			}
		default:
			return nil, p.errf("invalid escape %q", esc)
		}
	}
}

// Import parses a textual container from r, feeding its entries to
// backend exactly as a live scan would (per §4.H's import contract,
// applied here to the textual sibling of the binary codec).
func Import(r io.Reader, backend sink.Backend) (*sink.RefDir, Metadata, error) {
	p := newParser(r)
	top, err := p.parseValue()
	if err != nil {
		return nil, Metadata{}, err
	}
	if top.kind != 'a' || len(top.arr) < 4 {
		return nil, Metadata{}, fmt.Errorf("textfmt: top-level value must be a 4-element array")
	}
	if top.arr[0].kind != 'u' || top.arr[0].u != FormatMajor {
		return nil, Metadata{}, fmt.Errorf("textfmt: unsupported format major version")
	}

	meta := Metadata{}
	if progname, ok, err := top.arr[2].strField("progname"); err != nil {
		return nil, Metadata{}, err
	} else if ok {
		meta.ProgName = progname
	}
	if progver, ok, err := top.arr[2].strField("progver"); err != nil {
		return nil, Metadata{}, err
	} else if ok {
		meta.ProgVer = progver
	}
	if ts, ok, err := top.arr[2].sint("timestamp"); err != nil {
		return nil, Metadata{}, err
	} else if ok {
		meta.Timestamp = ts
	}

	rootVal := top.arr[3]
	if rootVal.kind != 'a' || len(rootVal.arr) < 1 {
		return nil, Metadata{}, fmt.Errorf("textfmt: root element must be a non-empty array")
	}

	thread := &sink.Thread{}
	rootFields := rootVal.arr[0]
	name, err := rootFields.nameField()
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("textfmt: root: %w", err)
	}
	asize, _, err := rootFields.uint(fieldASize)
	if err != nil {
		return nil, Metadata{}, err
	}
	dsize, _, err := rootFields.uint(fieldDSize)
	if err != nil {
		return nil, Metadata{}, err
	}
	rootDir := sink.NewRoot(backend, name, &sink.Stat{
		Kind: entry.KindDir, Size: asize, Blocks: dsize / 512, Ext: extFrom(rootFields),
	})
	if rderr, _, _ := rootFields.boolField(fieldReadError); rderr {
		rootDir.SetReadError()
	}

	for _, childVal := range rootVal.arr[1:] {
		if err := importChild(thread, rootDir, childVal); err != nil {
			rootDir.Unref()
			return nil, Metadata{}, err
		}
	}
	rootDir.Unref()
	return rootDir, meta, nil
}

func extFrom(v jsonVal) *entry.Ext {
	ext := &entry.Ext{}
	any := false
	if val, ok, _ := v.uint(fieldUID); ok {
		ext.UID, ext.HasUID, any = uint32(val), true, true
	}
	if val, ok, _ := v.uint(fieldGID); ok {
		ext.GID, ext.HasGID, any = uint32(val), true, true
	}
	if val, ok, _ := v.uint(fieldMode); ok {
		ext.Mode, ext.HasMode, any = uint32(val), true, true
	}
	if val, ok, _ := v.sint(fieldMTime); ok {
		ext.MTime, ext.HasMTime, any = val, true, true
	}
	if !any {
		return nil
	}
	return ext
}

// importChild feeds one child element (a leaf object or a nested
// dir-element array) into dir.
func importChild(t *sink.Thread, dir *sink.RefDir, v jsonVal) error {
	if v.kind == 'a' {
		if len(v.arr) < 1 {
			return fmt.Errorf("textfmt: nested dir element must be non-empty")
		}
		fields := v.arr[0]
		name, err := fields.nameField()
		if err != nil {
			return err
		}
		asize, _, err := fields.uint(fieldASize)
		if err != nil {
			return err
		}
		dsize, _, err := fields.uint(fieldDSize)
		if err != nil {
			return err
		}
		cd := dir.AddDir(t, name, &sink.Stat{Kind: entry.KindDir, Size: asize, Blocks: dsize / 512, Ext: extFrom(fields)})
		if rderr, _, _ := fields.boolField(fieldReadError); rderr {
			cd.SetReadError()
		}
		for _, c := range v.arr[1:] {
			if err := importChild(t, cd, c); err != nil {
				cd.Unref()
				return err
			}
		}
		cd.Unref()
		return nil
	}

	if v.kind != 'o' {
		return fmt.Errorf("textfmt: expected a leaf object or dir array")
	}

	name, err := v.nameField()
	if err != nil {
		return err
	}

	if excluded, ok, err := v.strField(fieldExcluded); err != nil {
		return err
	} else if ok {
		var sk entry.SpecialKind
		switch excluded {
		case excludedPattern:
			sk = entry.SpecialPattern
		case excludedOtherFS:
			sk = entry.SpecialOtherFS
		case excludedKernfs:
			sk = entry.SpecialKernfs
		case excludedFrmlnk:
			sk = entry.SpecialOtherFS
		default:
			return fmt.Errorf("textfmt: unknown excluded reason %q", excluded)
		}
		dir.AddSpecial(t, name, sk)
		return nil
	}
	if rderr, ok, err := v.boolField(fieldReadError); err != nil {
		return err
	} else if ok && rderr {
		dir.AddSpecial(t, name, entry.SpecialReadError)
		return nil
	}

	asize, _, err := v.uint(fieldASize)
	if err != nil {
		return err
	}
	dsize, _, err := v.uint(fieldDSize)
	if err != nil {
		return err
	}
	st := &sink.Stat{Size: asize, Blocks: dsize / 512, Ext: extFrom(v)}

	if hlnkc, ok, err := v.boolField(fieldHlnkc); err != nil {
		return err
	} else if ok && hlnkc {
		st.Kind = entry.KindLink
		if ino, ok, err := v.uint(fieldIno); err != nil {
			return err
		} else if ok {
			st.Inode = ino
		}
		// Older exports omit nlink; per §9 this is preserved behavior —
		// internal/hardlink falls back to ring length for nlink == 0.
		if nlink, ok, err := v.uint(fieldNlink); err != nil {
			return err
		} else if ok {
			st.Nlink = uint32(nlink)
		}
		dir.AddStat(t, name, st)
		return nil
	}

	if notreg, ok, err := v.boolField(fieldNotReg); err != nil {
		return err
	} else if ok && notreg {
		st.Kind = entry.KindNonReg
		dir.AddStat(t, name, st)
		return nil
	}

	st.Kind = entry.KindFile
	dir.AddStat(t, name, st)
	return nil
}
