package textfmt

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"unicode/utf8"

	"github.com/lumipallolabs/godu/internal/entry"
)

// Options configures Export.
type Options struct {
	// Extended includes uid/gid/mode/mtime fields when an entry carries
	// them (the CLI's -e flag).
	Extended bool
	Meta     Metadata
}

// jw is the low-level streaming JSON writer this package hand-rolls
// instead of encoding/json, so that name bytes can be emitted with the
// byte-valued \u00XX escapes §6 requires for non-UTF-8 names.
type jw struct {
	w     *bufio.Writer
	depth []bool
	err   error
}

func newJW(w io.Writer) *jw { return &jw{w: bufio.NewWriter(w)} }

func (j *jw) raw(s string) {
	if j.err != nil {
		return
	}
	_, j.err = j.w.WriteString(s)
}

func (j *jw) sep() {
	n := len(j.depth)
	if n == 0 {
		return
	}
	if j.depth[n-1] {
		j.raw(",")
	}
	j.depth[n-1] = true
}

func (j *jw) beginArray() { j.sep(); j.raw("["); j.depth = append(j.depth, false) }
func (j *jw) endArray()   { j.depth = j.depth[:len(j.depth)-1]; j.raw("]") }
func (j *jw) beginObject() { j.sep(); j.raw("{"); j.depth = append(j.depth, false) }
func (j *jw) endObject()   { j.depth = j.depth[:len(j.depth)-1]; j.raw("}") }

func (j *jw) key(name string) {
	n := len(j.depth)
	if n > 0 {
		if j.depth[n-1] {
			j.raw(",")
		}
		j.depth[n-1] = true
	}
	j.raw(`"`)
	j.raw(name)
	j.raw(`":`)
}

func (j *jw) rawValue(s string) { j.sep(); j.raw(s) }

func (j *jw) uintField(key string, v uint64) {
	j.key(key)
	j.raw(strconv.FormatUint(v, 10))
}

func (j *jw) intField(key string, v int64) {
	j.key(key)
	j.raw(strconv.FormatInt(v, 10))
}

func (j *jw) boolField(key string, v bool) {
	j.key(key)
	if v {
		j.raw("true")
	} else {
		j.raw("false")
	}
}

func (j *jw) strField(key, v string) {
	j.key(key)
	j.writeQuotedString([]byte(v))
}

func (j *jw) nameField(key string, v []byte) {
	j.key(key)
	j.writeQuotedString(v)
}

// writeQuotedString emits v as a quoted JSON string. Bytes that don't
// begin a valid UTF-8 rune are emitted as byte-valued \u00XX escapes
// per §6; everything else is copied through verbatim or given its
// standard JSON escape.
func (j *jw) writeQuotedString(v []byte) {
	j.raw(`"`)
	for len(v) > 0 {
		r, size := utf8.DecodeRune(v)
		if r == utf8.RuneError && size <= 1 {
			j.raw(fmt.Sprintf(`\u%04x`, v[0]))
			v = v[1:]
			continue
		}
		switch r {
		case '"':
			j.raw(`\"`)
		case '\\':
			j.raw(`\\`)
		case '\n':
			j.raw(`\n`)
		case '\r':
			j.raw(`\r`)
		case '\t':
			j.raw(`\t`)
		default:
			if r < 0x20 {
				j.raw(fmt.Sprintf(`\u%04x`, r))
			} else {
				if j.err == nil {
					_, j.err = j.w.Write(v[:size])
				}
			}
		}
		v = v[size:]
	}
	j.raw(`"`)
}

// Export writes root's subtree as a textual container to out, per §6's
// `[1, 2, {metadata}, <root-dir-element>]` array shape.
func Export(root *entry.Entry, out io.Writer, opts Options) error {
	if root.Kind != entry.KindDir {
		return fmt.Errorf("textfmt: export root must be a directory")
	}
	j := newJW(out)
	j.beginArray()
	j.rawValue(strconv.Itoa(FormatMajor))
	j.rawValue(strconv.Itoa(FormatMinor))

	j.beginObject()
	j.strField("progname", orDefault(opts.Meta.ProgName, "godu"))
	j.strField("progver", orDefault(opts.Meta.ProgVer, "1.0"))
	j.intField("timestamp", opts.Meta.Timestamp)
	j.endObject()

	writeDir(j, root, opts)
	j.endArray()

	if j.err != nil {
		return j.err
	}
	return j.w.Flush()
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}

// writeDir emits e (a Dir) as a dir-element: `[ {own fields}, <child>, ... ]`.
func writeDir(j *jw, e *entry.Entry, opts Options) {
	j.beginArray()

	j.beginObject()
	j.nameField(fieldName, e.Name)
	j.uintField(fieldASize, e.Dir.OwnSize)
	j.uintField(fieldDSize, e.Dir.OwnBlocks*512)
	if e.Dir.Err {
		j.boolField(fieldReadError, true)
	}
	writeExt(j, e, opts)
	j.endObject()

	for _, c := range e.Dir.Children {
		writeEntry(j, c, opts)
	}

	j.endArray()
}

// writeEntry emits a non-root entry: a nested dir-element for
// directories, or a leaf object for everything else.
func writeEntry(j *jw, e *entry.Entry, opts Options) {
	if e.Kind == entry.KindDir {
		writeDir(j, e, opts)
		return
	}

	j.beginObject()
	j.nameField(fieldName, e.Name)

	switch e.Kind {
	case entry.KindSpecial:
		switch e.SpecialKind {
		case entry.SpecialReadError:
			j.boolField(fieldReadError, true)
		case entry.SpecialPattern:
			j.strField(fieldExcluded, excludedPattern)
		case entry.SpecialOtherFS:
			j.strField(fieldExcluded, excludedOtherFS)
		case entry.SpecialKernfs:
			j.strField(fieldExcluded, excludedKernfs)
		}
	case entry.KindNonReg:
		j.uintField(fieldASize, e.Size)
		j.uintField(fieldDSize, e.Blocks*512)
		j.boolField(fieldNotReg, true)
	case entry.KindLink:
		j.uintField(fieldASize, e.Size)
		j.uintField(fieldDSize, e.Blocks*512)
		j.uintField(fieldIno, e.Inode)
		j.boolField(fieldHlnkc, true)
		j.uintField(fieldNlink, uint64(e.Nlink))
	default: // KindFile
		j.uintField(fieldASize, e.Size)
		j.uintField(fieldDSize, e.Blocks*512)
	}

	writeExt(j, e, opts)
	j.endObject()
}

func writeExt(j *jw, e *entry.Entry, opts Options) {
	if !opts.Extended || e.Ext == nil {
		return
	}
	if e.Ext.HasUID {
		j.uintField(fieldUID, uint64(e.Ext.UID))
	}
	if e.Ext.HasGID {
		j.uintField(fieldGID, uint64(e.Ext.GID))
	}
	if e.Ext.HasMode {
		j.uintField(fieldMode, uint64(e.Ext.Mode))
	}
	if e.Ext.HasMTime {
		j.intField(fieldMTime, e.Ext.MTime)
	}
}
