// Package textfmt implements the textual (JSON) persistence format of
// §6: a human-readable export/import sink paired with the binary
// container of internal/binfmt.
//
// Grounded on spec.md §6 directly — no pack repo carries a JSON dump
// format of its own — but the hand-rolled scanner/writer pair follows
// internal/binfmt's precedent of not reaching for a library where the
// wire format has a requirement (byte-valued \u00XX escaping of
// non-UTF-8 names) the standard library's encoding/json cannot express:
// json.Marshal silently replaces invalid UTF-8 with U+FFFD rather than
// emitting the byte-escaped form §8 invariant 7 requires to round-trip.
package textfmt

// FormatMajor and FormatMinor are the leading two integers of every
// exported array, per §6: `[1, 2, {metadata}, <root>]`.
const (
	FormatMajor = 1
	FormatMinor = 2
)

// Metadata is the third element of the exported array.
type Metadata struct {
	ProgName  string
	ProgVer   string
	Timestamp int64
}

// Field keys used by both writer and reader.
const (
	fieldName       = "name"
	fieldASize      = "asize"
	fieldDSize      = "dsize"
	fieldIno        = "ino"
	fieldHlnkc      = "hlnkc"
	fieldNlink      = "nlink"
	fieldNotReg     = "notreg"
	fieldReadError  = "read_error"
	fieldExcluded   = "excluded"
	fieldUID        = "uid"
	fieldGID        = "gid"
	fieldMode       = "mode"
	fieldMTime      = "mtime"
)

const (
	excludedPattern = "pattern"
	excludedOtherFS = "otherfs"
	excludedKernfs  = "kernfs"
	excludedFrmlnk  = "frmlnk"
)
