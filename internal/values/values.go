// Package values implements the repository's typed scalar Value and the
// conversions between the declared property types of spec §3.
package values

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"

	"github.com/coralrepo/coral/internal/ids"
	"github.com/coralrepo/coral/internal/repoerr"
)

// Type is one of the property types a PropertyState may declare.
type Type int

const (
	Undefined Type = iota
	String
	Binary
	Long
	Double
	Boolean
	Date
	Name
	Path
	Reference
)

func (t Type) String() string {
	switch t {
	case String:
		return "STRING"
	case Binary:
		return "BINARY"
	case Long:
		return "LONG"
	case Double:
		return "DOUBLE"
	case Boolean:
		return "BOOLEAN"
	case Date:
		return "DATE"
	case Name:
		return "NAME"
	case Path:
		return "PATH"
	case Reference:
		return "REFERENCE"
	default:
		return "UNDEFINED"
	}
}

func (t Type) MarshalJSON() ([]byte, error) {
	return []byte(`"` + t.String() + `"`), nil
}

func (t *Type) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	parsed, err := ParseType(s)
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// ParseType maps a type name (as it appears in a node-type definition file)
// back to a Type, failing with ValueFormat if unrecognized.
func ParseType(s string) (Type, error) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "STRING":
		return String, nil
	case "BINARY":
		return Binary, nil
	case "LONG":
		return Long, nil
	case "DOUBLE":
		return Double, nil
	case "BOOLEAN":
		return Boolean, nil
	case "DATE":
		return Date, nil
	case "NAME":
		return Name, nil
	case "PATH":
		return Path, nil
	case "REFERENCE":
		return Reference, nil
	case "UNDEFINED", "":
		return Undefined, nil
	default:
		return Undefined, repoerr.New(repoerr.ValueFormat, "unknown property type %q", s)
	}
}

// BlobRef is an opaque handle to binary data held outside the value itself,
// in the blob substore of the persistent store (spec §6).
type BlobRef struct {
	ID   string
	Size int64
}

// Value is a typed scalar. Exactly one of the fields below is meaningful,
// selected by Type.
type Value struct {
	typ  Type
	str  string
	num  int64
	dbl  float64
	bl   bool
	when time.Time
	ref  ids.NodeId
	blob BlobRef
	data []byte // inline binary, present when small enough not to spill
}

func (v Value) Type() Type { return v.typ }

func NewString(s string) Value    { return Value{typ: String, str: s} }
func NewLong(n int64) Value       { return Value{typ: Long, num: n} }
func NewDouble(f float64) Value   { return Value{typ: Double, dbl: f} }
func NewBoolean(b bool) Value     { return Value{typ: Boolean, bl: b} }
func NewDate(t time.Time) Value   { return Value{typ: Date, when: t} }
func NewName(qn ids.QualifiedName) Value { return Value{typ: Name, str: qn.String()} }
func NewPath(p string) Value      { return Value{typ: Path, str: p} }
func NewReference(n ids.NodeId) Value { return Value{typ: Reference, ref: n} }
func NewBinaryInline(b []byte) Value  { return Value{typ: Binary, data: append([]byte(nil), b...)} }
func NewBinaryRef(ref BlobRef) Value  { return Value{typ: Binary, blob: ref} }

func (v Value) String() string     { return v.str }
func (v Value) Long() int64        { return v.num }
func (v Value) Double() float64    { return v.dbl }
func (v Value) Boolean() bool      { return v.bl }
func (v Value) Date() time.Time    { return v.when }
func (v Value) Reference() ids.NodeId { return v.ref }
func (v Value) BinaryRef() (BlobRef, bool) {
	if v.blob.ID != "" {
		return v.blob, true
	}
	return BlobRef{}, false
}
func (v Value) BinaryInline() []byte { return v.data }

// dateParser lazily builds the natural-language fallback parser used for
// default-value strings such as "now" declared in node-type definitions.
// Strict RFC3339 is always tried first; this only kicks in for the handful
// of human-friendly forms a node-type author might write by hand.
var dateParser = func() *when.Parser {
	w := when.New(nil)
	w.Add(en.All...)
	w.Add(common.All...)
	return w
}()

// ConvertTo coerces v to the target type, per the ValueFormat rules of
// spec §7. A value already of the target type is returned unchanged.
func ConvertTo(v Value, target Type) (Value, error) {
	if target == Undefined || v.typ == target {
		return v, nil
	}
	switch target {
	case String:
		return NewString(v.asString()), nil
	case Long:
		switch v.typ {
		case String:
			n, err := strconv.ParseInt(strings.TrimSpace(v.str), 10, 64)
			if err != nil {
				return Value{}, repoerr.Wrap(repoerr.ValueFormat, err, "cannot convert %q to LONG", v.str)
			}
			return NewLong(n), nil
		case Double:
			return NewLong(int64(v.dbl)), nil
		case Boolean:
			if v.bl {
				return NewLong(1), nil
			}
			return NewLong(0), nil
		}
	case Double:
		switch v.typ {
		case String:
			f, err := strconv.ParseFloat(strings.TrimSpace(v.str), 64)
			if err != nil {
				return Value{}, repoerr.Wrap(repoerr.ValueFormat, err, "cannot convert %q to DOUBLE", v.str)
			}
			return NewDouble(f), nil
		case Long:
			return NewDouble(float64(v.num)), nil
		}
	case Boolean:
		switch v.typ {
		case String:
			return NewBoolean(strings.EqualFold(strings.TrimSpace(v.str), "true")), nil
		}
	case Date:
		switch v.typ {
		case String:
			return parseDate(v.str)
		}
	case Name:
		if v.typ == String {
			return Value{typ: Name, str: v.str}, nil
		}
	case Path:
		if v.typ == String {
			return Value{typ: Path, str: v.str}, nil
		}
	case Reference:
		// No lossless STRING->REFERENCE conversion: the target node's
		// existence and referenceability must be checked by the caller
		// (the operation layer), not by this package.
	}
	return Value{}, repoerr.New(repoerr.ValueFormat, "cannot convert %s to %s", v.typ, target)
}

func parseDate(s string) (Value, error) {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return NewDate(t), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return NewDate(t), nil
	}
	res, err := dateParser.Parse(s, time.Now())
	if err != nil || res == nil {
		return Value{}, repoerr.New(repoerr.ValueFormat, "cannot convert %q to DATE", s)
	}
	return NewDate(res.Time), nil
}

func (v Value) asString() string {
	switch v.typ {
	case String, Name, Path:
		return v.str
	case Long:
		return strconv.FormatInt(v.num, 10)
	case Double:
		return strconv.FormatFloat(v.dbl, 'g', -1, 64)
	case Boolean:
		return strconv.FormatBool(v.bl)
	case Date:
		return v.when.Format(time.RFC3339Nano)
	case Reference:
		return v.ref.String()
	case Binary:
		if ref, ok := v.BinaryRef(); ok {
			return fmt.Sprintf("<binary:%s>", ref.ID)
		}
		return fmt.Sprintf("<binary:%d bytes>", len(v.data))
	default:
		return ""
	}
}

// Equal reports whether two values are of the same type and carry the same
// payload; used to collapse no-op SetPropertyValue calls (spec §8).
func Equal(a, b Value) bool {
	if a.typ != b.typ {
		return false
	}
	switch a.typ {
	case String, Name, Path:
		return a.str == b.str
	case Long:
		return a.num == b.num
	case Double:
		return a.dbl == b.dbl
	case Boolean:
		return a.bl == b.bl
	case Date:
		return a.when.Equal(b.when)
	case Reference:
		return a.ref == b.ref
	case Binary:
		ar, aok := a.BinaryRef()
		br, bok := b.BinaryRef()
		if aok != bok {
			return false
		}
		if aok {
			return ar == br
		}
		return string(a.data) == string(b.data)
	default:
		return true
	}
}
