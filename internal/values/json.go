package values

import (
	"encoding/json"
	"encoding/base64"
	"time"

	"github.com/coralrepo/coral/internal/ids"
)

// wireValue is the JSON-serializable shadow of Value, used by the sqlite
// store to persist property values without exposing Value's internals.
type wireValue struct {
	Type   string    `json:"type"`
	Str    string    `json:"str,omitempty"`
	Num    int64     `json:"num,omitempty"`
	Dbl    float64   `json:"dbl,omitempty"`
	Bool   bool      `json:"bool,omitempty"`
	When   time.Time `json:"when,omitempty"`
	Ref    string    `json:"ref,omitempty"`
	BlobID string    `json:"blob_id,omitempty"`
	Size   int64     `json:"size,omitempty"`
	Data   string    `json:"data,omitempty"` // base64, only for small inline binaries
}

func (v Value) MarshalJSON() ([]byte, error) {
	w := wireValue{Type: v.typ.String()}
	switch v.typ {
	case String, Name, Path:
		w.Str = v.str
	case Long:
		w.Num = v.num
	case Double:
		w.Dbl = v.dbl
	case Boolean:
		w.Bool = v.bl
	case Date:
		w.When = v.when
	case Reference:
		w.Ref = v.ref.String()
	case Binary:
		if ref, ok := v.BinaryRef(); ok {
			w.BlobID = ref.ID
			w.Size = ref.Size
		} else {
			w.Data = base64.StdEncoding.EncodeToString(v.data)
		}
	}
	return json.Marshal(w)
}

func (v *Value) UnmarshalJSON(b []byte) error {
	var w wireValue
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t, err := ParseType(w.Type)
	if err != nil {
		return err
	}
	switch t {
	case String, Name, Path:
		*v = Value{typ: t, str: w.Str}
	case Long:
		*v = NewLong(w.Num)
	case Double:
		*v = NewDouble(w.Dbl)
	case Boolean:
		*v = NewBoolean(w.Bool)
	case Date:
		*v = NewDate(w.When)
	case Reference:
		n, err := ids.ParseNodeId(w.Ref)
		if err != nil {
			return err
		}
		*v = NewReference(n)
	case Binary:
		if w.BlobID != "" {
			*v = NewBinaryRef(BlobRef{ID: w.BlobID, Size: w.Size})
		} else {
			data, err := base64.StdEncoding.DecodeString(w.Data)
			if err != nil {
				return err
			}
			*v = NewBinaryInline(data)
		}
	default:
		*v = Value{typ: Undefined}
	}
	return nil
}
