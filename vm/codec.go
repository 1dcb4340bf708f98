package vm

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// ScriptFormatVersion is bumped on incompatible changes to the opcode
// set or Script layout.
const ScriptFormatVersion = 2

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

type scriptFile struct {
	Version int     `cbor:"1,keyasint"`
	Script  *Script `cbor:"2,keyasint"`
}

// MarshalScript serializes a compiled script to CBOR.
func MarshalScript(s *Script) ([]byte, error) {
	return cborEncMode.Marshal(scriptFile{Version: ScriptFormatVersion, Script: s})
}

// UnmarshalScript deserializes a script written by MarshalScript.
func UnmarshalScript(data []byte) (*Script, error) {
	var f scriptFile
	if err := cbor.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("vm: unmarshal script: %w", err)
	}
	if f.Version != ScriptFormatVersion {
		return nil, fmt.Errorf("vm: script format version %d, want %d", f.Version, ScriptFormatVersion)
	}
	if f.Script == nil {
		return nil, fmt.Errorf("vm: unmarshal script: missing body")
	}
	return f.Script, nil
}

// ---------------------------------------------------------------------------
// Datum encoding
// ---------------------------------------------------------------------------

// datumWire is the CBOR shape of a Datum.
type datumWire struct {
	Kind Kind    `cbor:"1,keyasint"`
	I    int64   `cbor:"2,keyasint,omitempty"`
	F    float64 `cbor:"3,keyasint,omitempty"`
	S    string  `cbor:"4,keyasint,omitempty"`
	Arr  []Datum `cbor:"5,keyasint,omitempty"`
}

// MarshalCBOR implements cbor.Marshaler.
func (d Datum) MarshalCBOR() ([]byte, error) {
	return cborEncMode.Marshal(datumWire{Kind: d.kind, I: d.i, F: d.f, S: d.s, Arr: d.arr})
}

// UnmarshalCBOR implements cbor.Unmarshaler.
func (d *Datum) UnmarshalCBOR(data []byte) error {
	var w datumWire
	if err := cbor.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.Kind > KindArray {
		return fmt.Errorf("vm: unknown datum kind %d", w.Kind)
	}
	*d = Datum{kind: w.Kind, i: w.I, f: w.F, s: w.S}
	if w.Kind == KindArray {
		d.arr = w.Arr
		if d.arr == nil {
			d.arr = []Datum{}
		}
	}
	return nil
}

// MarshalDatum serializes d to CBOR.
func MarshalDatum(d Datum) ([]byte, error) {
	return cborEncMode.Marshal(d)
}

// UnmarshalDatum deserializes a value written by MarshalDatum.
func UnmarshalDatum(data []byte) (Datum, error) {
	var d Datum
	if err := cbor.Unmarshal(data, &d); err != nil {
		return Void, fmt.Errorf("vm: unmarshal datum: %w", err)
	}
	return d, nil
}
