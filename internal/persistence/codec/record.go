package codec

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"reflect"

	"github.com/oriumgames/nbt"
)

// Record is the stored form of one chunk. A record without Data is the scalar form: every cell is
// Value. Otherwise Data holds 4096 ids packed at len(Data)/512 bits; when Local is present those
// ids index Local, which lists global ids in first-seen order.
//
// On disk the compound carries paletteVersion (TAG_Int) and data, which is a TAG_Int for the
// scalar form and a TAG_Byte_Array for the packed form. The optional local tag is a
// TAG_Byte_Array of big-endian int32 global ids.
type Record struct {
	PaletteVersion int32
	Value          int32
	Data           []byte
	Local          []int32
}

func (r Record) Scalar() bool { return len(r.Data) == 0 }

// Width returns the bit width of a packed record.
func (r Record) Width() (int, error) {
	if len(r.Data)%bytesPerBit != 0 {
		return 0, fmt.Errorf("%w: data length %d is not a multiple of %d", ErrMalformed, len(r.Data), bytesPerBit)
	}
	w := len(r.Data) / bytesPerBit
	if w < 1 || w > 32 {
		return 0, fmt.Errorf("%w: bit width %d", ErrMalformed, w)
	}
	return w, nil
}

// wireRecord fixes the tag order of an encoded record. Data and Local hold an int32 or a
// fixed-size byte array so the encoder picks TAG_Int or TAG_Byte_Array.
type wireRecord struct {
	PaletteVersion int32 `nbt:"paletteVersion"`
	Data           any   `nbt:"data"`
	Local          any   `nbt:"local,omitempty"`
}

// Marshal encodes r as a big-endian NBT compound.
func Marshal(r Record) ([]byte, error) {
	w := wireRecord{PaletteVersion: r.PaletteVersion, Data: r.Value}
	if !r.Scalar() {
		w.Data = byteArray(r.Data)
		if len(r.Local) > 0 {
			raw := make([]byte, 4*len(r.Local))
			for i, g := range r.Local {
				binary.BigEndian.PutUint32(raw[4*i:], uint32(g))
			}
			w.Local = byteArray(raw)
		}
	}
	var buf bytes.Buffer
	if err := nbt.NewEncoderWithEncoding(&buf, nbt.BigEndian).Encode(w); err != nil {
		return nil, fmt.Errorf("encode chunk record: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes a record, choosing the scalar or packed form by the type of the data tag.
func Unmarshal(doc []byte) (Record, error) {
	var m map[string]any
	if err := nbt.NewDecoderWithEncoding(bytes.NewReader(doc), nbt.BigEndian).Decode(&m); err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	var r Record
	pv, ok := m["paletteVersion"].(int32)
	if !ok {
		return Record{}, fmt.Errorf("%w: paletteVersion is %T, want TAG_Int", ErrMalformed, m["paletteVersion"])
	}
	r.PaletteVersion = pv

	switch d := m["data"].(type) {
	case int32:
		r.Value = d
		if _, ok := m["local"]; ok {
			return Record{}, fmt.Errorf("%w: scalar record carries a local table", ErrMalformed)
		}
		return r, nil
	case nil:
		return Record{}, fmt.Errorf("%w: missing data tag", ErrMalformed)
	default:
		b, ok := bytesOf(d)
		if !ok {
			return Record{}, fmt.Errorf("%w: data is %T, want TAG_Int or TAG_Byte_Array", ErrMalformed, d)
		}
		r.Data = b
	}

	if l, present := m["local"]; present {
		raw, ok := bytesOf(l)
		if !ok {
			return Record{}, fmt.Errorf("%w: local is %T, want TAG_Byte_Array", ErrMalformed, l)
		}
		if len(raw)%4 != 0 {
			return Record{}, fmt.Errorf("%w: local length %d is not a multiple of 4", ErrMalformed, len(raw))
		}
		r.Local = make([]int32, len(raw)/4)
		for i := range r.Local {
			r.Local[i] = int32(binary.BigEndian.Uint32(raw[4*i:]))
		}
	}
	return r, nil
}

// byteArray copies b into a [len(b)]byte value, the Go shape nbt writes as TAG_Byte_Array.
func byteArray(b []byte) any {
	v := reflect.New(reflect.ArrayOf(len(b), reflect.TypeOf(byte(0)))).Elem()
	reflect.Copy(v, reflect.ValueOf(b))
	return v.Interface()
}

// bytesOf unwraps a decoded TAG_Byte_Array.
func bytesOf(v any) ([]byte, bool) {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Array || rv.Type().Elem().Kind() != reflect.Uint8 {
		return nil, false
	}
	b := make([]byte, rv.Len())
	reflect.Copy(reflect.ValueOf(b), rv)
	return b, true
}
