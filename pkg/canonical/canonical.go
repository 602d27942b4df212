// Package canonical produces the byte form that every digest and signature in the
// engine is computed over: JSON with sorted keys, no insignificant whitespace and
// NFC-normalised strings.
//
// Decision bundles use the strict form, which admits integers only. Documents
// signed through the generic sign and verify endpoints use the decimal form,
// which renders every number as its shortest exact decimal (27.50, 2.75e1 and
// 27.5 all encode as 27.5).
package canonical

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrFloatNotAllowed  = errors.New("non-integer numbers are not allowed; encode them as strings")
	ErrNonStringMapKey  = errors.New("map keys must be strings")
	ErrUnsupportedType  = errors.New("unsupported type for canonicalization")
	ErrKeyCollision     = errors.New("normalized map key collision")
	ErrNumberOutOfRange = errors.New("number exponent out of range")
)

const maxDecimalExponent = 400

// Marshal encodes v with encoding/json (so struct tags and custom marshalers
// apply) and then re-encodes the result canonically.
func Marshal(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return FromJSON(raw)
}

// FromJSON canonicalizes an arbitrary JSON document in the strict form.
func FromJSON(raw []byte) ([]byte, error) {
	return fromJSON(raw, encoder{})
}

// FromJSONDecimal canonicalizes an arbitrary JSON document, keeping non-integer
// numbers in their shortest exact decimal form.
func FromJSONDecimal(raw []byte) ([]byte, error) {
	return fromJSON(raw, encoder{decimals: true})
}

func fromJSON(raw []byte, enc encoder) ([]byte, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var doc any
	if err := dec.Decode(&doc); err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := enc.writeValue(&buf, doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Canonicalize encodes an already-decoded value (maps, slices, strings, bools,
// integers, json.Number) in the strict form. Null map members are dropped.
func Canonicalize(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := (encoder{}).writeValue(&buf, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DigestHex returns the lowercase hex SHA-256 of data.
func DigestHex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type encoder struct {
	decimals bool
}

type mapEntry struct {
	key   string
	value any
}

func (e encoder) writeValue(buf *bytes.Buffer, v any) error {
	if v == nil {
		buf.WriteString("null")
		return nil
	}
	if n, ok := v.(json.Number); ok {
		return e.writeNumber(buf, n)
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Interface || rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			buf.WriteString("null")
			return nil
		}
		rv = rv.Elem()
	}

	switch rv.Kind() {
	case reflect.String:
		return writeString(buf, rv.String())
	case reflect.Bool:
		buf.WriteString(strconv.FormatBool(rv.Bool()))
		return nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		buf.WriteString(strconv.FormatInt(rv.Int(), 10))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		buf.WriteString(strconv.FormatUint(rv.Uint(), 10))
		return nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if !e.decimals {
			return ErrFloatNotAllowed
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrUnsupportedType
		}
		buf.WriteString(decimal.NewFromFloat(f).String())
		return nil
	case reflect.Map:
		return e.writeMap(buf, rv)
	case reflect.Slice, reflect.Array:
		return e.writeSlice(buf, rv)
	default:
		return ErrUnsupportedType
	}
}

func writeString(buf *bytes.Buffer, s string) error {
	encoded, err := json.Marshal(norm.NFC.String(s))
	if err != nil {
		return err
	}
	buf.Write(encoded)
	return nil
}

func (e encoder) writeNumber(buf *bytes.Buffer, n json.Number) error {
	if e.decimals {
		d, err := decimal.NewFromString(n.String())
		if err != nil {
			return err
		}
		// the rendering is positional, so the exponent bounds its length
		if exp := d.Exponent(); exp > maxDecimalExponent || exp < -maxDecimalExponent {
			return ErrNumberOutOfRange
		}
		buf.WriteString(d.String())
		return nil
	}
	if strings.ContainsAny(n.String(), ".eE") {
		return ErrFloatNotAllowed
	}
	value, err := strconv.ParseInt(n.String(), 10, 64)
	if err != nil {
		return ErrFloatNotAllowed
	}
	buf.WriteString(strconv.FormatInt(value, 10))
	return nil
}

func (e encoder) writeMap(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.Type().Key().Kind() != reflect.String {
		return ErrNonStringMapKey
	}

	entries := make([]mapEntry, 0, rv.Len())
	seen := make(map[string]struct{}, rv.Len())
	for _, key := range rv.MapKeys() {
		k := norm.NFC.String(key.String())
		if _, ok := seen[k]; ok {
			return ErrKeyCollision
		}
		seen[k] = struct{}{}

		val := rv.MapIndex(key).Interface()
		if isNil(val) {
			continue
		}
		entries = append(entries, mapEntry{key: k, value: val})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	buf.WriteByte('{')
	for i, entry := range entries {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeString(buf, entry.key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := e.writeValue(buf, entry.value); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}

func (e encoder) writeSlice(buf *bytes.Buffer, rv reflect.Value) error {
	if rv.Kind() == reflect.Slice && rv.IsNil() {
		buf.WriteString("[]")
		return nil
	}
	buf.WriteByte('[')
	for i := 0; i < rv.Len(); i++ {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := e.writeValue(buf, rv.Index(i).Interface()); err != nil {
			return err
		}
	}
	buf.WriteByte(']')
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Interface, reflect.Pointer, reflect.Map, reflect.Slice:
		return rv.IsNil()
	default:
		return false
	}
}
