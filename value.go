package axmlparser

import (
	"fmt"
	"strconv"

	"github.com/pkg/errors"
)

// ValueType says how the Data of a ResValue is to be read.
type ValueType uint8

const (
	// Data is 0 (undefined) or 1 (empty).
	ValueNull ValueType = 0x00
	// Data is a reference to another resource table entry.
	ValueReference ValueType = 0x01
	// Data is an attribute resource identifier.
	ValueAttribute ValueType = 0x02
	// Data is an index into the global value string pool.
	ValueString ValueType = 0x03
	ValueFloat  ValueType = 0x04
	// Data is a complex number encoding a dimension, such as "100in".
	ValueDimension ValueType = 0x05
	// Data is a complex number encoding a fraction of a container.
	ValueFraction ValueType = 0x06
	// Like ValueReference/ValueAttribute, but must be resolved at runtime first.
	ValueDynamicReference ValueType = 0x07
	ValueDynamicAttribute ValueType = 0x08

	ValueIntDec     ValueType = 0x10
	ValueIntHex     ValueType = 0x11
	ValueIntBoolean ValueType = 0x12

	ValueIntColorArgb8 ValueType = 0x1c
	ValueIntColorRgb8  ValueType = 0x1d
	ValueIntColorArgb4 ValueType = 0x1e
	ValueIntColorRgb4  ValueType = 0x1f
)

var valueTypeNames = map[ValueType]string{
	ValueNull:             "null",
	ValueReference:        "reference",
	ValueAttribute:        "attribute",
	ValueString:           "string",
	ValueFloat:            "float",
	ValueDimension:        "dimension",
	ValueFraction:         "fraction",
	ValueDynamicReference: "dynamic-reference",
	ValueDynamicAttribute: "dynamic-attribute",
	ValueIntDec:           "int-decimal",
	ValueIntHex:           "int-hex",
	ValueIntBoolean:       "int-boolean",
	ValueIntColorArgb8:    "int-color-argb8",
	ValueIntColorRgb8:     "int-color-rgb8",
	ValueIntColorArgb4:    "int-color-argb4",
	ValueIntColorRgb4:     "int-color-rgb4",
}

// valueTypeFromByte never fails: the record has the same size whatever the
// kind, so an unknown kind is read as null.
func valueTypeFromByte(b uint8) ValueType {
	t := ValueType(b)
	if _, ok := valueTypeNames[t]; !ok {
		return ValueNull
	}
	return t
}

func (t ValueType) String() string {
	if name, ok := valueTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

const resValueSize = 8

// ResValue is the typed value record used by attributes and resource entries.
type ResValue struct {
	Size     uint16
	Res0     uint8
	DataType ValueType
	Data     uint32
}

func readResValue(c *cursor) (v ResValue, err error) {
	var raw struct {
		Size     uint16
		Res0     uint8
		DataType uint8
		Data     uint32
	}

	off := c.pos()
	if err = c.readStruct(&raw); err != nil {
		return
	}

	if raw.Res0 != 0 {
		err = errors.Wrapf(ErrInvariantViolation, "value at 0x%08x: res0 is 0x%02x", off, raw.Res0)
		return
	}

	v = ResValue{
		Size:     raw.Size,
		Res0:     raw.Res0,
		DataType: valueTypeFromByte(raw.DataType),
		Data:     raw.Data,
	}
	return
}

// Format renders the value the way it appears in a decoded attribute. ok is
// false for the kinds that are not rendered yet.
func (v ResValue) Format() (s string, ok bool) {
	switch v.DataType {
	case ValueIntDec:
		return strconv.FormatUint(uint64(v.Data), 10), true
	case ValueIntHex:
		return fmt.Sprintf("0x%x", v.Data), true
	case ValueIntBoolean:
		return strconv.FormatBool(v.Data != 0), true
	case ValueReference:
		return "type1/" + strconv.FormatUint(uint64(v.Data), 10), true
	}
	return "", false
}

// String is Format with a visible marker for kinds Format does not handle.
func (v ResValue) String() string {
	if s, ok := v.Format(); ok {
		return s
	}
	return fmt.Sprintf("(unhandled %s 0x%08x)", v.DataType, v.Data)
}
