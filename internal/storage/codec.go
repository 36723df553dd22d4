package storage

import (
	"encoding/binary"
	"fmt"
)

// EncodeEntry serializes an entry.
//
// Format:
//
//	[dnLen:4][dn][attrCount:4]
//	  [nameLen:2][name][valueCount:4]
//	    [valueLen:4][value]...
//
// Integers are little-endian. Attributes are written in name order so equal
// entries encode to equal bytes.
func EncodeEntry(e *Entry) ([]byte, error) {
	if e == nil {
		return nil, fmt.Errorf("%w: nil entry", ErrCorrupt)
	}

	names := e.AttributeNames()
	size := 4 + len(e.DN) + 4
	for _, name := range names {
		if len(name) > 0xFFFF {
			return nil, fmt.Errorf("storage: attribute name too long: %d bytes", len(name))
		}
		size += 2 + len(name) + 4
		for _, v := range e.Attributes[name] {
			size += 4 + len(v)
		}
	}

	buf := make([]byte, size)
	offset := 0

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(e.DN)))
	offset += 4
	offset += copy(buf[offset:], e.DN)

	binary.LittleEndian.PutUint32(buf[offset:], uint32(len(names)))
	offset += 4

	for _, name := range names {
		values := e.Attributes[name]
		binary.LittleEndian.PutUint16(buf[offset:], uint16(len(name)))
		offset += 2
		offset += copy(buf[offset:], name)

		binary.LittleEndian.PutUint32(buf[offset:], uint32(len(values)))
		offset += 4

		for _, v := range values {
			binary.LittleEndian.PutUint32(buf[offset:], uint32(len(v)))
			offset += 4
			offset += copy(buf[offset:], v)
		}
	}

	return buf, nil
}

// DecodeEntry deserializes an entry written by EncodeEntry. Values are
// copied out of data.
func DecodeEntry(data []byte) (*Entry, error) {
	d := decoder{data: data}

	dnLen, err := d.uint32()
	if err != nil {
		return nil, err
	}
	dnBytes, err := d.bytes(int(dnLen))
	if err != nil {
		return nil, err
	}

	attrCount, err := d.uint32()
	if err != nil {
		return nil, err
	}

	e := &Entry{
		DN:         string(dnBytes),
		Attributes: make(map[string][][]byte, attrCount),
	}

	for i := uint32(0); i < attrCount; i++ {
		nameLen, err := d.uint16()
		if err != nil {
			return nil, err
		}
		name, err := d.bytes(int(nameLen))
		if err != nil {
			return nil, err
		}
		valueCount, err := d.uint32()
		if err != nil {
			return nil, err
		}
		if int(valueCount) > d.remaining()/4 {
			return nil, fmt.Errorf("%w: value count %d exceeds record", ErrCorrupt, valueCount)
		}

		values := make([][]byte, 0, valueCount)
		for j := uint32(0); j < valueCount; j++ {
			valueLen, err := d.uint32()
			if err != nil {
				return nil, err
			}
			v, err := d.bytes(int(valueLen))
			if err != nil {
				return nil, err
			}
			value := make([]byte, len(v))
			copy(value, v)
			values = append(values, value)
		}
		e.Attributes[string(name)] = values
	}

	if d.remaining() != 0 {
		return nil, fmt.Errorf("%w: %d trailing bytes", ErrCorrupt, d.remaining())
	}
	return e, nil
}

type decoder struct {
	data   []byte
	offset int
}

func (d *decoder) remaining() int {
	return len(d.data) - d.offset
}

func (d *decoder) bytes(n int) ([]byte, error) {
	if n < 0 || n > d.remaining() {
		return nil, fmt.Errorf("%w: truncated at offset %d", ErrCorrupt, d.offset)
	}
	b := d.data[d.offset : d.offset+n]
	d.offset += n
	return b, nil
}

func (d *decoder) uint32() (uint32, error) {
	b, err := d.bytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (d *decoder) uint16() (uint16, error) {
	b, err := d.bytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}
