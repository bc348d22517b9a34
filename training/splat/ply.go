package splat

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"
)

type scalarType int

const (
	typeInt8 scalarType = iota
	typeUint8
	typeInt16
	typeUint16
	typeInt32
	typeUint32
	typeFloat32
	typeFloat64
)

var scalarTypes = map[string]scalarType{
	"char": typeInt8, "int8": typeInt8,
	"uchar": typeUint8, "uint8": typeUint8,
	"short": typeInt16, "int16": typeInt16,
	"ushort": typeUint16, "uint16": typeUint16,
	"int": typeInt32, "int32": typeInt32,
	"uint": typeUint32, "uint32": typeUint32,
	"float": typeFloat32, "float32": typeFloat32,
	"double": typeFloat64, "float64": typeFloat64,
}

func (t scalarType) size() int {
	switch t {
	case typeInt8, typeUint8:
		return 1
	case typeInt16, typeUint16:
		return 2
	case typeInt32, typeUint32, typeFloat32:
		return 4
	default:
		return 8
	}
}

// Property is one scalar column of a PLY element
type Property struct {
	Name   string
	Offset int
	typ    scalarType
}

// Element is a PLY element block such as "vertex"
type Element struct {
	Name       string
	Count      int
	Properties []Property
	Stride     int
}

// Property returns the named column, if present
func (e *Element) Property(name string) (Property, bool) {
	for _, p := range e.Properties {
		if p.Name == name {
			return p, true
		}
	}
	return Property{}, false
}

// Header is a parsed binary PLY header
type Header struct {
	Order    binary.ByteOrder
	Elements []Element
}

// ReadHeader parses the header up to end_header. Only binary formats with
// scalar properties are accepted.
func ReadHeader(r *bufio.Reader) (*Header, error) {
	magic, err := readLine(r)
	if err != nil {
		return nil, err
	}
	if magic != "ply" {
		return nil, fmt.Errorf("not a PLY file")
	}

	h := &Header{}
	var current *Element
	for {
		line, err := readLine(r)
		if err != nil {
			return nil, fmt.Errorf("truncated PLY header: %w", err)
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}

		switch fields[0] {
		case "comment", "obj_info":
		case "format":
			if len(fields) < 2 {
				return nil, fmt.Errorf("malformed format line %q", line)
			}
			switch fields[1] {
			case "binary_little_endian":
				h.Order = binary.LittleEndian
			case "binary_big_endian":
				h.Order = binary.BigEndian
			default:
				return nil, fmt.Errorf("unsupported PLY format %q", fields[1])
			}
		case "element":
			if len(fields) != 3 {
				return nil, fmt.Errorf("malformed element line %q", line)
			}
			count, err := strconv.Atoi(fields[2])
			if err != nil || count < 0 {
				return nil, fmt.Errorf("invalid element count %q", fields[2])
			}
			h.Elements = append(h.Elements, Element{Name: fields[1], Count: count})
			current = &h.Elements[len(h.Elements)-1]
		case "property":
			if current == nil {
				return nil, fmt.Errorf("property before element")
			}
			if len(fields) != 3 {
				return nil, fmt.Errorf("unsupported property %q", line)
			}
			typ, ok := scalarTypes[fields[1]]
			if !ok {
				return nil, fmt.Errorf("unsupported property type %q", fields[1])
			}
			current.Properties = append(current.Properties, Property{Name: fields[2], Offset: current.Stride, typ: typ})
			current.Stride += typ.size()
		case "end_header":
			if h.Order == nil {
				return nil, fmt.Errorf("PLY header has no format line")
			}
			return h, nil
		default:
			return nil, fmt.Errorf("unexpected header line %q", line)
		}
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// decode reads one scalar at p.Offset within row as float64
func (p Property) decode(row []byte, order binary.ByteOrder) float64 {
	b := row[p.Offset:]
	switch p.typ {
	case typeInt8:
		return float64(int8(b[0]))
	case typeUint8:
		return float64(b[0])
	case typeInt16:
		return float64(int16(order.Uint16(b)))
	case typeUint16:
		return float64(order.Uint16(b))
	case typeInt32:
		return float64(int32(order.Uint32(b)))
	case typeUint32:
		return float64(order.Uint32(b))
	case typeFloat32:
		return float64(math.Float32frombits(order.Uint32(b)))
	default:
		return math.Float64frombits(order.Uint64(b))
	}
}

// skipElement discards the body of an element that precedes the vertices
func skipElement(r io.Reader, e Element) error {
	_, err := io.CopyN(io.Discard, r, int64(e.Count)*int64(e.Stride))
	return err
}
