package project

import (
	"strconv"
	"strings"

	"github.com/llir/llvm/ir/types"
	"github.com/pkg/errors"
)

// PointerBits is the pointer width the engine supports. Modules with a
// different pointer width in their data layout are rejected at load.
const PointerBits = 64

// DataLayout resolves type sizes, alignments and aggregate field
// offsets against a module data-layout string. Only little-endian
// layouts with 64-bit pointers and natural i64 alignment are accepted.
type DataLayout struct {
	raw string
}

// ParseDataLayout validates a module data-layout string.
func ParseDataLayout(raw string) (*DataLayout, error) {
	for _, spec := range strings.Split(raw, "-") {
		switch {
		case spec == "E":
			return nil, errors.Errorf("big-endian data layout not supported: %q", raw)
		case spec == "e", spec == "":
			// little-endian, fine
		case strings.HasPrefix(spec, "p"):
			if err := checkPointerSpec(spec); err != nil {
				return nil, errors.Wrapf(err, "data layout %q", raw)
			}
		case strings.HasPrefix(spec, "i64:"):
			if !strings.HasPrefix(spec, "i64:64") {
				return nil, errors.Errorf("i64 alignment must be 64 in %q", raw)
			}
		}
	}
	return &DataLayout{raw: raw}, nil
}

func checkPointerSpec(spec string) error {
	// p[n]:<size>:<abi>... — only address space 0 constrains us.
	fields := strings.Split(spec, ":")
	if fields[0] != "p" && fields[0] != "p0" {
		return nil
	}
	if len(fields) < 2 {
		return errors.Errorf("malformed pointer spec %q", spec)
	}
	size, err := strconv.Atoi(fields[1])
	if err != nil {
		return errors.Wrapf(err, "malformed pointer spec %q", spec)
	}
	if size != PointerBits {
		return errors.Errorf("pointer width %d not supported", size)
	}
	return nil
}

func (dl *DataLayout) String() string { return dl.raw }

func alignTo(offset, align uint64) uint64 {
	if align == 0 {
		return offset
	}
	return (offset + align - 1) / align * align
}

// SizeOf returns the in-memory size in bytes, including padding for
// aggregates. Arrays use the element allocation stride.
func (dl *DataLayout) SizeOf(t types.Type) (uint64, error) {
	switch t := t.(type) {
	case *types.IntType:
		return (t.BitSize + 7) / 8, nil
	case *types.PointerType:
		return PointerBits / 8, nil
	case *types.ArrayType:
		stride, err := dl.StrideOf(t.ElemType)
		if err != nil {
			return 0, err
		}
		return t.Len * stride, nil
	case *types.VectorType:
		elemSize, err := dl.SizeOf(t.ElemType)
		if err != nil {
			return 0, err
		}
		return t.Len * elemSize, nil
	case *types.StructType:
		size, _, err := dl.structLayout(t)
		return size, err
	case *types.VoidType:
		return 0, nil
	case *types.FloatType:
		return 0, errors.New("floating-point types not supported")
	default:
		return 0, errors.Errorf("size of %v not supported", t)
	}
}

// BitSizeOf returns the width of the bitvector representing a value of
// type t in a register: the exact bit width for integers and vectors of
// them, the in-memory size times eight for other types.
func (dl *DataLayout) BitSizeOf(t types.Type) (uint32, error) {
	if t, ok := t.(*types.IntType); ok {
		return uint32(t.BitSize), nil
	}
	if t, ok := t.(*types.VectorType); ok {
		elem, err := dl.BitSizeOf(t.ElemType)
		if err != nil {
			return 0, err
		}
		return uint32(t.Len) * elem, nil
	}
	size, err := dl.SizeOf(t)
	if err != nil {
		return 0, err
	}
	return uint32(size * 8), nil
}

// StrideOf is the distance between consecutive array elements: the size
// rounded up to the element alignment.
func (dl *DataLayout) StrideOf(t types.Type) (uint64, error) {
	size, err := dl.SizeOf(t)
	if err != nil {
		return 0, err
	}
	align, err := dl.AlignOf(t)
	if err != nil {
		return 0, err
	}
	return alignTo(size, align), nil
}

// AlignOf returns the ABI alignment in bytes.
func (dl *DataLayout) AlignOf(t types.Type) (uint64, error) {
	switch t := t.(type) {
	case *types.IntType:
		size := (t.BitSize + 7) / 8
		align := uint64(1)
		for align < size && align < 8 {
			align *= 2
		}
		return align, nil
	case *types.PointerType:
		return PointerBits / 8, nil
	case *types.ArrayType:
		return dl.AlignOf(t.ElemType)
	case *types.VectorType:
		size, err := dl.SizeOf(t)
		if err != nil {
			return 0, err
		}
		align := uint64(1)
		for align < size && align < 16 {
			align *= 2
		}
		return align, nil
	case *types.StructType:
		if t.Packed {
			return 1, nil
		}
		max := uint64(1)
		for _, field := range t.Fields {
			a, err := dl.AlignOf(field)
			if err != nil {
				return 0, err
			}
			if a > max {
				max = a
			}
		}
		return max, nil
	default:
		return 0, errors.Errorf("alignment of %v not supported", t)
	}
}

func (dl *DataLayout) structLayout(t *types.StructType) (uint64, []uint64, error) {
	offsets := make([]uint64, len(t.Fields))
	offset := uint64(0)
	for i, field := range t.Fields {
		size, err := dl.SizeOf(field)
		if err != nil {
			return 0, nil, err
		}
		if !t.Packed {
			align, err := dl.AlignOf(field)
			if err != nil {
				return 0, nil, err
			}
			offset = alignTo(offset, align)
		}
		offsets[i] = offset
		offset += size
	}
	if !t.Packed {
		align, err := dl.AlignOf(t)
		if err != nil {
			return 0, nil, err
		}
		offset = alignTo(offset, align)
	}
	return offset, offsets, nil
}

// FieldOffset returns the byte offset of struct field i.
func (dl *DataLayout) FieldOffset(t *types.StructType, i int) (uint64, error) {
	if i < 0 || i >= len(t.Fields) {
		return 0, errors.Errorf("struct field index %d out of range", i)
	}
	_, offsets, err := dl.structLayout(t)
	if err != nil {
		return 0, err
	}
	return offsets[i], nil
}

// OffsetOf folds an aggregate index path into a byte offset and the
// element type it lands on. Used by extractvalue/insertvalue, where all
// indices are constant.
func (dl *DataLayout) OffsetOf(t types.Type, indices []uint64) (uint64, types.Type, error) {
	offset := uint64(0)
	cur := t
	for _, idx := range indices {
		switch ct := cur.(type) {
		case *types.StructType:
			fieldOff, err := dl.FieldOffset(ct, int(idx))
			if err != nil {
				return 0, nil, err
			}
			offset += fieldOff
			cur = ct.Fields[idx]
		case *types.ArrayType:
			if idx >= ct.Len {
				return 0, nil, errors.Errorf("array index %d out of range %d", idx, ct.Len)
			}
			stride, err := dl.StrideOf(ct.ElemType)
			if err != nil {
				return 0, nil, err
			}
			offset += idx * stride
			cur = ct.ElemType
		case *types.VectorType:
			if idx >= ct.Len {
				return 0, nil, errors.Errorf("vector index %d out of range %d", idx, ct.Len)
			}
			elemSize, err := dl.SizeOf(ct.ElemType)
			if err != nil {
				return 0, nil, err
			}
			offset += idx * elemSize
			cur = ct.ElemType
		default:
			return 0, nil, errors.Errorf("cannot index into %v", cur)
		}
	}
	return offset, cur, nil
}
