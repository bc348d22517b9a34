// Package splat converts gaussian-splat PLY exports into the compact
// .splat format the browser viewer streams.
package splat

import (
	"bufio"
	_ "embed"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"sort"
)

// RecordSize is the size of one encoded splat
const RecordSize = 32

// shC0 is the zeroth-order spherical harmonic constant
const shC0 = 0.28209479177387814

// maxPrealloc bounds the slice reserved from a header vertex count
const maxPrealloc = 1 << 20

// HelperScript is the standalone python converter copied to the instance
// when conversion runs remotely.
//
//go:embed scripts/ply_to_splat.py
var HelperScript []byte

var requiredProperties = []string{
	"x", "y", "z",
	"scale_0", "scale_1", "scale_2",
	"f_dc_0", "f_dc_1", "f_dc_2",
	"opacity",
	"rot_0", "rot_1", "rot_2", "rot_3",
}

// Gaussian holds the fields of one vertex needed for encoding
type Gaussian struct {
	Position [3]float32
	Scale    [3]float32 // log scale, as exported
	DC       [3]float32
	Opacity  float32 // logit
	Rotation [4]float32
}

// importance orders splats largest and most opaque first. It is computed
// in float64 like ply_to_splat.py so both convert modes agree on order.
func (g Gaussian) importance() float64 {
	size := math.Exp(float64(g.Scale[0]) + float64(g.Scale[1]) + float64(g.Scale[2]))
	return size / (1 + math.Exp(-float64(g.Opacity)))
}

// Encode writes the 32-byte record for g into dst
func (g Gaussian) Encode(dst []byte) {
	for i := 0; i < 3; i++ {
		binary.LittleEndian.PutUint32(dst[i*4:], math.Float32bits(g.Position[i]))
		scale := float32(math.Exp(float64(g.Scale[i])))
		binary.LittleEndian.PutUint32(dst[12+i*4:], math.Float32bits(scale))
		dst[24+i] = toByte((0.5 + shC0*float64(g.DC[i])) * 255)
	}
	alpha := 1 / (1 + math.Exp(-float64(g.Opacity)))
	dst[27] = toByte(alpha * 255)

	var norm float64
	for _, q := range g.Rotation {
		norm += float64(q) * float64(q)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		// Degenerate rotation: encode the identity quaternion.
		dst[28], dst[29], dst[30], dst[31] = 255, 128, 128, 128
		return
	}
	for i, q := range g.Rotation {
		dst[28+i] = toByte(float64(q)/norm*128 + 128)
	}
}

func toByte(v float64) uint8 {
	switch {
	case math.IsNaN(v) || v <= 0:
		return 0
	case v >= 255:
		return 255
	default:
		return uint8(v)
	}
}

// ReadGaussians parses the vertex element of a binary PLY stream
func ReadGaussians(r io.Reader) ([]Gaussian, error) {
	br := bufio.NewReaderSize(r, 1<<20)
	header, err := ReadHeader(br)
	if err != nil {
		return nil, err
	}

	var vertex *Element
	for i := range header.Elements {
		if header.Elements[i].Name == "vertex" {
			vertex = &header.Elements[i]
			break
		}
		if err := skipElement(br, header.Elements[i]); err != nil {
			return nil, fmt.Errorf("failed to skip %s element: %w", header.Elements[i].Name, err)
		}
	}
	if vertex == nil {
		return nil, fmt.Errorf("PLY has no vertex element")
	}

	props := make([]Property, len(requiredProperties))
	for i, name := range requiredProperties {
		p, ok := vertex.Property(name)
		if !ok {
			return nil, fmt.Errorf("vertex element is missing property %q", name)
		}
		props[i] = p
	}

	// The header count is untrusted; grow as rows actually arrive.
	gaussians := make([]Gaussian, 0, min(vertex.Count, maxPrealloc))
	row := make([]byte, vertex.Stride)
	v := make([]float32, len(props))
	for n := 0; n < vertex.Count; n++ {
		if _, err := io.ReadFull(br, row); err != nil {
			return nil, fmt.Errorf("vertex %d of %d: %w", n, vertex.Count, err)
		}
		for i, p := range props {
			v[i] = float32(p.decode(row, header.Order))
		}
		gaussians = append(gaussians, Gaussian{
			Position: [3]float32{v[0], v[1], v[2]},
			Scale:    [3]float32{v[3], v[4], v[5]},
			DC:       [3]float32{v[6], v[7], v[8]},
			Opacity:  v[9],
			Rotation: [4]float32{v[10], v[11], v[12], v[13]},
		})
	}
	return gaussians, nil
}

// Sort orders gaussians by descending importance
func Sort(gaussians []Gaussian) {
	keys := make([]float64, len(gaussians))
	idx := make([]int, len(gaussians))
	for i, g := range gaussians {
		keys[i] = g.importance()
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return keys[idx[a]] > keys[idx[b]] })

	sorted := make([]Gaussian, len(gaussians))
	for i, j := range idx {
		sorted[i] = gaussians[j]
	}
	copy(gaussians, sorted)
}

// Convert reads a PLY from r and writes the sorted .splat encoding to w.
// It returns the number of splats written.
func Convert(r io.Reader, w io.Writer) (int, error) {
	gaussians, err := ReadGaussians(r)
	if err != nil {
		return 0, err
	}
	Sort(gaussians)

	bw := bufio.NewWriterSize(w, 1<<20)
	var rec [RecordSize]byte
	for _, g := range gaussians {
		g.Encode(rec[:])
		if _, err := bw.Write(rec[:]); err != nil {
			return 0, fmt.Errorf("failed to write splat: %w", err)
		}
	}
	if err := bw.Flush(); err != nil {
		return 0, fmt.Errorf("failed to write splat: %w", err)
	}
	return len(gaussians), nil
}
