package ml

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
)

// Artifact layout (little-endian):
//
//	magic "CFIF" | version u8 | nEstimators u32 | subsample u32 |
//	contamination f64 | threshold f64 |
//	per tree: node count u32, then the preorder node stream
//	node: feature i32 (-1 = leaf); internal nodes append split f64
//
// The layout is position-independent so an artifact trained on one host
// scores bit-identically after a round trip on any other.

var artifactMagic = [4]byte{'C', 'F', 'I', 'F'}

const artifactVersion = 1

var (
	// ErrBadArtifact marks a model blob that is not a valid forest artifact.
	ErrBadArtifact = errors.New("ml: invalid model artifact")
)

// Marshal serializes the trained forest into its binary artifact form.
func (f *Forest) Marshal() ([]byte, error) {
	if len(f.trees) == 0 {
		return nil, errors.New("ml: cannot marshal an untrained forest")
	}

	var buf bytes.Buffer
	buf.Write(artifactMagic[:])
	buf.WriteByte(artifactVersion)

	writeU32(&buf, uint32(f.NEstimators))
	writeU32(&buf, uint32(f.SubsampleSize))
	writeF64(&buf, f.Contamination)
	writeF64(&buf, f.Threshold)

	for i := range f.trees {
		nodes := countNodes(f.trees[i].root)
		writeU32(&buf, uint32(nodes))
		writeNode(&buf, f.trees[i].root)
	}
	return buf.Bytes(), nil
}

// Unmarshal reconstructs a forest from its binary artifact form.
func Unmarshal(data []byte) (*Forest, error) {
	r := bytes.NewReader(data)

	var magic [4]byte
	if _, err := r.Read(magic[:]); err != nil || magic != artifactMagic {
		return nil, ErrBadArtifact
	}
	version, err := r.ReadByte()
	if err != nil {
		return nil, ErrBadArtifact
	}
	if version != artifactVersion {
		return nil, fmt.Errorf("ml: unsupported artifact version %d", version)
	}

	f := &Forest{}
	var nEst, sub uint32
	if err := readU32(r, &nEst); err != nil {
		return nil, ErrBadArtifact
	}
	if err := readU32(r, &sub); err != nil {
		return nil, ErrBadArtifact
	}
	if err := readF64(r, &f.Contamination); err != nil {
		return nil, ErrBadArtifact
	}
	if err := readF64(r, &f.Threshold); err != nil {
		return nil, ErrBadArtifact
	}
	f.NEstimators = int(nEst)
	f.SubsampleSize = int(sub)

	f.trees = make([]isoTree, f.NEstimators)
	for i := 0; i < f.NEstimators; i++ {
		var count uint32
		if err := readU32(r, &count); err != nil {
			return nil, ErrBadArtifact
		}
		remaining := int(count)
		root, err := readNode(r, &remaining)
		if err != nil {
			return nil, err
		}
		if remaining != 0 {
			return nil, ErrBadArtifact
		}
		f.trees[i] = isoTree{root: root}
	}
	return f, nil
}

func countNodes(n *treeNode) int {
	if n == nil {
		return 0
	}
	if n.isLeaf() {
		return 1
	}
	return 1 + countNodes(n.Left) + countNodes(n.Right)
}

func writeNode(buf *bytes.Buffer, n *treeNode) {
	var feat [4]byte
	binary.LittleEndian.PutUint32(feat[:], uint32(n.Feature))
	buf.Write(feat[:])
	if n.isLeaf() {
		return
	}
	writeF64(buf, n.Split)
	writeNode(buf, n.Left)
	writeNode(buf, n.Right)
}

func readNode(r *bytes.Reader, remaining *int) (*treeNode, error) {
	if *remaining <= 0 {
		return nil, ErrBadArtifact
	}
	*remaining--

	var feat [4]byte
	if _, err := r.Read(feat[:]); err != nil {
		return nil, ErrBadArtifact
	}
	n := &treeNode{Feature: int32(binary.LittleEndian.Uint32(feat[:]))}
	if n.isLeaf() {
		return n, nil
	}
	if err := readF64(r, &n.Split); err != nil {
		return nil, ErrBadArtifact
	}
	var err error
	if n.Left, err = readNode(r, remaining); err != nil {
		return nil, err
	}
	if n.Right, err = readNode(r, remaining); err != nil {
		return nil, err
	}
	return n, nil
}

func writeU32(buf *bytes.Buffer, v uint32) {
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], v)
	buf.Write(b[:])
}

func writeF64(buf *bytes.Buffer, v float64) {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], math.Float64bits(v))
	buf.Write(b[:])
}

func readU32(r *bytes.Reader, out *uint32) error {
	var b [4]byte
	if _, err := r.Read(b[:]); err != nil {
		return err
	}
	*out = binary.LittleEndian.Uint32(b[:])
	return nil
}

func readF64(r *bytes.Reader, out *float64) error {
	var b [8]byte
	if _, err := r.Read(b[:]); err != nil {
		return err
	}
	*out = math.Float64frombits(binary.LittleEndian.Uint64(b[:]))
	return nil
}
