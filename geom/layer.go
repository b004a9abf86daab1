package geom

import (
	"fmt"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/equivariant-ml/geomconv/tensor"
)

// LayerKey identifies a block of channels within a layer by tensor order
// and parity.
type LayerKey struct {
	K      int
	Parity int
}

// Layer is a collection of same-grid geometric image channels grouped by
// (tensor order, parity). Each block has shape
// (channels,) + (N,)*D + (D,)*k, so channels of the same type stay
// contiguous for convolution and vectorization.
type Layer struct {
	d       int
	isTorus bool
	blocks  map[LayerKey]*tensor.Dense
}

// NewLayer returns an empty layer for dimension d.
func NewLayer(d int, isTorus bool) *Layer {
	return &Layer{d: d, isTorus: isTorus, blocks: make(map[LayerKey]*tensor.Dense)}
}

// LayerFromImages groups images sharing a grid into a layer, one channel
// per image, preserving input order within each (k, parity) block.
func LayerFromImages(images []*GeometricImage) (*Layer, error) {
	if len(images) == 0 {
		return nil, fmt.Errorf("cannot build a layer from zero images")
	}
	first := images[0]
	layer := NewLayer(first.d, first.isTorus)
	for i, img := range images {
		if img.d != first.d || img.n != first.n || img.isTorus != first.isTorus {
			return nil, fmt.Errorf("image %d (%v) does not share a grid with %v", i, img, first)
		}
		layer.AppendImage(img)
	}
	return layer, nil
}

// D returns the image dimension.
func (l *Layer) D() int { return l.d }

// IsTorus reports whether the grid wraps around.
func (l *Layer) IsTorus() bool { return l.isTorus }

// Empty reports whether the layer has no blocks.
func (l *Layer) Empty() bool { return len(l.blocks) == 0 }

// N returns the grid side length, or 0 for an empty layer.
func (l *Layer) N() int {
	for _, block := range l.blocks {
		return block.Shape()[1]
	}
	return 0
}

// Keys returns the layer keys sorted by tensor order then parity.
func (l *Layer) Keys() []LayerKey {
	keys := make([]LayerKey, 0, len(l.blocks))
	for key := range l.blocks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].K != keys[j].K {
			return keys[i].K < keys[j].K
		}
		return keys[i].Parity < keys[j].Parity
	})
	return keys
}

// Block returns the channel block for a key, or nil if absent. The
// returned tensor is not a copy.
func (l *Layer) Block(key LayerKey) *tensor.Dense {
	return l.blocks[key]
}

// Channels returns the number of channels stored under a key.
func (l *Layer) Channels(key LayerKey) int {
	block, ok := l.blocks[key]
	if !ok {
		return 0
	}
	return block.Shape()[0]
}

// Copy returns a deep copy of the layer.
func (l *Layer) Copy() *Layer {
	out := NewLayer(l.d, l.isTorus)
	for key, block := range l.blocks {
		out.blocks[key] = block.Clone()
	}
	return out
}

func (l *Layer) String() string {
	return fmt.Sprintf("<layer in D=%d with N=%d, torus=%v, %d blocks>", l.d, l.N(), l.isTorus, len(l.blocks))
}

func (l *Layer) validateBlock(key LayerKey, data *tensor.Dense) {
	shape := data.Shape()
	want := 1 + l.d + key.K
	if len(shape) != want {
		panic(fmt.Sprintf("geom: block for %v must have %d axes, got %v", key, want, shape))
	}
	n := shape[1]
	for i := 1; i <= l.d; i++ {
		if shape[i] != n {
			panic(fmt.Sprintf("geom: block grid axes must be square, got %v", shape))
		}
	}
	for i := 1 + l.d; i < len(shape); i++ {
		if shape[i] != l.d {
			panic(fmt.Sprintf("geom: block tensor axes must have size %d, got %v", l.d, shape))
		}
	}
	if !l.Empty() && n != l.N() {
		panic(fmt.Sprintf("geom: block side %d does not match layer side %d", n, l.N()))
	}
}

// Append adds channels under a key, concatenating with any existing block
// along the channel axis. The data must carry a leading channel axis.
func (l *Layer) Append(key LayerKey, data *tensor.Dense) {
	l.validateBlock(key, data)
	if existing, ok := l.blocks[key]; ok {
		l.blocks[key] = tensor.Concat(0, existing, data)
	} else {
		l.blocks[key] = data.Clone()
	}
}

// AppendImage adds a single image as one channel of its (k, parity) block.
func (l *Layer) AppendImage(img *GeometricImage) {
	if img.d != l.d || img.isTorus != l.isTorus {
		panic(fmt.Sprintf("geom: image %v does not fit layer %v", img, l))
	}
	data := img.data.Reshape(tensor.Shape{1}.Concat(img.data.Shape()))
	l.Append(LayerKey{K: img.k, Parity: img.parity}, data)
}

// Merge appends every block of the other layer into this one and returns
// the receiver.
func (l *Layer) Merge(other *Layer) *Layer {
	if other.d != l.d || other.isTorus != l.isTorus {
		panic(fmt.Sprintf("geom: cannot merge %v into %v", other, l))
	}
	for _, key := range other.Keys() {
		l.Append(key, other.blocks[key])
	}
	return l
}

// Concat returns a new layer holding the channels of both layers.
func (l *Layer) Concat(other *Layer) *Layer {
	return l.Copy().Merge(other)
}

// Add returns the block-wise sum; both layers must have identical keys and
// block shapes.
func (l *Layer) Add(other *Layer) *Layer {
	if len(l.blocks) != len(other.blocks) {
		panic(fmt.Sprintf("geom: cannot add %v and %v", l, other))
	}
	out := NewLayer(l.d, l.isTorus)
	for key, block := range l.blocks {
		otherBlock, ok := other.blocks[key]
		if !ok {
			panic(fmt.Sprintf("geom: layer missing block %v", key))
		}
		out.blocks[key] = block.Add(otherBlock)
	}
	return out
}

// Scale multiplies every block by a scalar.
func (l *Layer) Scale(s float64) *Layer {
	out := NewLayer(l.d, l.isTorus)
	for key, block := range l.blocks {
		out.blocks[key] = block.Scale(s)
	}
	return out
}

// Size returns the total number of scalar components across all blocks.
func (l *Layer) Size() int {
	size := 0
	for _, block := range l.blocks {
		size += block.NumElements()
	}
	return size
}

// ToImages unpacks every channel into a standalone geometric image, in
// sorted key order.
func (l *Layer) ToImages() []*GeometricImage {
	var images []*GeometricImage
	for _, key := range l.Keys() {
		block := l.blocks[key]
		for c := 0; c < block.Shape()[0]; c++ {
			img, err := NewGeometricImage(sliceLeading(block, c), key.Parity, l.d, l.isTorus)
			if err != nil {
				panic(err)
			}
			images = append(images, img)
		}
	}
	return images
}

// ToVector flattens the layer into a single vector, blocks in sorted key
// order. FromVector inverts it given a layer of the same block structure.
func (l *Layer) ToVector() []float64 {
	out := make([]float64, 0, l.Size())
	for _, key := range l.Keys() {
		out = append(out, l.blocks[key].Data()...)
	}
	return out
}

// FromVector rebuilds a layer with this layer's block structure from a
// flat vector produced by ToVector.
func (l *Layer) FromVector(vec []float64) *Layer {
	if len(vec) != l.Size() {
		panic(fmt.Sprintf("geom: vector length %d does not match layer size %d", len(vec), l.Size()))
	}
	out := NewLayer(l.d, l.isTorus)
	offset := 0
	for _, key := range l.Keys() {
		block := l.blocks[key]
		n := block.NumElements()
		rebuilt, err := tensor.NewDense(block.Shape().Clone(), vec[offset:offset+n])
		if err != nil {
			panic(err)
		}
		out.blocks[key] = rebuilt
		offset += n
	}
	return out
}

// TimesGroupElement applies a group element to every channel of every
// block.
func (l *Layer) TimesGroupElement(g mat.Matrix) *Layer {
	out := NewLayer(l.d, l.isTorus)
	for key, block := range l.blocks {
		channels := block.Shape()[0]
		parts := make([]*tensor.Dense, channels)
		for c := 0; c < channels; c++ {
			moved := TimesGroupElement(l.d, sliceLeading(block, c), key.Parity, g)
			parts[c] = moved.Reshape(tensor.Shape{1}.Concat(moved.Shape()))
		}
		out.blocks[key] = tensor.Concat(0, parts...)
	}
	return out
}

// Equal reports whether both layers hold the same blocks within
// DefaultTol.
func (l *Layer) Equal(other *Layer) bool {
	if l.d != other.d || l.isTorus != other.isTorus || len(l.blocks) != len(other.blocks) {
		return false
	}
	for key, block := range l.blocks {
		otherBlock, ok := other.blocks[key]
		if !ok || !tensor.AllClose(block, otherBlock, DefaultTol) {
			return false
		}
	}
	return true
}

// BatchLayer is a layer whose blocks carry a leading batch axis:
// (batch, channels) + (N,)*D + (D,)*k.
type BatchLayer struct {
	d       int
	isTorus bool
	blocks  map[LayerKey]*tensor.Dense
}

// NewBatchLayer returns an empty batch layer for dimension d.
func NewBatchLayer(d int, isTorus bool) *BatchLayer {
	return &BatchLayer{d: d, isTorus: isTorus, blocks: make(map[LayerKey]*tensor.Dense)}
}

// BatchFromLayers stacks layers with identical block structure into a
// batch layer.
func BatchFromLayers(layers []*Layer) (*BatchLayer, error) {
	if len(layers) == 0 {
		return nil, fmt.Errorf("cannot batch zero layers")
	}
	first := layers[0]
	out := NewBatchLayer(first.d, first.isTorus)
	for _, key := range first.Keys() {
		parts := make([]*tensor.Dense, len(layers))
		for i, layer := range layers {
			block, ok := layer.blocks[key]
			if !ok {
				return nil, fmt.Errorf("layer %d missing block %v", i, key)
			}
			if !block.Shape().Equal(first.blocks[key].Shape()) {
				return nil, fmt.Errorf("layer %d block %v shape %v does not match %v",
					i, key, block.Shape(), first.blocks[key].Shape())
			}
			parts[i] = block.Reshape(tensor.Shape{1}.Concat(block.Shape()))
		}
		out.blocks[key] = tensor.Concat(0, parts...)
	}
	for i, layer := range layers {
		if len(layer.blocks) != len(first.blocks) {
			return nil, fmt.Errorf("layer %d has %d blocks, want %d", i, len(layer.blocks), len(first.blocks))
		}
	}
	return out, nil
}

// D returns the image dimension.
func (b *BatchLayer) D() int { return b.d }

// IsTorus reports whether the grid wraps around.
func (b *BatchLayer) IsTorus() bool { return b.isTorus }

// L returns the batch size, or 0 for an empty batch layer.
func (b *BatchLayer) L() int {
	for _, block := range b.blocks {
		return block.Shape()[0]
	}
	return 0
}

// Keys returns the layer keys sorted by tensor order then parity.
func (b *BatchLayer) Keys() []LayerKey {
	keys := make([]LayerKey, 0, len(b.blocks))
	for key := range b.blocks {
		keys = append(keys, key)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].K != keys[j].K {
			return keys[i].K < keys[j].K
		}
		return keys[i].Parity < keys[j].Parity
	})
	return keys
}

// Block returns the batched channel block for a key, or nil if absent.
func (b *BatchLayer) Block(key LayerKey) *tensor.Dense {
	return b.blocks[key]
}

func (b *BatchLayer) String() string {
	return fmt.Sprintf("<batch layer in D=%d with L=%d, torus=%v, %d blocks>", b.d, b.L(), b.isTorus, len(b.blocks))
}

// Layer extracts batch element i as a standalone layer.
func (b *BatchLayer) Layer(i int) *Layer {
	out := NewLayer(b.d, b.isTorus)
	for key, block := range b.blocks {
		out.blocks[key] = sliceLeading(block, i)
	}
	return out
}

// ToLayers unpacks the batch into individual layers.
func (b *BatchLayer) ToLayers() []*Layer {
	layers := make([]*Layer, b.L())
	for i := range layers {
		layers[i] = b.Layer(i)
	}
	return layers
}

// GetSubset returns a batch layer holding the selected batch elements in
// the given order.
func (b *BatchLayer) GetSubset(indices []int) *BatchLayer {
	if len(indices) == 0 {
		panic("geom: batch subset needs at least one index")
	}
	out := NewBatchLayer(b.d, b.isTorus)
	for key, block := range b.blocks {
		parts := make([]*tensor.Dense, len(indices))
		for j, i := range indices {
			slice := sliceLeading(block, i)
			parts[j] = slice.Reshape(tensor.Shape{1}.Concat(slice.Shape()))
		}
		out.blocks[key] = tensor.Concat(0, parts...)
	}
	return out
}

// TimesGroupElement applies a group element to every channel of every
// batch element.
func (b *BatchLayer) TimesGroupElement(g mat.Matrix) *BatchLayer {
	out := NewBatchLayer(b.d, b.isTorus)
	for key, block := range b.blocks {
		batches := block.Shape()[0]
		parts := make([]*tensor.Dense, batches)
		for i := 0; i < batches; i++ {
			layerBlock := sliceLeading(block, i)
			channels := layerBlock.Shape()[0]
			chParts := make([]*tensor.Dense, channels)
			for c := 0; c < channels; c++ {
				moved := TimesGroupElement(b.d, sliceLeading(layerBlock, c), key.Parity, g)
				chParts[c] = moved.Reshape(tensor.Shape{1}.Concat(moved.Shape()))
			}
			stacked := tensor.Concat(0, chParts...)
			parts[i] = stacked.Reshape(tensor.Shape{1}.Concat(stacked.Shape()))
		}
		out.blocks[key] = tensor.Concat(0, parts...)
	}
	return out
}

// Equal reports whether both batch layers hold the same blocks within
// DefaultTol.
func (b *BatchLayer) Equal(other *BatchLayer) bool {
	if b.d != other.d || b.isTorus != other.isTorus || len(b.blocks) != len(other.blocks) {
		return false
	}
	for key, block := range b.blocks {
		otherBlock, ok := other.blocks[key]
		if !ok || !tensor.AllClose(block, otherBlock, DefaultTol) {
			return false
		}
	}
	return true
}
