package geom

import (
	"fmt"

	"github.com/equivariant-ml/geomconv/tensor"
)

// PadMode selects how the convolution pads its input.
type PadMode int

// Padding modes. PadDefault resolves to PadTorus when the image lives on
// the torus and PadSame otherwise.
const (
	PadDefault PadMode = iota
	PadTorus
	PadValid
	PadSame
	PadExplicit
)

// ConvOptions carries the optional convolution parameters. The zero value
// (or a nil pointer) means stride 1, no dilation, and PadDefault.
type ConvOptions struct {
	Stride      []int // per-dimension stride, defaults to all 1
	Pad         PadMode
	PadPairs    [][2]int // explicit (lo, hi) padding per dimension, for PadExplicit
	LHSDilation []int    // input dilation (transposed convolution), defaults to none
	RHSDilation []int    // filter dilation, defaults to all 1; must be uniform on the torus
}

func (o *ConvOptions) resolve(d int, isTorus bool) (stride, lhs, rhs []int, pad PadMode, pairs [][2]int) {
	stride = tensor.Repeat(1, d)
	rhs = tensor.Repeat(1, d)
	pad = PadDefault
	if o != nil {
		if o.Stride != nil {
			stride = o.Stride
		}
		if o.RHSDilation != nil {
			rhs = o.RHSDilation
		}
		lhs = o.LHSDilation
		pad = o.Pad
		pairs = o.PadPairs
	}
	if pad == PadDefault {
		if isTorus {
			pad = PadTorus
		} else {
			pad = PadSame
		}
	}
	if len(stride) != d || len(rhs) != d || (lhs != nil && len(lhs) != d) {
		panic(fmt.Sprintf("geom: convolution options must have %d entries per dimension", d))
	}
	return stride, lhs, rhs, pad, pairs
}

// TorusExpand re-indexes an image with wraparound so that a subsequent
// "valid" correlation on the expanded array reproduces circular
// convolution exactly: the grid grows by halfWidth cells on every side,
// each new cell reading the torus pixel it wraps to.
func TorusExpand(d int, image *tensor.Dense, halfWidth int) *tensor.Dense {
	n, k := ParseShape(image.Shape(), d)
	pixelSize := 1
	for i := 0; i < k; i++ {
		pixelSize *= d
	}

	newN := n + 2*halfWidth
	outShape := tensor.Repeat(newN, d).Concat(image.Shape()[d:])
	out := tensor.Zeros(outShape)
	src := image.Data()
	dst := out.Data()

	for i, key := range tensor.Repeat(newN, d).Indices() {
		shifted := make([]int, d)
		for j, v := range key {
			shifted[j] = v - halfWidth
		}
		from := flatSpatialIndex(WrapIndex(shifted, n), n)
		copy(dst[i*pixelSize:(i+1)*pixelSize], src[from*pixelSize:(from+1)*pixelSize])
	}
	return out
}

// zeroPad pads the d spatial axes of image with zeros, pairs[i] giving the
// (low, high) amounts for axis i. Tensor axes are untouched.
func zeroPad(d int, image *tensor.Dense, pairs [][2]int) *tensor.Dense {
	if len(pairs) != d {
		panic(fmt.Sprintf("geom: expected %d padding pairs, got %d", d, len(pairs)))
	}

	shape := image.Shape()
	outShape := shape.Clone()
	for i := 0; i < d; i++ {
		outShape[i] += pairs[i][0] + pairs[i][1]
	}

	pixelSize := shape[d:].NumElements()
	out := tensor.Zeros(outShape)
	src := image.Data()
	dst := out.Data()

	spatial := shape[:d].Clone()
	outSpatial := outShape[:d].Clone()
	outStrides := outSpatial.ComputeStrides()
	for i, key := range spatial.Indices() {
		to := 0
		for j, v := range key {
			to += (v + pairs[j][0]) * outStrides[j]
		}
		copy(dst[to*pixelSize:(to+1)*pixelSize], src[i*pixelSize:(i+1)*pixelSize])
	}
	return out
}

// lhsDilate inserts dilation[i]-1 zero cells between neighboring pixels
// along spatial axis i (the input dilation of a transposed convolution).
func lhsDilate(d int, image *tensor.Dense, dilation []int) *tensor.Dense {
	shape := image.Shape()
	outShape := shape.Clone()
	for i := 0; i < d; i++ {
		outShape[i] = shape[i] + (shape[i]-1)*(dilation[i]-1)
	}

	pixelSize := shape[d:].NumElements()
	out := tensor.Zeros(outShape)
	src := image.Data()
	dst := out.Data()

	outStrides := outShape[:d].Clone().ComputeStrides()
	for i, key := range shape[:d].Clone().Indices() {
		to := 0
		for j, v := range key {
			to += v * dilation[j] * outStrides[j]
		}
		copy(dst[to*pixelSize:(to+1)*pixelSize], src[i*pixelSize:(i+1)*pixelSize])
	}
	return out
}

// correlate is the grouped dilated correlation primitive: input has shape
// (spatial...) + (C,), kernel (kspatial...) + (C,), and every channel is
// correlated independently (feature-group semantics, no mixing across
// channels). Padding is "valid": the caller pads beforehand.
func correlate(d int, input, kernel *tensor.Dense, stride, dilation []int) *tensor.Dense {
	inShape := input.Shape()
	kShape := kernel.Shape()
	channels := inShape[d]
	if kShape[d] != channels {
		panic(fmt.Sprintf("geom: correlate channel mismatch %d vs %d", channels, kShape[d]))
	}

	outSpatial := make(tensor.Shape, d)
	for i := 0; i < d; i++ {
		span := inShape[i] - (kShape[i]-1)*dilation[i] - 1
		if span < 0 {
			panic(fmt.Sprintf("geom: kernel does not fit input: %v vs %v (dilation %v)", kShape[:d], inShape[:d], dilation))
		}
		outSpatial[i] = span/stride[i] + 1
	}

	out := tensor.Zeros(outSpatial.Concat(tensor.Shape{channels}))
	in := input.Data()
	ker := kernel.Data()
	res := out.Data()

	inStrides := inShape[:d].Clone().ComputeStrides()
	kSpatial := kShape[:d].Clone()

	pos := 0
	for _, o := range outSpatial.Indices() {
		for _, kk := range kSpatial.Indices() {
			src := 0
			for i := 0; i < d; i++ {
				src += (o[i]*stride[i] + kk[i]*dilation[i]) * inStrides[i]
			}
			kOff := flatSpatialOffset(kk, kSpatial) * channels
			inOff := src * channels
			outOff := pos * channels
			for c := 0; c < channels; c++ {
				res[outOff+c] += in[inOff+c] * ker[kOff+c]
			}
		}
		pos++
	}
	return out
}

func flatSpatialOffset(key []int, shape tensor.Shape) int {
	flat := 0
	for i, v := range key {
		flat = flat*shape[i] + v
	}
	return flat
}

// padForConvolve applies the resolved padding pipeline: torus expansion or
// zero padding, preceded by input dilation when requested.
func padForConvolve(d int, image *tensor.Dense, filterN int, isTorus bool, opts *ConvOptions) (*tensor.Dense, []int, []int) {
	stride, lhs, rhs, pad, pairs := opts.resolve(d, isTorus)

	switch pad {
	case PadTorus:
		if filterN%2 != 1 {
			panic(fmt.Sprintf("geom: torus padding requires an odd filter side, got %d", filterN))
		}
		for _, r := range rhs[1:] {
			if r != rhs[0] {
				panic(fmt.Sprintf("geom: torus padding requires equal filter dilation on every axis, got %v", rhs))
			}
		}
		image = TorusExpand(d, image, (filterN-1)/2*rhs[0])
		if lhs != nil {
			image = lhsDilate(d, image, lhs)
		}
	case PadValid:
		if lhs != nil {
			image = lhsDilate(d, image, lhs)
		}
	case PadSame:
		if lhs != nil {
			image = lhsDilate(d, image, lhs)
		}
		m := (filterN - 1) / 2
		samePairs := make([][2]int, d)
		for i := 0; i < d; i++ {
			samePairs[i] = [2]int{m * rhs[i], m * rhs[i]}
		}
		image = zeroPad(d, image, samePairs)
	case PadExplicit:
		if lhs != nil {
			image = lhsDilate(d, image, lhs)
		}
		image = zeroPad(d, image, pairs)
	default:
		panic(fmt.Sprintf("geom: unknown padding mode %d", pad))
	}
	return image, stride, rhs
}

// Convolve convolves a tensor image with a tensor filter on the torus or a
// padded plane. The per-pixel tensors are combined by tensor product: an
// order-ki image convolved with an order-kf filter yields an order ki+kf
// image. Internally both operands are pre-expanded to matching rank, the
// tensor components are flattened into a channel axis, and one grouped
// correlation handles every component independently.
//
// Resulting parity is the sum of the image and filter parities; the raw
// data function leaves parity bookkeeping to the callers.
func Convolve(d int, image, filter *tensor.Dense, isTorus bool, opts *ConvOptions) *tensor.Dense {
	if d != 2 && d != 3 {
		panic(fmt.Sprintf("geom: convolution supports dimensions 2 and 3, got %d", d))
	}

	_, imgK := ParseShape(image.Shape(), d)
	filterN, filterK := ParseShape(filter.Shape(), d)
	outputK := imgK + filterK

	image, stride, rhs := padForConvolve(d, image, filterN, isTorus, opts)

	imgExp, filterExp := PreTensorProductExpand(d, image, filter)

	channels := 1
	for i := 0; i < outputK; i++ {
		channels *= d
	}

	imgFlat := imgExp.Reshape(imgExp.Shape()[:d].Clone().Concat(tensor.Shape{channels}))
	filterFlat := filterExp.Reshape(tensor.Repeat(filterN, d).Concat(tensor.Shape{channels}))

	res := correlate(d, imgFlat, filterFlat, stride, rhs)
	return res.Reshape(res.Shape()[:d].Clone().Concat(tensor.Repeat(d, outputK)))
}

// ConvolveContract fuses a contraction into the convolution: an order-ki
// image and an order kf >= ki filter produce an order kf-ki image by
// contracting each image index against one filter index. The image is
// pre-expanded only up to the filter's rank, so the order ki+kf
// intermediate of Convolve-then-contract is never materialized.
func ConvolveContract(d int, image, filter *tensor.Dense, isTorus bool, opts *ConvOptions) *tensor.Dense {
	if d != 2 && d != 3 {
		panic(fmt.Sprintf("geom: convolution supports dimensions 2 and 3, got %d", d))
	}

	_, imgK := ParseShape(image.Shape(), d)
	filterN, filterK := ParseShape(filter.Shape(), d)
	if imgK > filterK {
		panic(fmt.Sprintf("geom: convolve-contract requires image order %d <= filter order %d", imgK, filterK))
	}

	image, stride, rhs := padForConvolve(d, image, filterN, isTorus, opts)

	// expand the image tensors to the filter's rank only
	imgExp := image
	if extra := filterK - imgK; extra > 0 {
		imgExp = tensor.Outer(image, tensor.Ones(tensor.Repeat(d, extra)))
	}

	channels := 1
	for i := 0; i < filterK; i++ {
		channels *= d
	}

	imgFlat := imgExp.Reshape(imgExp.Shape()[:d].Clone().Concat(tensor.Shape{channels}))
	filterFlat := filter.Reshape(tensor.Repeat(filterN, d).Concat(tensor.Shape{channels}))

	res := correlate(d, imgFlat, filterFlat, stride, rhs)
	shaped := res.Reshape(res.Shape()[:d].Clone().Concat(tensor.Repeat(d, filterK)))

	// sum along the first imgK tensor axes: the contraction
	axes := make([]int, imgK)
	for i := range axes {
		axes[i] = d + i
	}
	return shaped.SumAxes(axes...)
}

// NotConvolve applies a per-pixel-varying filter bank: filterField holds
// one filter per output pixel, shape (n,)*d + (m,)*d + (d,)*kf. For each
// output pixel the corresponding receptive-field patch is gathered,
// tensor-multiplied by that pixel's own filter, and summed over the patch.
// The operation is not translation equivariant; it is equivariant to the
// symmetry group exactly when the filter bank is itself invariant.
func NotConvolve(d int, image, filterField *tensor.Dense, isTorus bool) *tensor.Dense {
	if d != 2 && d != 3 {
		panic(fmt.Sprintf("geom: convolution supports dimensions 2 and 3, got %d", d))
	}

	n, imgK := ParseShape(image.Shape(), d)
	fieldShape := filterField.Shape()
	if len(fieldShape) < 2*d {
		panic(fmt.Sprintf("geom: filter field %v lacks the two spatial layers", fieldShape))
	}
	filterN, filterK := ParseShape(fieldShape[d:].Clone(), d)
	filterM := (filterN - filterN%2) / 2
	outputK := imgK + filterK

	var padded *tensor.Dense
	if isTorus {
		if filterN%2 != 1 {
			panic(fmt.Sprintf("geom: torus padding requires an odd filter side, got %d", filterN))
		}
		padded = TorusExpand(d, image, filterM)
	} else {
		pairs := make([][2]int, d)
		for i := range pairs {
			pairs[i] = [2]int{filterM, filterM}
		}
		padded = zeroPad(d, image, pairs)
	}

	filterShape := tensor.Repeat(filterN, d).Concat(tensor.Repeat(d, filterK))
	filterSize := filterShape.NumElements()
	fieldData := filterField.Data()

	outShape := tensor.Repeat(n, d).Concat(tensor.Repeat(d, outputK))
	pixelSize := tensor.Repeat(d, outputK).NumElements()
	out := tensor.Zeros(outShape)
	dst := out.Data()

	spatialAxes := make([]int, d)
	for i := range spatialAxes {
		spatialAxes[i] = i
	}

	for i, key := range tensor.Repeat(n, d).Indices() {
		patch := spatialBlock(d, padded, key, filterN)
		pixelFilter, err := tensor.NewDense(filterShape, fieldData[i*filterSize:(i+1)*filterSize])
		if err != nil {
			panic(err)
		}
		summed := Mul(d, patch, pixelFilter).SumAxes(spatialAxes...)
		copy(dst[i*pixelSize:(i+1)*pixelSize], summed.Data())
	}
	return out
}

// spatialBlock extracts the cube of side size starting at start from the
// first d axes, keeping all trailing tensor components.
func spatialBlock(d int, image *tensor.Dense, start []int, size int) *tensor.Dense {
	shape := image.Shape()
	pixelSize := shape[d:].NumElements()
	inStrides := shape[:d].Clone().ComputeStrides()

	outShape := tensor.Repeat(size, d).Concat(shape[d:])
	out := tensor.Zeros(outShape)
	src := image.Data()
	dst := out.Data()

	for i, off := range tensor.Repeat(size, d).Indices() {
		from := 0
		for j := 0; j < d; j++ {
			from += (start[j] + off[j]) * inStrides[j]
		}
		copy(dst[i*pixelSize:(i+1)*pixelSize], src[from*pixelSize:(from+1)*pixelSize])
	}
	return out
}

// DepthConvolve vectorizes Convolve over a leading depth axis on both the
// image and the filter and sums the results, implementing multi-input-
// channel accumulation. Slice i of the output of the mapped stage depends
// only on slices i of the inputs.
func DepthConvolve(d int, image, filter *tensor.Dense, isTorus bool, opts *ConvOptions) *tensor.Dense {
	return depthAccumulate(image, filter, func(img, flt *tensor.Dense) *tensor.Dense {
		return Convolve(d, img, flt, isTorus, opts)
	})
}

// DepthConvolveContract is the depth-wise accumulation variant of
// ConvolveContract.
func DepthConvolveContract(d int, image, filter *tensor.Dense, isTorus bool, opts *ConvOptions) *tensor.Dense {
	return depthAccumulate(image, filter, func(img, flt *tensor.Dense) *tensor.Dense {
		return ConvolveContract(d, img, flt, isTorus, opts)
	})
}

// DepthNotConvolve is the depth-wise accumulation variant of NotConvolve.
func DepthNotConvolve(d int, image, filterField *tensor.Dense, isTorus bool) *tensor.Dense {
	return depthAccumulate(image, filterField, func(img, flt *tensor.Dense) *tensor.Dense {
		return NotConvolve(d, img, flt, isTorus)
	})
}

func depthAccumulate(image, filter *tensor.Dense, op func(img, flt *tensor.Dense) *tensor.Dense) *tensor.Dense {
	imgShape := image.Shape()
	fltShape := filter.Shape()
	if imgShape[0] != fltShape[0] {
		panic(fmt.Sprintf("geom: depth mismatch %d vs %d", imgShape[0], fltShape[0]))
	}
	depth := imgShape[0]

	var acc *tensor.Dense
	for i := 0; i < depth; i++ {
		res := op(sliceLeading(image, i), sliceLeading(filter, i))
		if acc == nil {
			acc = res
		} else {
			acc = acc.Add(res)
		}
	}
	return acc
}

// sliceLeading returns slice i along the leading axis as its own tensor.
func sliceLeading(t *tensor.Dense, i int) *tensor.Dense {
	shape := t.Shape()
	sliceShape := shape[1:].Clone()
	size := sliceShape.NumElements()
	out, err := tensor.NewDense(sliceShape, t.Data()[i*size:(i+1)*size])
	if err != nil {
		panic(err)
	}
	return out
}

// AveragePool pools with patches of side patchLen: equivalent to a
// convolution with a uniform filter, stride patchLen, valid padding.
// patchLen must evenly divide the side length.
func AveragePool(d int, data *tensor.Dense, patchLen int) *tensor.Dense {
	n, _ := ParseShape(data.Shape(), d)
	if n%patchLen != 0 {
		panic(fmt.Sprintf("geom: patch length %d does not divide side length %d", patchLen, n))
	}

	patchCells := tensor.Repeat(patchLen, d).NumElements()
	filter := tensor.Full(tensor.Repeat(patchLen, d), 1/float64(patchCells))
	return Convolve(d, data, filter, false, &ConvOptions{
		Stride: tensor.Repeat(patchLen, d),
		Pad:    PadValid,
	})
}
