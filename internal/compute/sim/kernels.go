package sim

import (
	"math"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/mat"
)

// builtinSource declares the kernels the runtime can execute. Programs built
// from source run a kernel when its name and argument count match one of
// these; built-in kernel programs are made of these declarations.
var builtinSource = map[string]string{
	"saxpy": `__kernel void saxpy(const float a, __global const float* x, __global float* y) {}
`,
	"vadd": `__kernel void vadd(__global const float* a, __global const float* b, __global float* c) {}
`,
	"sgemm": `__kernel void sgemm(const int M, const int N, const int K, __global const float* A, __global const float* B, __global float* C) {}
`,
	"scale": `__kernel void scale(__global float* x, const float factor, __local float* scratch) {}
`,
	"fill": `__kernel void fill(__global uint* dst, const uint value) {}
`,
	"copy": `__kernel void copy(__global const uchar* src, __global uchar* dst) {}
`,
}

type kernelImpl struct {
	args int
	run  func(nd ndrange, args []compute.KernelArg) error
}

var library = map[string]kernelImpl{
	"saxpy": {3, runSaxpy},
	"vadd":  {3, runVadd},
	"sgemm": {6, runSgemm},
	"scale": {3, runScale},
	"fill":  {2, runFill},
	"copy":  {2, runCopy},
}

// span is the range of work-item ids along dimension 0.
func (nd ndrange) span() (lo, hi uint64) {
	return nd.offset[0], nd.offset[0] + nd.global[0]
}

func buffer(a compute.KernelArg) ([]byte, error) {
	m, ok := a.Mem.(*mem)
	if !ok {
		return nil, cl.InvalidMemObject
	}
	return m.data, nil
}

// floats32 loads elements [lo, hi) of a float buffer.
func floats32(b []byte, lo, hi uint64) ([]float64, error) {
	if hi*4 > uint64(len(b)) || lo > hi {
		return nil, cl.OutOfResources
	}
	out := make([]float64, hi-lo)
	for i := range out {
		out[i] = float64(math.Float32frombits(order.Uint32(b[(lo+uint64(i))*4:])))
	}
	return out, nil
}

func storeFloats32(b []byte, lo uint64, vs []float64) {
	for i, v := range vs {
		order.PutUint32(b[(lo+uint64(i))*4:], math.Float32bits(float32(v)))
	}
}

func scalarF32(a compute.KernelArg) float64 {
	if len(a.Value) < 4 {
		return 0
	}
	return float64(math.Float32frombits(order.Uint32(a.Value)))
}

func scalarU32(a compute.KernelArg) uint32 {
	if len(a.Value) < 4 {
		return 0
	}
	return order.Uint32(a.Value)
}

func runSaxpy(nd ndrange, args []compute.KernelArg) error {
	xb, err := buffer(args[1])
	if err != nil {
		return err
	}
	yb, err := buffer(args[2])
	if err != nil {
		return err
	}
	lo, hi := nd.span()
	x, err := floats32(xb, lo, hi)
	if err != nil {
		return err
	}
	y, err := floats32(yb, lo, hi)
	if err != nil {
		return err
	}
	floats.AddScaled(y, scalarF32(args[0]), x)
	storeFloats32(yb, lo, y)
	return nil
}

func runVadd(nd ndrange, args []compute.KernelArg) error {
	var in [2][]float64
	lo, hi := nd.span()
	for i := range in {
		b, err := buffer(args[i])
		if err != nil {
			return err
		}
		if in[i], err = floats32(b, lo, hi); err != nil {
			return err
		}
	}
	cb, err := buffer(args[2])
	if err != nil {
		return err
	}
	if hi*4 > uint64(len(cb)) {
		return cl.OutOfResources
	}
	out := make([]float64, len(in[0]))
	floats.AddTo(out, in[0], in[1])
	storeFloats32(cb, lo, out)
	return nil
}

func runScale(nd ndrange, args []compute.KernelArg) error {
	xb, err := buffer(args[0])
	if err != nil {
		return err
	}
	lo, hi := nd.span()
	x, err := floats32(xb, lo, hi)
	if err != nil {
		return err
	}
	floats.Scale(scalarF32(args[1]), x)
	storeFloats32(xb, lo, x)
	return nil
}

// runSgemm computes C = A×B for row-major M×K and K×N matrices. Dimension 0
// selects rows of C and dimension 1, when present, selects columns.
func runSgemm(nd ndrange, args []compute.KernelArg) error {
	m, n, k := int(int32(scalarU32(args[0]))), int(int32(scalarU32(args[1]))), int(int32(scalarU32(args[2])))
	if m <= 0 || n <= 0 || k <= 0 {
		return cl.InvalidValue
	}
	var raw [3][]byte
	for i := range raw {
		b, err := buffer(args[3+i])
		if err != nil {
			return err
		}
		raw[i] = b
	}
	av, err := floats32(raw[0], 0, uint64(m*k))
	if err != nil {
		return err
	}
	bv, err := floats32(raw[1], 0, uint64(k*n))
	if err != nil {
		return err
	}
	if uint64(m*n*4) > uint64(len(raw[2])) {
		return cl.OutOfResources
	}

	var c mat.Dense
	c.Mul(mat.NewDense(m, k, av), mat.NewDense(k, n, bv))

	rlo, rhi := nd.span()
	clo, chi := uint64(0), uint64(n)
	if nd.dims > 1 {
		clo, chi = nd.offset[1], nd.offset[1]+nd.global[1]
	}
	for i := rlo; i < rhi && i < uint64(m); i++ {
		for j := clo; j < chi && j < uint64(n); j++ {
			order.PutUint32(raw[2][(i*uint64(n)+j)*4:], math.Float32bits(float32(c.At(int(i), int(j)))))
		}
	}
	return nil
}

func runFill(nd ndrange, args []compute.KernelArg) error {
	b, err := buffer(args[0])
	if err != nil {
		return err
	}
	lo, hi := nd.span()
	if hi*4 > uint64(len(b)) {
		return cl.OutOfResources
	}
	v := scalarU32(args[1])
	for i := lo; i < hi; i++ {
		order.PutUint32(b[i*4:], v)
	}
	return nil
}

func runCopy(nd ndrange, args []compute.KernelArg) error {
	src, err := buffer(args[0])
	if err != nil {
		return err
	}
	dst, err := buffer(args[1])
	if err != nil {
		return err
	}
	lo, hi := nd.span()
	if hi > uint64(len(src)) || hi > uint64(len(dst)) {
		return cl.OutOfResources
	}
	copy(dst[lo:hi], src[lo:hi])
	return nil
}
