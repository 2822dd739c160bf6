package main

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/pkg/ocland"
	"github.com/urfave/cli/v2"
)

// text queries a string parameter in two steps: size, then value.
func text(query func(param uint32, size uint64) ([]byte, uint64, error), param uint32) string {
	_, n, err := query(param, 0)
	if err != nil {
		return "<" + cl.StatusOf(err).String() + ">"
	}
	v, _, err := query(param, n)
	if err != nil {
		return "<" + cl.StatusOf(err).String() + ">"
	}
	return ocland.String(v)
}

func platformsCommand(client **ocland.Client) *cli.Command {
	return &cli.Command{
		Name:  "platforms",
		Usage: "List the platforms of every reachable server",
		Action: func(c *cli.Context) error {
			platforms, err := (*client).GetPlatformIDs()
			if err != nil {
				return err
			}
			for i, p := range platforms {
				query := func(param uint32, size uint64) ([]byte, uint64, error) {
					return (*client).GetPlatformInfo(p, param, size)
				}
				fmt.Printf("%d: %s\n", i, text(query, cl.PlatformName))
				fmt.Printf("   vendor:  %s\n", text(query, cl.PlatformVendor))
				fmt.Printf("   version: %s\n", text(query, cl.PlatformVersion))
			}
			return nil
		},
	}
}

func devicesCommand(client **ocland.Client) *cli.Command {
	return &cli.Command{
		Name:  "devices",
		Usage: "List the devices of every platform",
		Action: func(c *cli.Context) error {
			platforms, err := (*client).GetPlatformIDs()
			if err != nil {
				return err
			}
			for i, p := range platforms {
				devices, err := (*client).GetDeviceIDs(p, cl.DeviceTypeAll)
				if err != nil {
					fmt.Printf("%d: %v\n", i, err)
					continue
				}
				for j, d := range devices {
					query := func(param uint32, size uint64) ([]byte, uint64, error) {
						return (*client).GetDeviceInfo(d, param, size)
					}
					units, _, _ := (*client).GetDeviceInfo(d, cl.DeviceMaxComputeUnits, 4)
					mem, _, _ := (*client).GetDeviceInfo(d, cl.DeviceGlobalMemSize, 8)
					fmt.Printf("%d.%d: %s (%d compute units, %d MiB)\n",
						i, j, text(query, cl.DeviceName), ocland.Uint32(units), ocland.Uint64(mem)>>20)
				}
			}
			return nil
		},
	}
}

const saxpySource = `__kernel void saxpy(const float a, __global const float* x, __global float* y) {
    size_t i = get_global_id(0);
    y[i] = a * x[i] + y[i];
}
`

func floatBytes(vs []float32) []byte {
	out := make([]byte, 0, 4*len(vs))
	for _, v := range vs {
		out = binary.NativeEndian.AppendUint32(out, math.Float32bits(v))
	}
	return out
}

func saxpyCommand(client **ocland.Client) *cli.Command {
	return &cli.Command{
		Name:  "saxpy",
		Usage: "Run y = a*x + y on the first device and check the result",
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "n", Value: 1 << 16, Usage: "Vector length"},
			&cli.Float64Flag{Name: "a", Value: 2, Usage: "Scale factor"},
		},
		Action: func(c *cli.Context) error {
			return runSaxpy(*client, c.Int("n"), float32(c.Float64("a")))
		},
	}
}

func runSaxpy(client *ocland.Client, n int, a float32) error {
	if n <= 0 {
		return fmt.Errorf("vector length must be positive, got %d", n)
	}
	platforms, err := client.GetPlatformIDs()
	if err != nil {
		return err
	}
	devices, err := client.GetDeviceIDs(platforms[0], cl.DeviceTypeAll)
	if err != nil {
		return err
	}
	ctx, err := client.CreateContext([]ocland.ContextProperty{{Name: cl.ContextPlatform, Value: uint64(platforms[0])}}, devices[:1], nil)
	if err != nil {
		return err
	}
	defer client.ReleaseContext(ctx)
	queue, err := client.CreateCommandQueue(ctx, devices[0], 0)
	if err != nil {
		return err
	}
	defer client.ReleaseCommandQueue(queue)

	x := make([]float32, n)
	y := make([]float32, n)
	for i := range x {
		x[i], y[i] = float32(i), float32(n-i)
	}
	xb, err := client.CreateBuffer(ctx, cl.MemReadOnly|cl.MemCopyHostPtr, uint64(4*n), floatBytes(x))
	if err != nil {
		return err
	}
	defer client.ReleaseMemObject(xb)
	yb, err := client.CreateBuffer(ctx, cl.MemReadWrite, uint64(4*n), nil)
	if err != nil {
		return err
	}
	defer client.ReleaseMemObject(yb)

	// upload y detached to exercise the side channel
	var uploaded ocland.Event
	if err := client.EnqueueWriteBuffer(queue, yb, false, 0, floatBytes(y), nil, &uploaded); err != nil {
		return err
	}

	prog, err := client.CreateProgramWithSource(ctx, []string{saxpySource}, nil)
	if err != nil {
		return err
	}
	defer client.ReleaseProgram(prog)
	if err := client.BuildProgram(prog, nil, "", nil); err != nil {
		return err
	}
	k, err := client.CreateKernel(prog, "saxpy")
	if err != nil {
		return err
	}
	defer client.ReleaseKernel(k)

	handle := func(m ocland.Mem) []byte { return binary.NativeEndian.AppendUint64(nil, uint64(m)) }
	if err := client.SetKernelArg(k, 0, 4, floatBytes([]float32{a})); err != nil {
		return err
	}
	if err := client.SetKernelArg(k, 1, 8, handle(xb)); err != nil {
		return err
	}
	if err := client.SetKernelArg(k, 2, 8, handle(yb)); err != nil {
		return err
	}
	if err := client.EnqueueNDRangeKernel(queue, k, 1, nil, []uint64{uint64(n)}, nil, []ocland.Event{uploaded}, nil); err != nil {
		return err
	}
	if err := client.ReleaseEvent(uploaded); err != nil {
		return err
	}

	out := make([]byte, 4*n)
	if err := client.EnqueueReadBuffer(queue, yb, true, 0, out, nil, nil); err != nil {
		return err
	}
	for i := 0; i < n; i++ {
		got := math.Float32frombits(binary.NativeEndian.Uint32(out[4*i:]))
		want := a*x[i] + y[i]
		if math.Abs(float64(got-want)) > 1e-5*math.Abs(float64(want))+1e-6 {
			return fmt.Errorf("y[%d] = %v, want %v", i, got, want)
		}
	}
	fmt.Printf("saxpy: %d elements verified\n", n)
	return nil
}
