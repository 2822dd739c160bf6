package cl

import (
	"errors"
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus(t *testing.T) {
	t.Run("names", func(t *testing.T) {
		assert.Equal(t, "CL_SUCCESS", Success.String())
		assert.Equal(t, "CL_INVALID_MEM_OBJECT", InvalidMemObject.Error())
		assert.Equal(t, "CL_PLATFORM_NOT_FOUND_KHR", PlatformNotFoundKHR.String())
		assert.Equal(t, "CL_STATUS(-9999)", Status(-9999).String())
	})

	t.Run("err", func(t *testing.T) {
		assert.NoError(t, Success.Err())
		assert.Equal(t, InvalidValue, InvalidValue.Err())
	})

	t.Run("status of", func(t *testing.T) {
		assert.Equal(t, Success, StatusOf(nil))
		assert.Equal(t, InvalidKernel, StatusOf(InvalidKernel))
		assert.Equal(t, InvalidKernel, StatusOf(fmt.Errorf("set arg: %w", InvalidKernel)))
		assert.Equal(t, OutOfResources, StatusOf(errors.New("boom")))
	})

	t.Run("transport", func(t *testing.T) {
		assert.NoError(t, Transport(nil))
		err := Transport(io.ErrUnexpectedEOF)
		assert.Equal(t, OutOfResources, StatusOf(err))
		assert.ErrorIs(t, err, io.ErrUnexpectedEOF)
		assert.ErrorIs(t, err, OutOfResources)
	})
}

func TestOpcodes(t *testing.T) {
	ops := Opcodes()
	assert.Equal(t, OpGetPlatformIDs, ops[0])
	assert.Equal(t, Opcode(1), ops[0])
	assert.Equal(t, OpEnqueueMigrateMemObjects, ops[len(ops)-1])

	seen := map[string]bool{}
	for _, op := range ops {
		assert.True(t, op.Valid())
		name := op.String()
		assert.NotEmpty(t, name, "opcode %d has no name", uint32(op))
		assert.False(t, seen[name], "duplicate name %s", name)
		seen[name] = true
	}

	assert.False(t, OpInvalid.Valid())
	assert.False(t, Opcode(10000).Valid())
	assert.Equal(t, "Opcode(10000)", Opcode(10000).String())
}

func TestKinds(t *testing.T) {
	t.Run("invalid status per kind", func(t *testing.T) {
		cases := map[Kind]Status{
			KindPlatform: InvalidPlatform,
			KindDevice:   InvalidDevice,
			KindContext:  InvalidContext,
			KindQueue:    InvalidCommandQueue,
			KindMem:      InvalidMemObject,
			KindSampler:  InvalidSampler,
			KindProgram:  InvalidProgram,
			KindKernel:   InvalidKernel,
			KindEvent:    InvalidEvent,
		}
		assert.Len(t, Kinds, len(cases))
		for k, want := range cases {
			assert.Equal(t, want, k.Invalid(), k.String())
		}
	})

	t.Run("handle params", func(t *testing.T) {
		k, ok := HandleParam(OpGetDeviceInfo, DevicePlatform)
		assert.True(t, ok)
		assert.Equal(t, KindPlatform, k)

		k, ok = HandleParam(OpGetProgramInfo, ProgramDevices)
		assert.True(t, ok)
		assert.Equal(t, KindDevice, k)

		k, ok = HandleParam(OpGetEventInfo, EventCommandQueue)
		assert.True(t, ok)
		assert.Equal(t, KindQueue, k)

		_, ok = HandleParam(OpGetDeviceInfo, DeviceName)
		assert.False(t, ok)
		_, ok = HandleParam(OpGetContextInfo, ContextProperties)
		assert.False(t, ok)
	})
}
