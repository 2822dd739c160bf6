package ocland

import "github.com/fxnlabs/ocland/internal/cl"

// Entry points below need host memory or callbacks shared with the device,
// which a network hop cannot provide. They fail with the closest status the
// API defines and never reach a server.

// SetMemObjectDestructorCallback cannot register remote destructors.
func (c *Client) SetMemObjectDestructorCallback(m Mem, fn func(Mem)) error {
	return cl.InvalidMemObject
}

// SetEventCallback cannot register remote callbacks.
func (c *Client) SetEventCallback(e Event, callbackType int32, fn EventNotifyFunc) error {
	if fn == nil || callbackType != cl.Complete {
		return cl.InvalidValue
	}
	return cl.InvalidEvent
}

func (c *Client) EnqueueMapBuffer(q CommandQueue, m Mem, blocking bool, flags, offset, size uint64, wait []Event, event *Event) ([]byte, error) {
	return nil, cl.MapFailure
}

func (c *Client) EnqueueMapImage(q CommandQueue, image Mem, blocking bool, flags uint64, origin, region [3]uint64, wait []Event, event *Event) ([]byte, error) {
	return nil, cl.MapFailure
}

func (c *Client) EnqueueUnmapMemObject(q CommandQueue, m Mem, mapped []byte, wait []Event, event *Event) error {
	return cl.InvalidValue
}

func (c *Client) EnqueueNativeKernel(q CommandQueue, fn func(args []byte), args []byte, wait []Event, event *Event) error {
	return cl.InvalidOperation
}

func (c *Client) CreateFromGLBuffer(ctx Context, flags uint64, glBuffer uint32) (Mem, error) {
	return 0, cl.InvalidGLObject
}

func (c *Client) CreateFromGLTexture(ctx Context, flags uint64, target uint32, level int32, texture uint32) (Mem, error) {
	return 0, cl.InvalidGLObject
}

func (c *Client) CreateFromGLRenderbuffer(ctx Context, flags uint64, renderbuffer uint32) (Mem, error) {
	return 0, cl.InvalidGLObject
}

func (c *Client) GetGLObjectInfo(m Mem) (objectType, name uint32, err error) {
	return 0, 0, cl.InvalidGLObject
}

func (c *Client) GetGLTextureInfo(m Mem, param uint32, size uint64) ([]byte, uint64, error) {
	return nil, 0, cl.InvalidGLObject
}

func (c *Client) EnqueueAcquireGLObjects(q CommandQueue, mems []Mem, wait []Event, event *Event) error {
	return cl.InvalidGLObject
}

func (c *Client) EnqueueReleaseGLObjects(q CommandQueue, mems []Mem, wait []Event, event *Event) error {
	return cl.InvalidGLObject
}

func (c *Client) GetGLContextInfoKHR(props []ContextProperty, param uint32, size uint64) ([]byte, uint64, error) {
	return nil, 0, cl.InvalidGLSharegroupReferenceKHR
}
