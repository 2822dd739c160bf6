package sim

import (
	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/compute"
)

type simContext struct {
	refCount
	rt      *Runtime
	devices []*device
	props   []compute.ContextProperty
	notify  compute.NotifyFunc
}

func asContext(o compute.Object) (*simContext, error) {
	c, ok := o.(*simContext)
	if !ok || !c.live() {
		return nil, cl.InvalidContext
	}
	return c, nil
}

func (c *simContext) has(d *device) bool {
	for _, cd := range c.devices {
		if cd == d || (d.parent != nil && c.has(d.parent)) {
			return true
		}
	}
	return false
}

// raise reports an asynchronous error through the context callback.
func (c *simContext) raise(errInfo string, private []byte) {
	if c.notify == nil {
		return
	}
	go c.notify(errInfo, private)
}

func (rt *Runtime) checkProperties(props []compute.ContextProperty) error {
	seen := map[uint64]bool{}
	for _, p := range props {
		if seen[p.Name] {
			return cl.InvalidProperty
		}
		seen[p.Name] = true
		switch p.Name {
		case cl.ContextPlatform:
			if _, err := rt.asPlatform(p.Platform); err != nil {
				return cl.InvalidPlatform
			}
		default:
			return cl.InvalidProperty
		}
	}
	return nil
}

func (rt *Runtime) CreateContext(props []compute.ContextProperty, devices []compute.Device, notify compute.NotifyFunc) (compute.Context, error) {
	if len(devices) == 0 {
		return nil, cl.InvalidValue
	}
	if err := rt.checkProperties(props); err != nil {
		return nil, err
	}
	devs, err := asDevices(devices)
	if err != nil {
		return nil, err
	}
	return rt.newContext(props, devs, notify), nil
}

func (rt *Runtime) CreateContextFromType(props []compute.ContextProperty, deviceType uint64, notify compute.NotifyFunc) (compute.Context, error) {
	if err := rt.checkProperties(props); err != nil {
		return nil, err
	}
	found, err := rt.Devices(rt.platform, deviceType)
	if err != nil {
		return nil, err
	}
	devs, err := asDevices(found)
	if err != nil {
		return nil, err
	}
	return rt.newContext(props, devs, notify), nil
}

func (rt *Runtime) newContext(props []compute.ContextProperty, devs []*device, notify compute.NotifyFunc) *simContext {
	c := &simContext{
		rt:      rt,
		devices: devs,
		props:   append([]compute.ContextProperty(nil), props...),
		notify:  notify,
	}
	c.init()
	return c
}

func (rt *Runtime) ContextInfo(o compute.Context, param uint32) (compute.Info, error) {
	c, err := asContext(o)
	if err != nil {
		return compute.Info{}, err
	}
	switch param {
	case cl.ContextReferenceCount:
		return compute.Uint32Info(c.count()), nil
	case cl.ContextNumDevices:
		return compute.Uint32Info(uint32(len(c.devices))), nil
	case cl.ContextDevices:
		objs := make([]compute.Object, len(c.devices))
		for i, d := range c.devices {
			objs[i] = d
		}
		return compute.ObjectsInfo(objs...), nil
	case cl.ContextProperties:
		return compute.PropertiesInfo(c.props), nil
	}
	return compute.Info{}, cl.InvalidValue
}
