package ocland

import (
	"math"
	"strconv"
	"strings"

	"github.com/fxnlabs/ocland/internal/cl"
	"github.com/fxnlabs/ocland/internal/handles"
	"github.com/fxnlabs/ocland/internal/wire"
	"go.uber.org/zap"
)

// all asks the server for every entry of a list reply.
const all = math.MaxUint32

// serverPlatforms lists the platforms of srv that the client can drive.
func (c *Client) serverPlatforms(srv *Server) ([]Platform, error) {
	var peers []uint64
	err := srv.call(cl.OpGetPlatformIDs, func(w *wire.Writer) {
		w.PutU32(all)
	}, func(r *wire.Reader) error {
		peers = r.U64s(int(r.U32()))
		return nil
	})
	if err != nil {
		return nil, err
	}

	var out []Platform
	for _, peer := range peers {
		version, _, err := c.forwardInfo(srv, cl.OpGetPlatformInfo, peer, nil, cl.PlatformVersion, math.MaxUint32)
		if err != nil {
			return out, err
		}
		if !supportedVersion(String(version)) {
			c.log.Info("skipping platform",
				zap.String("addr", srv.Addr),
				zap.String("version", String(version)))
			continue
		}
		h, err := c.tables[cl.KindPlatform].Intern(srv, handles.PeerID(peer))
		if err != nil {
			return out, err
		}
		out = append(out, Platform(h))
	}
	return out, nil
}

// supportedVersion accepts "OpenCL <major>.<minor> ..." above 1.1; argument
// qualifier queries need 1.2.
func supportedVersion(v string) bool {
	rest, ok := strings.CutPrefix(v, "OpenCL ")
	if !ok {
		return false
	}
	num, _, _ := strings.Cut(rest, " ")
	majorStr, minorStr, ok := strings.Cut(num, ".")
	if !ok {
		return false
	}
	major, err := strconv.Atoi(majorStr)
	if err != nil {
		return false
	}
	minor, err := strconv.Atoi(minorStr)
	if err != nil {
		return false
	}
	return major > 1 || (major == 1 && minor > 1)
}

// GetPlatformIDs returns the platforms of every reachable server, in server
// list order.
func (c *Client) GetPlatformIDs() ([]Platform, error) {
	c.init()
	if len(c.platforms) == 0 {
		return nil, cl.PlatformNotFoundKHR
	}
	return append([]Platform(nil), c.platforms...), nil
}

// GetPlatformInfo queries a platform. NAME and VENDOR carry the host of the
// serving daemon as prefix.
func (c *Client) GetPlatformInfo(p Platform, param uint32, size uint64) ([]byte, uint64, error) {
	srv, peer, err := c.lookup(cl.KindPlatform, handles.Handle(p))
	if err != nil {
		return nil, 0, err
	}
	if param != cl.PlatformName && param != cl.PlatformVendor {
		return c.info(srv, cl.OpGetPlatformInfo, peer, nil, param, size)
	}

	_, n, err := c.forwardInfo(srv, cl.OpGetPlatformInfo, peer, nil, param, 0)
	if err != nil {
		return nil, 0, err
	}
	raw, _, err := c.forwardInfo(srv, cl.OpGetPlatformInfo, peer, nil, param, n)
	if err != nil {
		return nil, 0, err
	}
	value := append([]byte("ocland("+srv.host+") "+String(raw)), 0)
	if size == 0 {
		return nil, uint64(len(value)), nil
	}
	if size < uint64(len(value)) {
		return nil, 0, cl.InvalidValue
	}
	return value, uint64(len(value)), nil
}

// GetDeviceIDs lists the devices of type deviceType on platform p.
func (c *Client) GetDeviceIDs(p Platform, deviceType uint64) ([]Device, error) {
	srv, peer, err := c.lookup(cl.KindPlatform, handles.Handle(p))
	if err != nil {
		return nil, err
	}
	var peers []uint64
	err = srv.call(cl.OpGetDeviceIDs, func(w *wire.Writer) {
		w.PutU64(peer)
		w.PutU64(deviceType)
		w.PutU32(all)
	}, func(r *wire.Reader) error {
		peers = r.U64s(int(r.U32()))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(peers))
	for _, d := range peers {
		h, err := c.tables[cl.KindDevice].Intern(srv, handles.PeerID(d))
		if err != nil {
			return nil, err
		}
		out = append(out, Device(h))
	}
	return out, nil
}

func (c *Client) GetDeviceInfo(d Device, param uint32, size uint64) ([]byte, uint64, error) {
	return c.objectInfo(cl.KindDevice, cl.OpGetDeviceInfo, handles.Handle(d), param, size)
}

// CreateSubDevices partitions d. props is the zero-terminated partition
// property list.
func (c *Client) CreateSubDevices(d Device, props []uint64) ([]Device, error) {
	srv, peer, err := c.lookup(cl.KindDevice, handles.Handle(d))
	if err != nil {
		return nil, err
	}
	if len(props) == 0 {
		return nil, cl.InvalidValue
	}
	var peers []uint64
	err = srv.call(cl.OpCreateSubDevices, func(w *wire.Writer) {
		w.PutU64(peer)
		w.PutU32(uint32(len(props)))
		w.PutU64s(props)
		w.PutU32(all)
	}, func(r *wire.Reader) error {
		n := r.U32()
		peers = r.U64s(int(n))
		return nil
	})
	if err != nil {
		return nil, err
	}
	out := make([]Device, 0, len(peers))
	for i, sub := range peers {
		h, err := c.mint(cl.KindDevice, srv, sub)
		if err != nil {
			for _, rest := range peers[i+1:] {
				_ = srv.call(cl.OpReleaseDevice, func(w *wire.Writer) { w.PutU64(rest) }, nil)
			}
			return nil, err
		}
		c.mu.Lock()
		c.subDevices[Device(h)] = struct{}{}
		c.mu.Unlock()
		out = append(out, Device(h))
	}
	return out, nil
}

func (c *Client) RetainDevice(d Device) error {
	c.mu.Lock()
	_, sub := c.subDevices[d]
	c.mu.Unlock()
	if sub {
		return c.retain(cl.KindDevice, handles.Handle(d))
	}
	srv, peer, err := c.lookup(cl.KindDevice, handles.Handle(d))
	if err != nil {
		return err
	}
	return srv.call(cl.OpRetainDevice, func(w *wire.Writer) { w.PutU64(peer) }, nil)
}

// ReleaseDevice releases a sub-device. Root devices are never freed, so
// their handles stay valid.
func (c *Client) ReleaseDevice(d Device) error {
	c.mu.Lock()
	_, sub := c.subDevices[d]
	c.mu.Unlock()
	if !sub {
		srv, peer, err := c.lookup(cl.KindDevice, handles.Handle(d))
		if err != nil {
			return err
		}
		return srv.call(cl.OpReleaseDevice, func(w *wire.Writer) { w.PutU64(peer) }, nil)
	}
	gone, err := c.release(cl.KindDevice, handles.Handle(d))
	if err != nil || !gone {
		return err
	}
	c.mu.Lock()
	delete(c.subDevices, d)
	c.mu.Unlock()
	return nil
}

func (c *Client) UnloadPlatformCompiler(p Platform) error {
	srv, peer, err := c.lookup(cl.KindPlatform, handles.Handle(p))
	if err != nil {
		return err
	}
	return srv.call(cl.OpUnloadPlatformCompiler, func(w *wire.Writer) { w.PutU64(peer) }, nil)
}

// GetExtensionFunctionAddress always returns nil; no extension is
// forwarded.
func (c *Client) GetExtensionFunctionAddress(name string) any { return nil }

func (c *Client) GetExtensionFunctionAddressForPlatform(p Platform, name string) any { return nil }

// String decodes a NUL-terminated info value.
func String(b []byte) string {
	if i := strings.IndexByte(string(b), 0); i >= 0 {
		return string(b[:i])
	}
	return string(b)
}
