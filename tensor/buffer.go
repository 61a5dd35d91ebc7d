package tensor

import (
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// DeviceAllocator allocates size bytes of accelerator memory on the given
// device, returning an opaque handle and a host-visible staging slice. The
// default allocator reports accelerator support as unavailable; deployments
// with device runtimes install their own at process start.
type DeviceAllocator func(deviceID, size int) (handle uintptr, staging []byte, err error)

var deviceAllocator DeviceAllocator

// RegisterDeviceAllocator installs a process-wide accelerator allocator.
func RegisterDeviceAllocator(alloc DeviceAllocator) {
	deviceAllocator = alloc
}

// Buffer is an owning byte container for tensor data, resident either on
// the host or on an accelerator. Device-resident buffers keep a staging
// slice so wire I/O can proceed without device round-trips.
type Buffer struct {
	device   Device
	deviceID int
	handle   uintptr
	data     []byte
}

// NewHostBuffer allocates a zeroed host buffer.
func NewHostBuffer(size int) *Buffer {
	return &Buffer{device: DeviceHost, data: make([]byte, 0, size)}
}

// AllocateBuffer allocates a buffer for the given device. When accelerator
// allocation fails the buffer degrades to host with a warning; it never
// fails silently and never panics on missing device support.
func AllocateBuffer(device Device, deviceID, size int) *Buffer {
	if device == DeviceAccelerator {
		if deviceAllocator != nil {
			handle, staging, err := deviceAllocator(deviceID, size)
			if err == nil {
				return &Buffer{
					device:   DeviceAccelerator,
					deviceID: deviceID,
					handle:   handle,
					data:     staging[:0],
				}
			}
			logrus.WithError(err).WithField("device_id", deviceID).
				Warn("accelerator allocation failed, falling back to host")
		} else {
			logrus.WithField("device_id", deviceID).
				Warn("no accelerator support available, falling back to host")
		}
	}
	return NewHostBuffer(size)
}

// Device delivers where the buffer lives.
func (b *Buffer) Device() Device { return b.device }

// DeviceID delivers the accelerator id for device-resident buffers.
func (b *Buffer) DeviceID() int { return b.deviceID }

// IsHost reports whether the buffer is host-resident.
func (b *Buffer) IsHost() bool { return b.device == DeviceHost }

// Len delivers the number of bytes written so far.
func (b *Buffer) Len() int { return len(b.data) }

// Cap delivers the allocated capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Append writes payload bytes at the current offset.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Bytes delivers the written bytes. The buffer retains ownership.
func (b *Buffer) Bytes() []byte { return b.data }

// Take transfers ownership of the written bytes out of the buffer.
func (b *Buffer) Take() []byte {
	data := b.data
	b.data = nil
	return data
}

// CopyToHost materialises a device-resident buffer on the host. For host
// buffers it is the identity.
func (b *Buffer) CopyToHost() (*Buffer, error) {
	if b.device == DeviceHost {
		return b, nil
	}
	if b.data == nil {
		return nil, errors.New("device buffer has no staging data")
	}
	host := NewHostBuffer(len(b.data))
	host.Append(b.data)
	return host, nil
}
