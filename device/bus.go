package device

import (
	"fmt"

	"github.com/ardnew/cdcecho/device/hal"
	"github.com/ardnew/cdcecho/pkg"
)

// BusAllocator wraps a USB controller and an endpoint arena. Classes use it
// to allocate interface numbers and endpoints while the device is being
// composed; once the device is built the allocator is frozen and only
// serves I/O.
type BusAllocator struct {
	ctrl   hal.Controller
	arena  *Arena
	frozen bool

	interfaces uint8

	// Bit n set means endpoint number n is allocated in that direction.
	inUsed  uint16
	outUsed uint16
}

// NewBusAllocator claims arena for ctrl. Each arena backs exactly one
// allocator; a second claim fails with pkg.ErrArenaInUse.
func NewBusAllocator(ctrl hal.Controller, arena *Arena) (*BusAllocator, error) {
	if ctrl == nil || arena == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if err := arena.claim(); err != nil {
		return nil, err
	}

	pkg.LogDebug(pkg.ComponentBus, "bus allocator created",
		"arenaBytes", arena.Size())

	return &BusAllocator{ctrl: ctrl, arena: arena}, nil
}

// Controller returns the wrapped controller.
func (b *BusAllocator) Controller() hal.Controller {
	return b.ctrl
}

// Arena returns the claimed arena.
func (b *BusAllocator) Arena() *Arena {
	return b.arena
}

// Frozen reports whether the device has been built on this bus.
func (b *BusAllocator) Frozen() bool {
	return b.frozen
}

// Freeze ends the allocation phase.
func (b *BusAllocator) Freeze() {
	b.frozen = true
}

// NumInterfaces returns the number of interfaces allocated so far.
func (b *BusAllocator) NumInterfaces() uint8 {
	return b.interfaces
}

// Interface allocates the next interface number.
func (b *BusAllocator) Interface() (uint8, error) {
	if b.frozen {
		return 0, pkg.ErrBusFrozen
	}
	num := b.interfaces
	b.interfaces++
	return num, nil
}

// AllocEndpoint provisions an endpoint. The endpoint number is picked by
// the controller; dir selects EndpointDirectionIn or EndpointDirectionOut.
// The packet buffer is carved from the arena, so an undersized arena fails
// here with an *ArenaExhaustedError.
func (b *BusAllocator) AllocEndpoint(dir, transferType uint8, maxPacketSize uint16, interval uint8) (*Endpoint, error) {
	return b.alloc(dir&EndpointDirectionIn, transferType&0x03, maxPacketSize, interval)
}

// AllocIn provisions an IN endpoint.
func (b *BusAllocator) AllocIn(transferType uint8, maxPacketSize uint16, interval uint8) (*EndpointIn, error) {
	ep, err := b.AllocEndpoint(EndpointDirectionIn, transferType, maxPacketSize, interval)
	if err != nil {
		return nil, err
	}
	return &EndpointIn{Endpoint: *ep}, nil
}

// AllocOut provisions an OUT endpoint.
func (b *BusAllocator) AllocOut(transferType uint8, maxPacketSize uint16, interval uint8) (*EndpointOut, error) {
	ep, err := b.AllocEndpoint(EndpointDirectionOut, transferType, maxPacketSize, interval)
	if err != nil {
		return nil, err
	}
	return &EndpointOut{Endpoint: *ep}, nil
}

// allocControl provisions both halves of EP0.
func (b *BusAllocator) allocControl(maxPacketSize uint16) (*EndpointOut, *EndpointIn, error) {
	out, err := b.alloc(EndpointDirectionOut, EndpointTypeControl, maxPacketSize, 0)
	if err != nil {
		return nil, nil, err
	}
	in, err := b.alloc(EndpointDirectionIn, EndpointTypeControl, maxPacketSize, 0)
	if err != nil {
		return nil, nil, err
	}
	return &EndpointOut{Endpoint: *out}, &EndpointIn{Endpoint: *in}, nil
}

func (b *BusAllocator) alloc(address, attributes uint8, maxPacketSize uint16, interval uint8) (*Endpoint, error) {
	if b.frozen {
		return nil, pkg.ErrBusFrozen
	}
	if maxPacketSize == 0 {
		return nil, pkg.ErrInvalidParameter
	}

	region, err := b.arena.alloc(int(maxPacketSize))
	if err != nil {
		return nil, err
	}

	cfg := hal.EndpointConfig{
		Address:       address,
		Attributes:    attributes,
		MaxPacketSize: maxPacketSize,
		Interval:      interval,
	}
	addr, err := b.ctrl.AllocEndpoint(cfg, region)
	if err != nil {
		b.arena.release(region)
		return nil, fmt.Errorf("allocate %s %s endpoint: %w",
			TransferTypeName(attributes), DirectionName(address), err)
	}

	if addr&EndpointDirectionIn != 0 {
		b.inUsed |= 1 << (addr & 0x0F)
	} else {
		b.outUsed |= 1 << (addr & 0x0F)
	}

	pkg.LogDebug(pkg.ComponentBus, "endpoint allocated",
		"address", fmt.Sprintf("0x%02X", addr),
		"type", TransferTypeName(attributes),
		"maxPacket", maxPacketSize,
		"arenaOffset", region.Offset(),
		"arenaFree", b.arena.Available())

	return &Endpoint{
		bus:           b,
		address:       addr,
		attributes:    attributes,
		maxPacketSize: maxPacketSize,
		interval:      interval,
		region:        region,
	}, nil
}

// allocated reports whether an endpoint address was provisioned on this bus.
func (b *BusAllocator) allocated(address uint8) bool {
	mask := b.outUsed
	if address&EndpointDirectionIn != 0 {
		mask = b.inUsed
	}
	return mask&(1<<(address&0x0F)) != 0
}
