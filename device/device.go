package device

import (
	"fmt"
	"sync"

	"github.com/ardnew/cdcecho/device/hal"
	"github.com/ardnew/cdcecho/pkg"
)

// Device is a USB device composed from a bus allocator and its classes.
//
// All enumeration and endpoint state advances inside Poll. The device is a
// single-owner object: Poll, and the class I/O that follows it, must be
// called from one goroutine. Getters may be called from anywhere.
type Device struct {
	bus  *BusAllocator
	ctrl hal.Controller

	descriptor DeviceDescriptor
	config     Configuration

	// String descriptors by index; index 0 holds the language IDs.
	strings [MaxStrings][]byte

	classes []ClassDriver // Classes the device was built with
	active  []ClassDriver // Classes of the Poll in progress

	control controlPipe
	handler *StandardRequestHandler

	// Device state
	state               State
	previousState       State // State before suspend
	address             uint8
	configuration       uint8 // Active configuration value, 0 if none
	remoteWakeupEnabled bool

	mutex sync.RWMutex

	// Event callbacks
	onStateChange      func(old, new State)
	onReset            func()
	onSuspend          func()
	onResume           func()
	onSetConfiguration func(value uint8)
}

// Poll advances the device by one controller poll: bus events, one step of
// any EP0 control transfer, and endpoint activity forwarded to classes.
// It returns true when a class endpoint had I/O activity, which only
// happens in the Configured state.
//
// Poll must be called on every iteration of the main loop; a host times
// out a device that stops answering control transfers. With no arguments,
// Poll dispatches to the classes the device was built with.
func (d *Device) Poll(classes ...ClassDriver) bool {
	if len(classes) == 0 {
		classes = d.classes
	}
	d.active = classes

	result := d.ctrl.Poll()
	switch result.Event {
	case hal.EventNone:
		return false
	case hal.EventReset:
		d.reset()
		return false
	case hal.EventSuspend:
		d.suspend()
		return false
	case hal.EventResume:
		d.resume()
		return false
	}

	if result.SetupMask&1 != 0 {
		// A SETUP ends the transfer in progress. Only a status stage the
		// host already acknowledged still takes effect.
		if result.InCompleteMask&1 != 0 {
			d.control.statusComplete()
		}
		d.control.handleSetup()
	} else {
		if result.InCompleteMask&1 != 0 {
			d.control.inComplete()
		}
		if result.OutMask&1 != 0 {
			d.control.handleOut()
		}
	}

	if d.State() != StateConfigured {
		return false
	}

	out := result.OutMask &^ 1
	in := result.InCompleteMask &^ 1
	if out|in == 0 {
		return false
	}
	for num := uint8(1); num < hal.MaxEndpoints; num++ {
		bit := uint16(1) << num
		if out&bit != 0 {
			for _, c := range classes {
				c.EndpointOut(num)
			}
		}
		if in&bit != 0 {
			for _, c := range classes {
				c.EndpointInComplete(num | EndpointDirectionIn)
			}
		}
	}
	return true
}

// Bus returns the bus allocator the device was built on.
func (d *Device) Bus() *BusAllocator {
	return d.bus
}

// Descriptor returns a copy of the device descriptor.
func (d *Device) Descriptor() DeviceDescriptor {
	return d.descriptor
}

// ConfigurationDescriptor returns the complete configuration descriptor.
func (d *Device) ConfigurationDescriptor() []byte {
	buf := make([]byte, d.config.TotalLength())
	d.config.MarshalTo(buf)
	return buf
}

// GetString returns a string descriptor by index, or nil.
func (d *Device) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	return d.strings[index]
}

// State returns the current device state.
func (d *Device) State() State {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.state
}

// setState changes the device state and triggers callback.
func (d *Device) setState(newState State) {
	d.mutex.Lock()
	oldState := d.state
	d.state = newState
	callback := d.onStateChange
	d.mutex.Unlock()

	if oldState != newState {
		pkg.LogDebug(pkg.ComponentDevice, "device state changed",
			"from", oldState.String(),
			"to", newState.String())
		if callback != nil {
			callback(oldState, newState)
		}
	}
}

// Address returns the device address.
func (d *Device) Address() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.address
}

// Configuration returns the active configuration value, 0 if unconfigured.
func (d *Device) Configuration() uint8 {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.configuration
}

// IsConfigured returns true if the device is configured.
func (d *Device) IsConfigured() bool {
	return d.State() == StateConfigured
}

// IsSuspended returns true if the device is suspended.
func (d *Device) IsSuspended() bool {
	return d.State() == StateSuspended
}

// IsRemoteWakeupEnabled returns true if the host enabled remote wakeup.
func (d *Device) IsRemoteWakeupEnabled() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.remoteWakeupEnabled
}

// GetStatus returns the device status.
func (d *Device) GetStatus() DeviceStatus {
	var status DeviceStatus
	if d.config.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.IsRemoteWakeupEnabled() {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// reset handles a bus reset.
func (d *Device) reset() {
	d.ctrl.Reset()
	d.control.abort()

	d.mutex.Lock()
	d.address = 0
	d.configuration = 0
	d.remoteWakeupEnabled = false
	callback := d.onReset
	d.mutex.Unlock()

	d.resetClasses()
	d.setState(StateDefault)

	if callback != nil {
		callback()
	}

	pkg.LogDebug(pkg.ComponentDevice, "bus reset")
}

// suspend handles bus idle.
func (d *Device) suspend() {
	d.mutex.Lock()
	if d.state == StateSuspended {
		d.mutex.Unlock()
		return
	}
	d.previousState = d.state
	callback := d.onSuspend
	d.mutex.Unlock()

	d.ctrl.Suspend()
	d.setState(StateSuspended)

	if callback != nil {
		callback()
	}
}

// resume handles bus activity after suspend.
func (d *Device) resume() {
	d.mutex.Lock()
	if d.state != StateSuspended {
		d.mutex.Unlock()
		return
	}
	previousState := d.previousState
	callback := d.onResume
	d.mutex.Unlock()

	d.ctrl.Resume()
	d.setState(previousState)

	if callback != nil {
		callback()
	}
}

// prepareAddress validates a SET_ADDRESS request. The address takes effect
// after the status stage completes.
func (d *Device) prepareAddress(address uint8) error {
	state := d.State()
	if state != StateDefault && state != StateAddress {
		return pkg.ErrInvalidState
	}
	d.control.deferAddress(address)
	return nil
}

// applyAddress programs the controller with the new address.
func (d *Device) applyAddress(address uint8) {
	d.ctrl.SetDeviceAddress(address)

	d.mutex.Lock()
	d.address = address
	d.mutex.Unlock()

	if address == 0 {
		d.setState(StateDefault)
	} else {
		d.setState(StateAddress)
	}

	pkg.LogDebug(pkg.ComponentDevice, "device address set",
		"address", address)
}

// setConfiguration handles SET_CONFIGURATION.
func (d *Device) setConfiguration(value uint8) error {
	if !d.State().Enumerated() {
		return pkg.ErrInvalidState
	}
	if value != 0 && value != d.config.Value {
		return pkg.ErrInvalidRequest
	}

	d.mutex.Lock()
	d.configuration = value
	callback := d.onSetConfiguration
	d.mutex.Unlock()

	d.resetClasses()

	if value == 0 {
		d.setState(StateAddress)
		return nil
	}
	d.setState(StateConfigured)

	if callback != nil {
		callback(value)
	}

	pkg.LogInfo(pkg.ComponentDevice, "device configured",
		"configuration", value,
		"address", d.Address())

	return nil
}

// enableRemoteWakeup records the host's remote wakeup setting.
func (d *Device) enableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.remoteWakeupEnabled = enabled
}

// validInterface reports whether number names an interface of the active
// configuration.
func (d *Device) validInterface(number uint8) bool {
	return d.State() == StateConfigured && number < d.config.NumInterfaces
}

// validEndpoint reports whether address names EP0 or, once configured, an
// endpoint provisioned on the bus.
func (d *Device) validEndpoint(address uint8) bool {
	if address&0x0F == 0 {
		return true
	}
	return d.State() == StateConfigured && d.bus.allocated(address)
}

func (d *Device) resetClasses() {
	for _, c := range d.active {
		c.Reset()
	}
}

// SetOnStateChange sets the state change callback.
func (d *Device) SetOnStateChange(cb func(old, new State)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onStateChange = cb
}

// SetOnReset sets the bus reset callback.
func (d *Device) SetOnReset(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onReset = cb
}

// SetOnSuspend sets the suspend callback.
func (d *Device) SetOnSuspend(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSuspend = cb
}

// SetOnResume sets the resume callback.
func (d *Device) SetOnResume(cb func()) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onResume = cb
}

// SetOnSetConfiguration sets the set configuration callback.
func (d *Device) SetOnSetConfiguration(cb func(value uint8)) {
	d.mutex.Lock()
	defer d.mutex.Unlock()
	d.onSetConfiguration = cb
}

// DeviceBuilder provides a fluent API for building devices.
type DeviceBuilder struct {
	bus     *BusAllocator
	desc    DeviceDescriptor
	config  Configuration
	strings [3]string // Manufacturer, product, serial number
	errors  []error
}

// NewDeviceBuilder creates a builder for a device on bus. Defaults: USB
// 2.0, full-speed EP0 of 64 bytes, bus powered at 100 mA.
func NewDeviceBuilder(bus *BusAllocator) *DeviceBuilder {
	return &DeviceBuilder{
		bus: bus,
		desc: DeviceDescriptor{
			USBVersion:        0x0200,
			MaxPacketSize0:    64,
			DeviceVersion:     0x0100,
			NumConfigurations: 1,
		},
		config: Configuration{
			Value:      ConfigurationValue,
			Attributes: ConfigAttrBusPowered,
			MaxPower:   50,
		},
	}
}

// WithVendorProduct sets vendor and product IDs.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	b.desc.VendorID = vendorID
	b.desc.ProductID = productID
	return b
}

// WithStrings sets the manufacturer, product, and serial strings.
// Empty strings get no descriptor.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	b.strings = [3]string{manufacturer, product, serial}
	return b
}

// WithDeviceClass sets the device-level class triple. Hosts use a CDC
// device class to bind their serial driver without an IAD.
func (b *DeviceBuilder) WithDeviceClass(class, subClass, protocol uint8) *DeviceBuilder {
	b.desc.DeviceClass = class
	b.desc.DeviceSubClass = subClass
	b.desc.DeviceProtocol = protocol
	return b
}

// WithDeviceRelease sets the BCD device release number.
func (b *DeviceBuilder) WithDeviceRelease(bcd uint16) *DeviceBuilder {
	b.desc.DeviceVersion = bcd
	return b
}

// WithMaxPacketSize0 sets the EP0 packet size (8, 16, 32 or 64).
func (b *DeviceBuilder) WithMaxPacketSize0(size uint8) *DeviceBuilder {
	switch size {
	case 8, 16, 32, 64:
		b.desc.MaxPacketSize0 = size
	default:
		b.errors = append(b.errors, fmt.Errorf("EP0 packet size %d: %w", size, pkg.ErrInvalidParameter))
	}
	return b
}

// WithMaxPower sets the bus current draw in milliamps (at most 500).
func (b *DeviceBuilder) WithMaxPower(milliamps uint16) *DeviceBuilder {
	if milliamps > 500 {
		b.errors = append(b.errors, fmt.Errorf("max power %d mA: %w", milliamps, pkg.ErrInvalidParameter))
		return b
	}
	b.config.MaxPower = uint8((milliamps + 1) / 2)
	return b
}

// WithSelfPowered marks the configuration self-powered.
func (b *DeviceBuilder) WithSelfPowered(selfPowered bool) *DeviceBuilder {
	if selfPowered {
		b.config.Attributes |= ConfigAttrSelfPowered
	} else {
		b.config.Attributes &^= ConfigAttrSelfPowered
	}
	return b
}

// WithRemoteWakeup advertises remote wakeup support.
func (b *DeviceBuilder) WithRemoteWakeup(enabled bool) *DeviceBuilder {
	if enabled {
		b.config.Attributes |= ConfigAttrRemoteWakeup
	} else {
		b.config.Attributes &^= ConfigAttrRemoteWakeup
	}
	return b
}

// Build renders the configuration descriptor from classes, allocates EP0,
// enables the controller and freezes the bus. The returned device is in
// the Powered state until the host resets the bus.
func (b *DeviceBuilder) Build(classes ...ClassDriver) (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.bus == nil {
		return nil, pkg.ErrInvalidParameter
	}
	if b.bus.Frozen() {
		return nil, pkg.ErrBusFrozen
	}

	d := &Device{
		bus:        b.bus,
		ctrl:       b.bus.ctrl,
		descriptor: b.desc,
		config:     b.config,
		classes:    classes,
		active:     classes,
		state:      StateAttached,
	}
	if err := d.config.render(classes); err != nil {
		return nil, fmt.Errorf("render configuration: %w", err)
	}

	out, in, err := b.bus.allocControl(uint16(b.desc.MaxPacketSize0))
	if err != nil {
		return nil, fmt.Errorf("allocate control endpoint: %w", err)
	}
	d.control.init(d, out, in)
	d.handler = NewStandardRequestHandler(d)

	d.setStrings(b.strings)

	b.bus.Freeze()
	d.ctrl.Enable()
	d.setState(StatePowered)

	pkg.LogInfo(pkg.ComponentDevice, "device built",
		"vid", fmt.Sprintf("0x%04X", d.descriptor.VendorID),
		"pid", fmt.Sprintf("0x%04X", d.descriptor.ProductID),
		"interfaces", d.config.NumInterfaces,
		"configLength", d.config.TotalLength(),
		"arenaUsed", b.bus.arena.Used())

	return d, nil
}

// setStrings encodes the language table and the descriptor strings.
func (d *Device) setStrings(values [3]string) {
	lang := make([]byte, 4)
	LanguageDescriptorTo(lang, LangIDUSEnglish)
	d.strings[0] = lang

	indexes := [3]*uint8{
		&d.descriptor.ManufacturerIndex,
		&d.descriptor.ProductIndex,
		&d.descriptor.SerialNumberIndex,
	}
	for i, s := range values {
		if s == "" {
			continue
		}
		buf := make([]byte, MaxStringLength)
		n := StringDescriptorTo(buf, s)
		index := uint8(i + 1)
		d.strings[index] = buf[:n]
		*indexes[i] = index
	}
}
