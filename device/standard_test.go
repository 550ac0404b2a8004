package device

import (
	"encoding/binary"
	"errors"
	"testing"

	"github.com/ardnew/cdcecho/pkg"
)

func (td *testDevice) controlIn(t *testing.T, setup *SetupPacket) ([]byte, error) {
	t.Helper()
	buf := make([]byte, MaxDescriptorResponseSize)
	n, err := td.host.ControlIn(testContext(t), &setup.SetupPacket, buf)
	return buf[:n], err
}

func (td *testDevice) controlOut(t *testing.T, setup *SetupPacket) error {
	t.Helper()
	err := td.host.ControlOut(testContext(t), &setup.SetupPacket, nil)
	td.poll() // complete the status stage
	return err
}

func TestStandardGetStatus(t *testing.T) {
	td := newTestDevice(t, 64)
	td.enumerate(t)

	tests := []struct {
		name      string
		recipient uint8
		index     uint16
		want      uint16
		wantErr   error
	}{
		{"device", RequestRecipientDevice, 0, 0, nil},
		{"interface", RequestRecipientInterface, 0, 0, nil},
		{"endpoint", RequestRecipientEndpoint, uint16(td.class.in.Address()), 0, nil},
		{"EP0", RequestRecipientEndpoint, 0x80, 0, nil},
		{"missing interface", RequestRecipientInterface, 4, 0, pkg.ErrStall},
		{"missing endpoint", RequestRecipientEndpoint, 0x85, 0, pkg.ErrStall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var setup SetupPacket
			setup = Standard(RequestGetStatus, tt.recipient, 0, tt.index, 2)
			got, err := td.controlIn(t, &setup)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GET_STATUS error = %v, want %v", err, tt.wantErr)
			}
			if err != nil {
				return
			}
			if len(got) != 2 || binary.LittleEndian.Uint16(got) != tt.want {
				t.Errorf("GET_STATUS = % X, want %04X", got, tt.want)
			}
		})
	}
}

func TestStandardRemoteWakeupFeature(t *testing.T) {
	td := newTestDevice(t, 64)
	td.enumerate(t)

	var setup SetupPacket
	setup = Standard(RequestSetFeature, RequestRecipientDevice, FeatureDeviceRemoteWakeup, 0, 0)
	if err := td.controlOut(t, &setup); err != nil {
		t.Fatalf("SET_FEATURE error = %v", err)
	}
	if !td.dev.IsRemoteWakeupEnabled() {
		t.Error("IsRemoteWakeupEnabled() = false after SET_FEATURE")
	}

	setup = Standard(RequestGetStatus, RequestRecipientDevice, 0, 0, 2)
	got, err := td.controlIn(t, &setup)
	if err != nil || binary.LittleEndian.Uint16(got) != uint16(DeviceStatusRemoteWakeup) {
		t.Errorf("GET_STATUS = % X, %v", got, err)
	}

	setup = Standard(RequestClearFeature, RequestRecipientDevice, FeatureDeviceRemoteWakeup, 0, 0)
	if err := td.controlOut(t, &setup); err != nil {
		t.Fatalf("CLEAR_FEATURE error = %v", err)
	}
	if td.dev.IsRemoteWakeupEnabled() {
		t.Error("IsRemoteWakeupEnabled() = true after CLEAR_FEATURE")
	}

	setup = Standard(RequestSetFeature, RequestRecipientDevice, FeatureTestMode, 0, 0)
	if err := td.controlOut(t, &setup); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_FEATURE(test mode) error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestStandardEndpointHalt(t *testing.T) {
	td := newTestDevice(t, 64)
	td.enumerate(t)
	in := td.class.in.Address()

	var setup SetupPacket
	setup = Standard(RequestSetFeature, RequestRecipientEndpoint, FeatureEndpointHalt, uint16(in), 0)
	if err := td.controlOut(t, &setup); err != nil {
		t.Fatalf("SET_FEATURE(halt) error = %v", err)
	}
	if !td.class.in.IsStalled() {
		t.Fatal("endpoint not halted")
	}

	setup = Standard(RequestGetStatus, RequestRecipientEndpoint, 0, uint16(in), 2)
	got, err := td.controlIn(t, &setup)
	if err != nil || binary.LittleEndian.Uint16(got) != 1 {
		t.Errorf("GET_STATUS(halted) = % X, %v, want 01 00", got, err)
	}

	var buf [64]byte
	if _, err := td.host.In(td.class.in.Number(), buf[:]); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("In() on halted endpoint error = %v, want %v", err, pkg.ErrStall)
	}

	setup = Standard(RequestClearFeature, RequestRecipientEndpoint, FeatureEndpointHalt, uint16(in), 0)
	if err := td.controlOut(t, &setup); err != nil {
		t.Fatalf("CLEAR_FEATURE(halt) error = %v", err)
	}
	if td.class.in.IsStalled() {
		t.Error("endpoint still halted after CLEAR_FEATURE")
	}
}

func TestStandardInterfaceRequests(t *testing.T) {
	td := newTestDevice(t, 64)
	td.enumerate(t)

	var setup SetupPacket
	setup.RequestType = RequestDirectionDeviceToHost | RequestRecipientInterface
	setup.Request = RequestGetInterface
	setup.Length = 1
	got, err := td.controlIn(t, &setup)
	if err != nil || len(got) != 1 || got[0] != 0 {
		t.Errorf("GET_INTERFACE = % X, %v, want 00", got, err)
	}

	setup = SetupPacket{}
	setup.RequestType = RequestRecipientInterface
	setup.Request = RequestSetInterface
	if err := td.controlOut(t, &setup); err != nil {
		t.Errorf("SET_INTERFACE(0) error = %v", err)
	}
	setup.Value = 1
	if err := td.controlOut(t, &setup); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_INTERFACE(1) error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestStandardGetDescriptor(t *testing.T) {
	td := newTestDevice(t, 64)
	td.enumerate(t)

	tests := []struct {
		name     string
		descType uint8
		index    uint8
		length   uint16
		wantLen  int
		wantErr  error
	}{
		{"device", DescriptorTypeDevice, 0, 255, DeviceDescriptorSize, nil},
		{"device truncated", DescriptorTypeDevice, 0, 8, 8, nil},
		{"configuration", DescriptorTypeConfiguration, 0, 255, td.dev.config.TotalLength(), nil},
		{"configuration header", DescriptorTypeConfiguration, 0, 9, 9, nil},
		{"configuration index 1", DescriptorTypeConfiguration, 1, 255, 0, pkg.ErrStall},
		{"languages", DescriptorTypeString, 0, 255, 4, nil},
		{"product", DescriptorTypeString, 2, 255, 2 + 2*len("Serial port"), nil},
		{"missing string", DescriptorTypeString, 7, 255, 0, pkg.ErrStall},
		{"device qualifier", DescriptorTypeDeviceQualifier, 0, 10, 0, pkg.ErrStall},
		{"other speed", DescriptorTypeOtherSpeedConfig, 0, 255, 0, pkg.ErrStall},
		{"unknown", 0x42, 0, 255, 0, pkg.ErrStall},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var setup SetupPacket
			setup = Standard(RequestGetDescriptor, RequestRecipientDevice, DescriptorValue(tt.descType, tt.index), 0, tt.length)
			got, err := td.controlIn(t, &setup)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("GET_DESCRIPTOR error = %v, want %v", err, tt.wantErr)
			}
			if err == nil && len(got) != tt.wantLen {
				t.Errorf("GET_DESCRIPTOR length = %d, want %d", len(got), tt.wantLen)
			}
		})
	}
}

func TestStandardSetConfiguration(t *testing.T) {
	td := newTestDevice(t, 64)
	td.enumerate(t)

	var setup SetupPacket
	setup = Standard(RequestSetConfiguration, RequestRecipientDevice, 2, 0, 0)
	if err := td.controlOut(t, &setup); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_CONFIGURATION(2) error = %v, want %v", err, pkg.ErrStall)
	}
	if !td.dev.IsConfigured() {
		t.Error("invalid SET_CONFIGURATION changed the state")
	}

	setup = Standard(RequestSetConfiguration, RequestRecipientDevice, 0, 0, 0)
	if err := td.controlOut(t, &setup); err != nil {
		t.Fatalf("SET_CONFIGURATION(0) error = %v", err)
	}
	if td.dev.State() != StateAddress || td.dev.Configuration() != 0 {
		t.Errorf("State() = %v, Configuration() = %d, want Address, 0", td.dev.State(), td.dev.Configuration())
	}

	// Interface requests are only valid while configured.
	var get SetupPacket
	get = Standard(RequestGetStatus, RequestRecipientInterface, 0, 0, 2)
	if _, err := td.controlIn(t, &get); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("interface GET_STATUS in Address state error = %v, want %v", err, pkg.ErrStall)
	}
}

func TestStandardSetAddressInvalid(t *testing.T) {
	td := newTestDevice(t, 64)
	td.enumerate(t)

	var setup SetupPacket
	setup = Standard(RequestSetAddress, RequestRecipientDevice, 9, 0, 0)
	if err := td.controlOut(t, &setup); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_ADDRESS while configured error = %v, want %v", err, pkg.ErrStall)
	}

	setup.Value = 128
	if err := td.controlOut(t, &setup); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SET_ADDRESS(128) error = %v, want %v", err, pkg.ErrStall)
	}
	if td.dev.Address() != 5 {
		t.Errorf("Address() = %d, want 5", td.dev.Address())
	}
}

func BenchmarkStandardGetDescriptor(b *testing.B) {
	ctrl, bus := newTestBus(b, DefaultArenaWords)
	dev, _ := NewDeviceBuilder(bus).WithStrings("Fake company", "Serial port", "TEST").Build()
	ctrl.Host().Attach()
	dev.Poll()

	var setup SetupPacket
	setup = Standard(RequestGetDescriptor, RequestRecipientDevice, DescriptorValue(DescriptorTypeDevice, 0), 0, 18)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := dev.handler.HandleSetup(&setup, nil); err != nil {
			b.Fatal(err)
		}
	}
}
