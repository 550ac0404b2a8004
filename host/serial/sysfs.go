package serial

import (
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/ardnew/cdcecho/pkg"
)

// Default mount points searched by Scan and Find.
const (
	SysfsRoot = "/sys"
	DevRoot   = "/dev"
)

// ttyPrefix names the ttys created by the Linux cdc-acm driver.
const ttyPrefix = "ttyACM"

// TTY describes a CDC-ACM tty and the USB device behind it.
type TTY struct {
	Path         string // Device node, e.g. /dev/ttyACM0
	VendorID     uint16
	ProductID    uint16
	Interface    uint8 // bInterfaceNumber of the bound interface
	Manufacturer string
	Product      string
	SerialNumber string
}

// Scan lists every CDC-ACM tty on the system. It needs sysfs, so it fails
// outside Linux.
func Scan() ([]TTY, error) {
	return scanTTYs(SysfsRoot, DevRoot)
}

// Find returns the CDC-ACM ttys whose USB device matches vid and pid. It
// fails with pkg.ErrNoDevice when none does.
func Find(vid, pid uint16) ([]TTY, error) {
	return findTTYs(SysfsRoot, DevRoot, vid, pid)
}

func findTTYs(sysRoot, devRoot string, vid, pid uint16) ([]TTY, error) {
	all, err := scanTTYs(sysRoot, devRoot)
	if err != nil {
		return nil, err
	}
	var match []TTY
	for _, t := range all {
		if t.VendorID == vid && t.ProductID == pid {
			match = append(match, t)
		}
	}
	if len(match) == 0 {
		return nil, pkg.ErrNoDevice
	}
	return match, nil
}

// scanTTYs walks <sysRoot>/class/tty. Each ttyACM entry links to the USB
// interface the driver bound; the interface's parent is the USB device.
func scanTTYs(sysRoot, devRoot string) ([]TTY, error) {
	entries, err := os.ReadDir(filepath.Join(sysRoot, "class", "tty"))
	if err != nil {
		return nil, err
	}

	var ttys []TTY
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, ttyPrefix) {
			continue
		}
		iface, err := filepath.EvalSymlinks(filepath.Join(sysRoot, "class", "tty", name, "device"))
		if err != nil {
			continue
		}
		t, err := parseTTY(iface)
		if err != nil {
			pkg.LogDebug(pkg.ComponentHost, "skipping tty", "name", name, "error", err)
			continue
		}
		t.Path = filepath.Join(devRoot, name)
		ttys = append(ttys, t)
	}

	sort.Slice(ttys, func(i, j int) bool { return ttys[i].Path < ttys[j].Path })
	return ttys, nil
}

// parseTTY reads the identity of the USB device owning interface dir iface.
func parseTTY(iface string) (TTY, error) {
	var t TTY
	dev := filepath.Dir(iface)

	vid, err := readSysfsHexUint16(filepath.Join(dev, "idVendor"))
	if err != nil {
		return t, err
	}
	pid, err := readSysfsHexUint16(filepath.Join(dev, "idProduct"))
	if err != nil {
		return t, err
	}
	t.VendorID, t.ProductID = vid, pid

	if n, err := readSysfsHex(filepath.Join(iface, "bInterfaceNumber"), 8); err == nil {
		t.Interface = uint8(n)
	}

	// String descriptors are optional.
	t.Manufacturer, _ = readSysfsString(filepath.Join(dev, "manufacturer"))
	t.Product, _ = readSysfsString(filepath.Join(dev, "product"))
	t.SerialNumber, _ = readSysfsString(filepath.Join(dev, "serial"))
	return t, nil
}

func readSysfsString(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

func readSysfsHex(path string, bitSize int) (uint64, error) {
	s, err := readSysfsString(path)
	if err != nil {
		return 0, err
	}
	return strconv.ParseUint(strings.TrimPrefix(s, "0x"), 16, bitSize)
}

func readSysfsHexUint16(path string) (uint16, error) {
	v, err := readSysfsHex(path, 16)
	if err != nil {
		return 0, err
	}
	return uint16(v), nil
}
