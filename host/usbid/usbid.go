// Package usbid names USB devices from the usb.ids database shipped with
// most Linux distributions.
//
// The database is read once and is immutable afterwards, so lookups are
// safe for concurrent use:
//
//	db, err := usbid.Load()
//	if err == nil {
//		fmt.Println(db.Describe(0x16C0, 0x27DD))
//	}
package usbid

import (
	"bufio"
	"fmt"
	"io"
	"io/fs"
	"os"
	"strconv"
	"strings"
)

// DefaultPaths lists the usual locations of usb.ids, most specific first.
var DefaultPaths = []string{
	"/usr/share/hwdata/usb.ids",
	"/var/lib/usbutils/usb.ids",
	"/usr/share/misc/usb.ids",
}

// Database maps vendor and product IDs to names.
type Database struct {
	vendors  map[uint16]string
	products map[uint32]string // vid<<16 | pid
}

func productKey(vid, pid uint16) uint32 {
	return uint32(vid)<<16 | uint32(pid)
}

// Load parses the first readable file among paths, or DefaultPaths when
// none are given. It fails with an error wrapping fs.ErrNotExist when no
// file can be opened.
func Load(paths ...string) (*Database, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	for _, path := range paths {
		f, err := os.Open(path)
		if err != nil {
			continue
		}
		defer f.Close()
		db, err := Parse(f)
		if err != nil {
			return nil, fmt.Errorf("usbid: %s: %w", path, err)
		}
		return db, nil
	}
	return nil, fmt.Errorf("usbid: no database in %v: %w", paths, fs.ErrNotExist)
}

// Parse reads the usb.ids format. Vendor lines are "vvvv  name", product
// lines are a tab followed by "pppp  name". Everything else, including
// the class and language sections, is skipped.
func Parse(r io.Reader) (*Database, error) {
	db := &Database{
		vendors:  make(map[uint16]string),
		products: make(map[uint32]string),
	}

	var vid uint16
	inVendor := false
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" || line[0] == '#' {
			continue
		}
		if strings.HasPrefix(line, "\t\t") {
			continue // interface entry
		}
		if line[0] == '\t' {
			if !inVendor {
				continue
			}
			if id, name, ok := parseEntry(line[1:]); ok {
				db.products[productKey(vid, id)] = name
			}
			continue
		}

		id, name, ok := parseEntry(line)
		inVendor = ok
		if ok {
			vid = id
			db.vendors[vid] = name
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return db, nil
}

// parseEntry splits "xxxx  name" into its hex ID and name.
func parseEntry(s string) (uint16, string, bool) {
	if len(s) < 7 || s[4] != ' ' {
		return 0, "", false
	}
	id, err := strconv.ParseUint(s[:4], 16, 16)
	if err != nil {
		return 0, "", false
	}
	name := strings.TrimSpace(s[5:])
	if name == "" {
		return 0, "", false
	}
	return uint16(id), name, true
}

// Vendor returns the vendor name, or "" if unknown.
func (db *Database) Vendor(vid uint16) string {
	if db == nil {
		return ""
	}
	return db.vendors[vid]
}

// Product returns the product name, or "" if unknown.
func (db *Database) Product(vid, pid uint16) string {
	if db == nil {
		return ""
	}
	return db.products[productKey(vid, pid)]
}

// Len returns the number of vendors and products known.
func (db *Database) Len() (vendors, products int) {
	if db == nil {
		return 0, 0
	}
	return len(db.vendors), len(db.products)
}

// Describe formats a device as "Vendor Product (vvvv:pppp)", leaving out
// names the database does not know. A nil Database only prints the IDs.
func (db *Database) Describe(vid, pid uint16) string {
	ids := fmt.Sprintf("%04x:%04x", vid, pid)
	var parts []string
	if v := db.Vendor(vid); v != "" {
		parts = append(parts, v)
	}
	if p := db.Product(vid, pid); p != "" {
		parts = append(parts, p)
	}
	if len(parts) == 0 {
		return ids
	}
	return strings.Join(parts, " ") + " (" + ids + ")"
}
