package qdisc

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	TC_H_UNSPEC  = 0x00000000
	TC_H_ROOT    = 0xFFFFFFFF
	TC_H_INGRESS = 0xFFFFFFF1
)

// MakeHandle packs a major:minor pair.
func MakeHandle(major, minor uint16) uint32 {
	return uint32(major)<<16 | uint32(minor)
}

// HandleString formats a handle the way tc prints it.
func HandleString(handle uint32) string {
	switch {
	case handle == TC_H_ROOT:
		return "root"
	case handle == TC_H_INGRESS:
		return "ingress"
	case handle == TC_H_UNSPEC:
		return "none"
	case handle&0xFFFF0000 == 0:
		return fmt.Sprintf(":%x", handle&0x0000FFFF)
	case handle&0x0000FFFF == 0:
		return fmt.Sprintf("%x:", (handle&0xFFFF0000)>>16)
	default:
		return fmt.Sprintf("%x:%x", (handle&0xFFFF0000)>>16, handle&0x0000FFFF)
	}
}

// ParseHandle accepts "root", "ingress", "none", "1:", "1:2" and ":2".
// Numbers are hexadecimal.
func ParseHandle(s string) (uint32, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "root":
		return TC_H_ROOT, nil
	case "ingress":
		return TC_H_INGRESS, nil
	case "none", "":
		return TC_H_UNSPEC, nil
	}

	maj, min, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, fmt.Errorf("invalid handle %q: missing ':'", s)
	}
	var major, minor uint64
	var err error
	if maj != "" {
		if major, err = strconv.ParseUint(maj, 16, 16); err != nil {
			return 0, fmt.Errorf("invalid handle %q: %w", s, err)
		}
	}
	if min != "" {
		if minor, err = strconv.ParseUint(min, 16, 16); err != nil {
			return 0, fmt.Errorf("invalid handle %q: %w", s, err)
		}
	}
	return MakeHandle(uint16(major), uint16(minor)), nil
}

// AttachPoint identifies the slot a discipline is attached to.
type AttachPoint struct {
	Namespace string
	Link      string
	Parent    uint32
}

func (ap AttachPoint) String() string {
	s := ap.Link
	if ap.Namespace != "" {
		s = ap.Namespace + "/" + s
	}
	if ap.Parent == TC_H_ROOT || ap.Parent == TC_H_INGRESS {
		return s + " " + HandleString(ap.Parent)
	}
	return s + " parent " + HandleString(ap.Parent)
}
