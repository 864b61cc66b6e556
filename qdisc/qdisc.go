// Package qdisc holds queueing discipline parameters, their validation and
// their encoding into rtnetlink TCA_OPTIONS attributes.
package qdisc

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vishvananda/netlink/nl"
)

// AttributeWriter builds the nested attribute block of one qdisc request.
// OpenContainer emits the kind and opens TCA_OPTIONS.
type AttributeWriter interface {
	OpenContainer(kind string) error
	AppendData(attrType uint16, data []byte) error
	AppendU32(attrType uint16, v uint32) error
	AppendU64(attrType uint16, v uint64) error
	CloseContainer() error
}

// RateTabler converts rates into the kernel's tick based rate tables.
type RateTabler interface {
	// FillRateTable completes spec (cell log, link layer) and returns the
	// transmit time of each of the 256 size cells.
	FillRateTable(spec *nl.TcRateSpec, mtu uint32) ([256]uint32, error)
	// TransmitTime returns the ticks needed to send size bytes at rate
	// bytes per second.
	TransmitTime(rate uint64, size uint32) (uint32, error)
}

// Discipline is one queueing discipline kind.
type Discipline interface {
	Kind() string
	Set(key, text string) error
	Validate() error
	Encode(w AttributeWriter, rt RateTabler) error
}

var (
	kindsMu sync.RWMutex
	kinds   = map[string]func() Discipline{}
)

// RegisterKind makes a discipline kind available to NewDiscipline.
func RegisterKind(kind string, ctor func() Discipline) {
	kindsMu.Lock()
	defer kindsMu.Unlock()
	kinds[kind] = ctor
}

// NewDiscipline returns an empty discipline of the given kind.
func NewDiscipline(kind string) (Discipline, error) {
	kindsMu.RLock()
	ctor, ok := kinds[kind]
	kindsMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	return ctor(), nil
}

// Kinds lists the registered discipline kinds.
func Kinds() []string {
	kindsMu.RLock()
	defer kindsMu.RUnlock()
	names := make([]string, 0, len(kinds))
	for k := range kinds {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
