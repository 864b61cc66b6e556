package netlink

import (
	"math"

	"github.com/pkg/errors"
	vnetlink "github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
)

var (
	ErrZeroRate      = errors.New("rate is zero")
	ErrTicksOverflow = errors.New("transmit time does not fit 32 bits")
	ErrNoClock       = errors.New("psched clock unavailable")
)

// RateTable implements qdisc.RateTabler on a psched clock.
type RateTable struct {
	Clock     Clock
	Linklayer int
}

func NewRateTable(clock Clock) *RateTable {
	return &RateTable{Clock: clock, Linklayer: nl.LINKLAYER_ETHERNET}
}

// TransmitTime returns the ticks needed to send size bytes at rate bytes
// per second, rounding the microsecond value up.
func (rt *RateTable) TransmitTime(rate uint64, size uint32) (uint32, error) {
	if rate == 0 {
		return 0, ErrZeroRate
	}
	if rt.Clock.TickInUsec == 0 {
		return 0, ErrNoClock
	}

	scaled := uint64(size) * TIME_UNITS_PER_SEC
	usec := scaled / rate
	if scaled%rate != 0 {
		usec++
	}

	ticks := rt.Clock.Time2Tick(float64(usec))
	if ticks > math.MaxUint32 {
		return 0, errors.Wrapf(ErrTicksOverflow, "%d bytes at %d bytes/s", size, rate)
	}
	return uint32(ticks), nil
}

// FillRateTable computes the 256 cell table for spec.Rate. An mtu of zero
// selects 2047 bytes, as tc does.
func (rt *RateTable) FillRateTable(spec *nl.TcRateSpec, mtu uint32) ([256]uint32, error) {
	var rtab [256]uint32

	if mtu == 0 {
		mtu = 2047
	}
	cellLog := 0
	for (mtu >> uint(cellLog)) > 255 {
		cellLog++
	}

	for i := range rtab {
		sz := vnetlink.AdjustSize(uint((i+1)<<cellLog), uint(spec.Mpu), rt.Linklayer)
		t, err := rt.TransmitTime(uint64(spec.Rate), uint32(sz))
		if err != nil {
			return rtab, err
		}
		rtab[i] = t
	}

	spec.CellAlign = -1
	spec.CellLog = uint8(cellLog)
	spec.Linklayer = uint8(rt.Linklayer & nl.TC_LINKLAYER_MASK)
	return rtab, nil
}
