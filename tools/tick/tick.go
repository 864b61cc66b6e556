package main

import (
	"fmt"
	"os"

	"github.com/shashidharatd/tbfctl/netlink"
)

// Prints the packet scheduler clock the rate tables are computed with.
func main() {
	path := netlink.PschedPath
	if len(os.Args) > 1 {
		path = os.Args[1]
	}

	clock, err := netlink.ReadPsched(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	rt := netlink.NewRateTable(clock)
	ticks, err := rt.TransmitTime(125000, 1500)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}

	fmt.Printf("tick_in_usec=%f, clock_factor=%f, 1500 bytes at 1mbit=%d ticks\n", clock.TickInUsec, clock.ClockFactor, ticks)
}
