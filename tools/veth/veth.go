package main

import (
	"fmt"
	"os"

	vnetlink "github.com/vishvananda/netlink"
)

// Creates the zeth01/zeth02 veth pair used for trying tbfctl by hand.
// Any argument deletes it again.
func main() {

	args := os.Args

	name1 := "zeth01"
	name2 := "zeth02"

	if len(args) > 1 {
		for _, name := range []string{name1, name2} {
			if link, err := vnetlink.LinkByName(name); err == nil {
				vnetlink.LinkDel(link)
			}
		}
		return
	}

	veth := &vnetlink.Veth{
		LinkAttrs: vnetlink.LinkAttrs{Name: name1},
		PeerName:  name2,
	}
	if err := vnetlink.LinkAdd(veth); err != nil {
		fmt.Printf("Could not create veth pair %s %s: %s\n", name1, name2, err)
		os.Exit(1)
	}
	for _, name := range []string{name1, name2} {
		if link, err := vnetlink.LinkByName(name); err == nil {
			vnetlink.LinkSetUp(link)
		}
	}
}
