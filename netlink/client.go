package netlink

import (
	"github.com/pkg/errors"
	vnetlink "github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
	"github.com/vishvananda/netns"
	"golang.org/x/sys/unix"

	"github.com/shashidharatd/tbfctl/qdisc"
)

// Client talks rtnetlink in one network namespace. It does not retry.
type Client struct {
	nsName  string
	ns      netns.NsHandle
	handle  *vnetlink.Handle
	sockets map[int]*nl.SocketHandle
}

// NewClient opens sockets in the named namespace, or in the current one
// when nsName is empty.
func NewClient(nsName string) (*Client, error) {
	c := &Client{nsName: nsName, ns: netns.None()}
	if nsName != "" {
		ns, err := netns.GetFromName(nsName)
		if err != nil {
			return nil, errors.Wrapf(err, "open netns %s", nsName)
		}
		c.ns = ns
	}

	h, err := vnetlink.NewHandleAt(c.ns, unix.NETLINK_ROUTE)
	if err != nil {
		c.closeNs()
		return nil, errors.Wrap(err, "open netlink handle")
	}
	c.handle = h

	s, err := nl.GetNetlinkSocketAt(c.ns, netns.None(), unix.NETLINK_ROUTE)
	if err != nil {
		h.Close()
		c.closeNs()
		return nil, errors.Wrap(err, "open netlink socket")
	}
	c.sockets = map[int]*nl.SocketHandle{unix.NETLINK_ROUTE: {Socket: s}}

	return c, nil
}

func (c *Client) closeNs() {
	if c.ns.IsOpen() {
		c.ns.Close()
	}
}

func (c *Client) Close() {
	for _, sh := range c.sockets {
		sh.Close()
	}
	c.sockets = nil
	if c.handle != nil {
		c.handle.Close()
	}
	c.closeNs()
}

func (c *Client) Namespace() string { return c.nsName }

func (c *Client) LinkByName(name string) (vnetlink.Link, error) {
	link, err := c.handle.LinkByName(name)
	if err != nil {
		return nil, errors.Wrapf(err, "non-existent interface %s", name)
	}
	return link, nil
}

func (c *Client) newRequest(proto, flags int) *nl.NetlinkRequest {
	req := nl.NewNetlinkRequest(proto, flags)
	req.Sockets = c.sockets
	return req
}

func (c *Client) qdiscModify(cmd, flags int, ap qdisc.AttachPoint, handle uint32, attrs []nl.NetlinkRequestData) error {
	link, err := c.LinkByName(ap.Link)
	if err != nil {
		return err
	}

	req := c.newRequest(cmd, flags|unix.NLM_F_ACK)
	req.AddData(&nl.TcMsg{
		Family:  nl.FAMILY_ALL,
		Ifindex: int32(link.Attrs().Index),
		Handle:  handle,
		Parent:  ap.Parent,
	})
	for _, a := range attrs {
		req.AddData(a)
	}

	_, err = req.Execute(unix.NETLINK_ROUTE, 0)
	return err
}

// Replace creates or replaces the qdisc at ap with the encoded options.
func (c *Client) Replace(ap qdisc.AttachPoint, handle uint32, o *Options) error {
	attrs, err := o.Attrs()
	if err != nil {
		return errors.Wrapf(err, "replace qdisc on %s", ap)
	}
	if err := c.qdiscModify(unix.RTM_NEWQDISC, unix.NLM_F_CREATE|unix.NLM_F_REPLACE, ap, handle, attrs); err != nil {
		return errors.Wrapf(err, "replace qdisc on %s", ap)
	}
	return nil
}

// Add creates the qdisc at ap and fails if one exists.
func (c *Client) Add(ap qdisc.AttachPoint, handle uint32, o *Options) error {
	attrs, err := o.Attrs()
	if err != nil {
		return errors.Wrapf(err, "add qdisc on %s", ap)
	}
	if err := c.qdiscModify(unix.RTM_NEWQDISC, unix.NLM_F_CREATE|unix.NLM_F_EXCL, ap, handle, attrs); err != nil {
		return errors.Wrapf(err, "add qdisc on %s", ap)
	}
	return nil
}

func (c *Client) Delete(ap qdisc.AttachPoint) error {
	if err := c.qdiscModify(unix.RTM_DELQDISC, 0, ap, 0, nil); err != nil {
		return errors.Wrapf(err, "delete qdisc on %s", ap)
	}
	return nil
}

// GetQdisc dumps the qdiscs of one interface.
func (c *Client) GetQdisc(iface string) ([]QDisc, error) {
	link, err := c.LinkByName(iface)
	if err != nil {
		return nil, err
	}
	index := link.Attrs().Index

	req := c.newRequest(unix.RTM_GETQDISC, unix.NLM_F_DUMP)
	req.AddData(&nl.TcMsg{
		Family:  nl.FAMILY_ALL,
		Ifindex: int32(index),
	})

	msgs, err := req.Execute(unix.NETLINK_ROUTE, unix.RTM_NEWQDISC)
	if err != nil {
		return nil, errors.Wrapf(err, "dump qdiscs of %s", iface)
	}
	return parseQdiscMessages(msgs, index, iface)
}
