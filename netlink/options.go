package netlink

import (
	"math"

	"github.com/pkg/errors"
	"github.com/vishvananda/netlink/nl"
	"golang.org/x/sys/unix"
)

var (
	ErrNoContainer   = errors.New("no TCA_OPTIONS container open")
	ErrContainerOpen = errors.New("TCA_OPTIONS container still open")
	ErrAttrTooLarge  = errors.New("attribute exceeds rtattr length")
)

// Options collects TCA_KIND and one nested TCA_OPTIONS container. It
// implements qdisc.AttributeWriter. After the first failure every call
// returns the same error and Bytes never yields a partial block.
type Options struct {
	kind    *nl.RtAttr
	options *nl.RtAttr
	open    bool
	err     error
}

func NewOptions() *Options {
	return &Options{}
}

func (o *Options) fail(err error) error {
	o.err = err
	return err
}

func (o *Options) OpenContainer(kind string) error {
	if o.err != nil {
		return o.err
	}
	if o.options != nil {
		return o.fail(errors.Wrapf(ErrContainerOpen, "open %s", kind))
	}
	o.kind = nl.NewRtAttr(nl.TCA_KIND, nl.ZeroTerminated(kind))
	o.options = nl.NewRtAttr(nl.TCA_OPTIONS, nil)
	o.open = true
	return nil
}

func (o *Options) AppendData(attrType uint16, data []byte) error {
	if o.err != nil {
		return o.err
	}
	if !o.open {
		return o.fail(errors.Wrapf(ErrNoContainer, "append attribute %d", attrType))
	}
	if unix.SizeofRtAttr+len(data) > math.MaxUint16 {
		return o.fail(errors.Wrapf(ErrAttrTooLarge, "attribute %d: %d bytes", attrType, len(data)))
	}
	o.options.AddRtAttr(int(attrType), append([]byte(nil), data...))
	return nil
}

func (o *Options) AppendU32(attrType uint16, v uint32) error {
	return o.AppendData(attrType, nl.Uint32Attr(v))
}

func (o *Options) AppendU64(attrType uint16, v uint64) error {
	return o.AppendData(attrType, nl.Uint64Attr(v))
}

func (o *Options) CloseContainer() error {
	if o.err != nil {
		return o.err
	}
	if !o.open {
		return o.fail(errors.Wrap(ErrNoContainer, "close"))
	}
	if o.options.Len() > math.MaxUint16 {
		return o.fail(errors.Wrapf(ErrAttrTooLarge, "TCA_OPTIONS: %d bytes", o.options.Len()))
	}
	o.open = false
	return nil
}

// Attrs returns the finished attributes for a netlink request.
func (o *Options) Attrs() ([]nl.NetlinkRequestData, error) {
	if o.err != nil {
		return nil, o.err
	}
	if o.options == nil {
		return nil, ErrNoContainer
	}
	if o.open {
		return nil, ErrContainerOpen
	}
	return []nl.NetlinkRequestData{o.kind, o.options}, nil
}

// Bytes serializes TCA_KIND followed by TCA_OPTIONS.
func (o *Options) Bytes() ([]byte, error) {
	attrs, err := o.Attrs()
	if err != nil {
		return nil, err
	}
	var b []byte
	for _, a := range attrs {
		b = append(b, a.Serialize()...)
	}
	return b, nil
}
