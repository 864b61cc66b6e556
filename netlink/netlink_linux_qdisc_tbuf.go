package netlink

import (
	"github.com/pkg/errors"
	vnetlink "github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
)

// TbfInfo is the decoded TCA_OPTIONS payload of a tbf qdisc. Rate and
// Peakrate carry the 64-bit values when the kernel sent them.
type TbfInfo struct {
	Qopt     nl.TcTbfQopt
	Rate     uint64
	Peakrate uint64
	Burst    uint32
	PBurst   uint32
	Rtab     []uint32
	Ptab     []uint32
}

func DecodeTbf(b []byte) (*TbfInfo, error) {
	optRtAttrs, err := nl.ParseRouteAttr(b)
	if err != nil {
		return nil, errors.Wrap(err, "tbf: parse options")
	}

	var (
		info   TbfInfo
		found  bool
		native = nl.NativeEndian()
	)
	for _, optRtAttr := range optRtAttrs {
		v := optRtAttr.Value
		switch optRtAttr.Attr.Type {
		case nl.TCA_TBF_PARMS:
			if len(v) < nl.SizeofTcTbfQopt {
				return nil, errors.Errorf("tbf: short TCA_TBF_PARMS (%d bytes)", len(v))
			}
			info.Qopt = *nl.DeserializeTcTbfQopt(v)
			found = true
		case nl.TCA_TBF_RATE64:
			if len(v) < 8 {
				return nil, errors.New("tbf: short TCA_TBF_RATE64")
			}
			info.Rate = native.Uint64(v)
		case nl.TCA_TBF_PRATE64:
			if len(v) < 8 {
				return nil, errors.New("tbf: short TCA_TBF_PRATE64")
			}
			info.Peakrate = native.Uint64(v)
		case nl.TCA_TBF_BURST:
			if len(v) < 4 {
				return nil, errors.New("tbf: short TCA_TBF_BURST")
			}
			info.Burst = native.Uint32(v)
		case nl.TCA_TBF_PBURST:
			if len(v) < 4 {
				return nil, errors.New("tbf: short TCA_TBF_PBURST")
			}
			info.PBurst = native.Uint32(v)
		case nl.TCA_TBF_RTAB:
			rtab := vnetlink.DeserializeRtab(v)
			info.Rtab = rtab[:]
		case nl.TCA_TBF_PTAB:
			ptab := vnetlink.DeserializeRtab(v)
			info.Ptab = ptab[:]
		}
	}

	if !found {
		return nil, errors.New("tbf: unable to parse options")
	}
	if info.Rate == 0 {
		info.Rate = uint64(info.Qopt.Rate.Rate)
	}
	if info.Peakrate == 0 {
		info.Peakrate = uint64(info.Qopt.Peakrate.Rate)
	}
	return &info, nil
}
