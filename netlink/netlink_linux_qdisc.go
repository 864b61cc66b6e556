package netlink

import (
	"bytes"
	"fmt"
	"io"
	"math"
	"os"

	"github.com/pkg/errors"
	vnetlink "github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"

	"github.com/shashidharatd/tbfctl/qdisc"
)

const TIME_UNITS_PER_SEC = 1000000

const PschedPath = "/proc/net/psched"

// Clock converts between microseconds and psched ticks.
type Clock struct {
	TickInUsec  float64
	ClockFactor float64
}

// ParsePsched reads the first three words of /proc/net/psched.
func ParsePsched(r io.Reader) (Clock, error) {
	var clock_res, t2us, us2t uint32

	n, err := fmt.Fscanf(r, "%08x %08x %08x", &t2us, &us2t, &clock_res)
	if n != 3 {
		if err == nil {
			err = io.ErrUnexpectedEOF
		}
		return Clock{}, errors.Wrap(err, "parse psched")
	}
	if us2t == 0 {
		return Clock{}, errors.New("parse psched: zero us2t")
	}

	if clock_res == 1000000000 {
		t2us = us2t
	}

	clock_factor := float64(clock_res) / TIME_UNITS_PER_SEC
	tick_in_usec := float64(t2us) / float64(us2t) * clock_factor

	return Clock{TickInUsec: tick_in_usec, ClockFactor: clock_factor}, nil
}

func ReadPsched(path string) (Clock, error) {
	fp, err := os.Open(path)
	if err != nil {
		return Clock{}, err
	}
	defer fp.Close()

	return ParsePsched(fp)
}

// HostClock returns the running kernel's clock.
func HostClock() Clock {
	if c, err := ReadPsched(PschedPath); err == nil {
		return c
	}
	return Clock{TickInUsec: vnetlink.TickInUsec(), ClockFactor: vnetlink.ClockFactor()}
}

func (c Clock) Time2Tick(usec float64) float64 {
	return usec * c.TickInUsec
}

func (c Clock) Tick2Time(ticks uint32) float64 {
	if c.TickInUsec == 0 {
		return 0
	}
	return float64(ticks) / c.TickInUsec
}

// QDisc is one entry of a qdisc dump.
type QDisc struct {
	Handle  uint32
	Parent  uint32
	RefCnt  uint32
	IfIndex int
	IfName  string
	Kind    string
	Options interface{}
}

func parseQdiscMessages(msgs [][]byte, ifIndex int, ifName string) ([]QDisc, error) {
	qDiscs := make([]QDisc, 0)

	for _, m := range msgs {
		if len(m) < nl.SizeofTcMsg {
			return nil, errors.New("incorrect nlmsg payload")
		}

		msg := nl.DeserializeTcMsg(m)
		if msg.Ifindex != int32(ifIndex) {
			continue
		}

		rtAttrs, err := nl.ParseRouteAttr(m[msg.Len():])
		if err != nil {
			return nil, errors.Wrap(err, "parse rtattr")
		}

		qDisc := QDisc{
			Handle:  msg.Handle,
			Parent:  msg.Parent,
			RefCnt:  msg.Info,
			IfIndex: int(msg.Ifindex),
			IfName:  ifName,
		}

		for _, rtAttr := range rtAttrs {
			switch rtAttr.Attr.Type {
			case nl.TCA_KIND:
				end := bytes.IndexByte(rtAttr.Value, 0)
				if end < 0 {
					end = len(rtAttr.Value)
				}
				if end == 0 {
					return nil, errors.New("null kind")
				}
				qDisc.Kind = string(rtAttr.Value[:end])

			case nl.TCA_OPTIONS:
				switch qDisc.Kind {
				case qdisc.KindTBF:
					opts, err := DecodeTbf(rtAttr.Value)
					if err != nil {
						return nil, errors.Wrap(err, "parse tbf options")
					}
					qDisc.Options = opts

				case "ingress":
					qDisc.Options = "---------------- "

				default:
					qDisc.Options = "[cannot parse qdisc parameters]"
				}
			}
		}

		qDiscs = append(qDiscs, qDisc)
	}

	return qDiscs, nil
}

func formatRate(rate uint64) string {
	tmp := float64(rate) * 8

	switch {
	case tmp >= 1000.0*1000000000.0:
		return fmt.Sprintf("%.0fGbit", tmp/1000000000.0)
	case tmp >= 1000.0*1000000.0:
		return fmt.Sprintf("%.0fMbit", tmp/1000000.0)
	case tmp >= 1000.0*1000.0:
		return fmt.Sprintf("%.0fKbit", tmp/1000.0)
	default:
		return fmt.Sprintf("%.0fbit", tmp)
	}
}

func formatSize(sz uint32) string {
	tmp := float64(sz)

	switch {
	case sz >= 1024*1024 && math.Abs(float64(1024*1024*int(tmp/(1024*1024))-int(sz))) < 1024:
		return fmt.Sprintf("%dMb", int(tmp/(1024*1024)))
	case sz >= 1024 && math.Abs(float64(1024*int(tmp/1024)-int(sz))) < 16:
		return fmt.Sprintf("%dKb", int(tmp/1024))
	default:
		return fmt.Sprintf("%db", sz)
	}
}

func formatTime(usec float64) string {
	switch {
	case usec >= TIME_UNITS_PER_SEC:
		return fmt.Sprintf("%.1fs", usec/TIME_UNITS_PER_SEC)
	case usec >= TIME_UNITS_PER_SEC/1000:
		return fmt.Sprintf("%.1fms", usec/(TIME_UNITS_PER_SEC/1000))
	default:
		return fmt.Sprintf("%.0fus", usec)
	}
}

func formatTbf(w io.Writer, tbf *TbfInfo, clock Clock) {
	fmt.Fprintf(w, "rate %s ", formatRate(tbf.Rate))

	burst := tbf.Burst
	if burst == 0 {
		burst = uint32(float64(tbf.Rate) * clock.Tick2Time(tbf.Qopt.Buffer) / TIME_UNITS_PER_SEC)
	}
	fmt.Fprintf(w, "burst %s ", formatSize(burst))

	if tbf.Peakrate != 0 {
		fmt.Fprintf(w, "peakrate %s ", formatRate(tbf.Peakrate))
		minburst := tbf.PBurst
		if minburst == 0 {
			minburst = uint32(float64(tbf.Peakrate) * clock.Tick2Time(tbf.Qopt.Mtu) / TIME_UNITS_PER_SEC)
		}
		fmt.Fprintf(w, "minburst %s ", formatSize(minburst))
	}

	latency := TIME_UNITS_PER_SEC*(float64(tbf.Qopt.Limit)/float64(tbf.Rate)) - clock.Tick2Time(tbf.Qopt.Buffer)
	if tbf.Peakrate != 0 {
		lat2 := TIME_UNITS_PER_SEC*(float64(tbf.Qopt.Limit)/float64(tbf.Peakrate)) - clock.Tick2Time(tbf.Qopt.Mtu)
		if lat2 > latency {
			latency = lat2
		}
	}
	if latency < 0 {
		latency = 0
	}
	fmt.Fprintf(w, "lat %s ", formatTime(latency))
}

// FormatQDisc writes one qdisc in tc show format.
func FormatQDisc(w io.Writer, q QDisc, clock Clock) {
	fmt.Fprintf(w, "qdisc %s %x: ", q.Kind, q.Handle>>16)
	switch q.Parent {
	case qdisc.TC_H_ROOT:
		fmt.Fprintf(w, "root ")
	case qdisc.TC_H_UNSPEC:
	default:
		fmt.Fprintf(w, "parent %s ", qdisc.HandleString(q.Parent))
	}
	if q.RefCnt != 1 {
		fmt.Fprintf(w, "refcnt %d ", q.RefCnt)
	}

	switch opts := q.Options.(type) {
	case *TbfInfo:
		formatTbf(w, opts, clock)
	case string:
		fmt.Fprintf(w, "%s", opts)
	}

	fmt.Fprintf(w, "\n")
}

// PrintQDisc dumps the qdiscs of intf to w.
func PrintQDisc(w io.Writer, c *Client, intf string, clock Clock) error {
	qDiscs, err := c.GetQdisc(intf)
	if err != nil {
		return err
	}

	for _, q := range qDiscs {
		FormatQDisc(w, q, clock)
	}
	return nil
}
