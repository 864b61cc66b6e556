package qdisc

import (
	"fmt"
	"math"
	"time"

	vnetlink "github.com/vishvananda/netlink"
	"github.com/vishvananda/netlink/nl"
)

const KindTBF = "tbf"

// Configuration keys of a [TokenBucketFilter] section.
const (
	KeyRate       = "Rate"
	KeyBurst      = "Burst"
	KeyLimitSize  = "LimitSize"
	KeyMTUBytes   = "MTUBytes"
	KeyMPUBytes   = "MPUBytes"
	KeyPeakRate   = "PeakRate"
	KeyLatencySec = "LatencySec"
)

const usecPerSec = 1000000

func init() {
	RegisterKind(KindTBF, func() Discipline { return &TokenBucketFilter{} })
}

// TokenBucketFilter holds the parameters of a tbf qdisc. Rates are in bytes
// per second, sizes in bytes. Zero means unset.
type TokenBucketFilter struct {
	Rate     uint64
	PeakRate uint64
	Burst    uint32
	Limit    uint32
	Latency  time.Duration
	MTU      uint32
	MPU      uint16
}

func (t *TokenBucketFilter) Kind() string { return KindTBF }

func (t *TokenBucketFilter) String() string {
	return fmt.Sprintf("tbf rate %d peakrate %d burst %d limit %d latency %s mtu %d mpu %d",
		t.Rate, t.PeakRate, t.Burst, t.Limit, t.Latency, t.MTU, t.MPU)
}

// Set dispatches one configuration key.
func (t *TokenBucketFilter) Set(key, text string) error {
	switch key {
	case KeyLatencySec:
		return t.SetLatencyField(text)
	case KeyRate, KeyBurst, KeyLimitSize, KeyMTUBytes, KeyMPUBytes, KeyPeakRate:
		return t.SetSizeField(key, text)
	default:
		return fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
}

// SetSizeField assigns one of the size keys. Rates are given in bits per
// second. An empty value resets the field. Unknown keys are accepted and
// ignored.
func (t *TokenBucketFilter) SetSizeField(key, text string) error {
	if text == "" {
		switch key {
		case KeyRate:
			t.Rate = 0
		case KeyBurst:
			t.Burst = 0
		case KeyLimitSize:
			t.Limit = 0
		case KeyMTUBytes:
			t.MTU = 0
		case KeyMPUBytes:
			t.MPU = 0
		case KeyPeakRate:
			t.PeakRate = 0
		}
		return nil
	}

	k, err := ParseByteSize(text, 1000)
	if err != nil {
		return &ParseError{Key: key, Value: text, Err: err}
	}

	switch key {
	case KeyRate:
		t.Rate = k / 8
	case KeyPeakRate:
		t.PeakRate = k / 8
	case KeyBurst, KeyLimitSize, KeyMTUBytes:
		if k > math.MaxUint32 {
			return &ParseError{Key: key, Value: text, Err: ErrOutOfRange}
		}
		switch key {
		case KeyBurst:
			t.Burst = uint32(k)
		case KeyLimitSize:
			t.Limit = uint32(k)
		default:
			t.MTU = uint32(k)
		}
	case KeyMPUBytes:
		if k > math.MaxUint16 {
			return &ParseError{Key: key, Value: text, Err: ErrOutOfRange}
		}
		t.MPU = uint16(k)
	}
	return nil
}

// SetLatencyField assigns LatencySec. An empty value resets it.
func (t *TokenBucketFilter) SetLatencyField(text string) error {
	if text == "" {
		t.Latency = 0
		return nil
	}

	d, err := ParseDuration(text)
	if err != nil {
		return &ParseError{Key: KeyLatencySec, Value: text, Err: err}
	}
	t.Latency = d
	return nil
}

// Validate reports every inconsistency of the parameter set at once.
func (t *TokenBucketFilter) Validate() error {
	var reasons []error

	if t.Limit > 0 && t.Latency > 0 {
		reasons = append(reasons, ErrLimitLatencyExclusive)
	}
	if t.Limit == 0 && t.Latency == 0 {
		reasons = append(reasons, ErrLimitOrLatencyRequired)
	}
	if t.Rate == 0 {
		reasons = append(reasons, ErrRateRequired)
	}
	if t.Burst == 0 {
		reasons = append(reasons, ErrBurstRequired)
	}
	if t.PeakRate > 0 && t.MTU == 0 {
		reasons = append(reasons, ErrMTURequired)
	}

	if len(reasons) > 0 {
		return &RejectionError{Kind: KindTBF, Reasons: reasons}
	}
	return nil
}

// QueueLimit returns the byte limit sent to the kernel. Without an explicit
// LimitSize it is derived from the latency in floating point and truncated.
func (t *TokenBucketFilter) QueueLimit() (uint32, error) {
	if t.Limit > 0 {
		return t.Limit, nil
	}

	us := float64(t.Latency.Microseconds())
	lim := float64(t.Rate)*us/usecPerSec + float64(t.Burst)
	if t.PeakRate > 0 {
		lim2 := float64(t.PeakRate)*us/usecPerSec + float64(t.MTU)
		lim = math.Min(lim, lim2)
	}
	if lim > math.MaxUint32 {
		return 0, fmt.Errorf("%w: derived limit %.0f bytes", ErrOutOfRange, lim)
	}
	return uint32(lim), nil
}

func saturate32(v uint64) uint32 {
	if v > math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(v)
}

// Encode writes TCA_KIND and the TCA_OPTIONS container. All derived values
// are computed before the first write.
func (t *TokenBucketFilter) Encode(w AttributeWriter, rt RateTabler) error {
	var (
		opt  nl.TcTbfQopt
		ptab [256]uint32
		err  error
	)

	opt.Rate.Rate = saturate32(t.Rate)
	opt.Rate.Mpu = t.MPU
	rtab, err := rt.FillRateTable(&opt.Rate, t.MTU)
	if err != nil {
		return &EncodeError{Op: "calculate ratespec", Err: err}
	}

	opt.Buffer, err = rt.TransmitTime(t.Rate, t.Burst)
	if err != nil {
		return &EncodeError{Op: "calculate buffer size", Err: err}
	}

	opt.Limit, err = t.QueueLimit()
	if err != nil {
		return &EncodeError{Op: "calculate limit", Err: err}
	}

	if t.PeakRate > 0 {
		opt.Peakrate.Rate = saturate32(t.PeakRate)
		opt.Peakrate.Mpu = t.MPU
		ptab, err = rt.FillRateTable(&opt.Peakrate, t.MTU)
		if err != nil {
			return &EncodeError{Op: "calculate peak ratespec", Err: err}
		}

		opt.Mtu, err = rt.TransmitTime(t.PeakRate, t.MTU)
		if err != nil {
			return &EncodeError{Op: "calculate mtu size", Err: err}
		}
	}

	if err := w.OpenContainer(KindTBF); err != nil {
		return &EncodeError{Op: "open container TCA_OPTIONS", Err: err}
	}
	if err := w.AppendData(nl.TCA_TBF_PARMS, opt.Serialize()); err != nil {
		return &EncodeError{Op: "append TCA_TBF_PARMS", Err: err}
	}
	if err := w.AppendU32(nl.TCA_TBF_BURST, t.Burst); err != nil {
		return &EncodeError{Op: "append TCA_TBF_BURST", Err: err}
	}
	if t.Rate > math.MaxUint32 {
		if err := w.AppendU64(nl.TCA_TBF_RATE64, t.Rate); err != nil {
			return &EncodeError{Op: "append TCA_TBF_RATE64", Err: err}
		}
	}
	if err := w.AppendData(nl.TCA_TBF_RTAB, vnetlink.SerializeRtab(rtab)); err != nil {
		return &EncodeError{Op: "append TCA_TBF_RTAB", Err: err}
	}

	if t.PeakRate > 0 {
		if t.PeakRate > math.MaxUint32 {
			if err := w.AppendU64(nl.TCA_TBF_PRATE64, t.PeakRate); err != nil {
				return &EncodeError{Op: "append TCA_TBF_PRATE64", Err: err}
			}
		}
		if err := w.AppendU32(nl.TCA_TBF_PBURST, t.MTU); err != nil {
			return &EncodeError{Op: "append TCA_TBF_PBURST", Err: err}
		}
		if err := w.AppendData(nl.TCA_TBF_PTAB, vnetlink.SerializeRtab(ptab)); err != nil {
			return &EncodeError{Op: "append TCA_TBF_PTAB", Err: err}
		}
	}

	if err := w.CloseContainer(); err != nil {
		return &EncodeError{Op: "close container TCA_OPTIONS", Err: err}
	}
	return nil
}
