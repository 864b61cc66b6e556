package qdisc_test

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vishvananda/netlink/nl"

	"github.com/shashidharatd/tbfctl/netlink"
	"github.com/shashidharatd/tbfctl/qdisc"
)

// One tick per microsecond keeps the expected tables readable.
func testRateTable() *netlink.RateTable {
	return netlink.NewRateTable(netlink.Clock{TickInUsec: 1, ClockFactor: 1})
}

func newTbf(t *testing.T, kv ...string) *qdisc.TokenBucketFilter {
	t.Helper()
	require.Zero(t, len(kv)%2)
	tbf := &qdisc.TokenBucketFilter{}
	for i := 0; i < len(kv); i += 2 {
		require.NoError(t, tbf.Set(kv[i], kv[i+1]), "%s=%s", kv[i], kv[i+1])
	}
	return tbf
}

func encode(t *testing.T, tbf *qdisc.TokenBucketFilter) *netlink.TbfInfo {
	t.Helper()
	o := netlink.NewOptions()
	require.NoError(t, tbf.Encode(o, testRateTable()))
	b, err := o.Bytes()
	require.NoError(t, err)

	attrs, err := nl.ParseRouteAttr(b)
	require.NoError(t, err)
	require.Len(t, attrs, 2)
	assert.Equal(t, uint16(nl.TCA_KIND), attrs[0].Attr.Type)
	assert.Equal(t, "tbf\x00", string(attrs[0].Value))
	require.Equal(t, uint16(nl.TCA_OPTIONS), attrs[1].Attr.Type)

	info, err := netlink.DecodeTbf(attrs[1].Value)
	require.NoError(t, err)
	return info
}

func optionTypes(t *testing.T, tbf *qdisc.TokenBucketFilter) []uint16 {
	t.Helper()
	o := netlink.NewOptions()
	require.NoError(t, tbf.Encode(o, testRateTable()))
	b, err := o.Bytes()
	require.NoError(t, err)
	attrs, err := nl.ParseRouteAttr(b)
	require.NoError(t, err)
	inner, err := nl.ParseRouteAttr(attrs[1].Value)
	require.NoError(t, err)

	types := make([]uint16, 0, len(inner))
	for _, a := range inner {
		types = append(types, a.Attr.Type)
	}
	return types
}

func TestSetConvertsBitsToBytes(t *testing.T) {
	tbf := newTbf(t,
		qdisc.KeyRate, "8000",
		qdisc.KeyPeakRate, "1M",
		qdisc.KeyBurst, "10K",
		qdisc.KeyMTUBytes, "1500",
		qdisc.KeyMPUBytes, "64",
		qdisc.KeyLatencySec, "50ms",
	)

	assert.Equal(t, uint64(1000), tbf.Rate)
	assert.Equal(t, uint64(125000), tbf.PeakRate)
	assert.Equal(t, uint32(10000), tbf.Burst)
	assert.Equal(t, uint32(1500), tbf.MTU)
	assert.Equal(t, uint16(64), tbf.MPU)
	assert.Equal(t, 50*time.Millisecond, tbf.Latency)
}

func TestSetEmptyResets(t *testing.T) {
	tbf := newTbf(t,
		qdisc.KeyRate, "8000",
		qdisc.KeyBurst, "2000",
		qdisc.KeyLimitSize, "3000",
		qdisc.KeyLatencySec, "1s",
	)

	for _, key := range []string{qdisc.KeyRate, qdisc.KeyBurst, qdisc.KeyLimitSize, qdisc.KeyLatencySec} {
		require.NoError(t, tbf.Set(key, ""))
	}
	assert.Equal(t, qdisc.TokenBucketFilter{}, *tbf)
}

func TestSetInvalidKeepsPreviousValue(t *testing.T) {
	tbf := newTbf(t, qdisc.KeyRate, "8000", qdisc.KeyLatencySec, "10ms")

	err := tbf.Set(qdisc.KeyRate, "fast")
	var parseErr *qdisc.ParseError
	require.ErrorAs(t, err, &parseErr)
	assert.Equal(t, qdisc.KeyRate, parseErr.Key)
	assert.ErrorIs(t, err, qdisc.ErrInvalidSize)
	assert.Equal(t, uint64(1000), tbf.Rate)

	err = tbf.Set(qdisc.KeyLatencySec, "soon")
	require.ErrorAs(t, err, &parseErr)
	assert.ErrorIs(t, err, qdisc.ErrInvalidDuration)
	assert.Equal(t, 10*time.Millisecond, tbf.Latency)
}

func TestSetOutOfRange(t *testing.T) {
	tbf := newTbf(t, qdisc.KeyBurst, "1000", qdisc.KeyMPUBytes, "10")

	assert.ErrorIs(t, tbf.Set(qdisc.KeyBurst, "5G"), qdisc.ErrOutOfRange)
	assert.ErrorIs(t, tbf.Set(qdisc.KeyMPUBytes, "70000"), qdisc.ErrOutOfRange)
	assert.Equal(t, uint32(1000), tbf.Burst)
	assert.Equal(t, uint16(10), tbf.MPU)
}

func TestSetUnknownKey(t *testing.T) {
	tbf := &qdisc.TokenBucketFilter{}
	assert.ErrorIs(t, tbf.Set("Quantum", "10"), qdisc.ErrUnknownKey)

	require.NoError(t, tbf.SetSizeField("Quantum", "10"))
	require.NoError(t, tbf.SetSizeField("Quantum", ""))
	assert.Equal(t, qdisc.TokenBucketFilter{}, *tbf)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name    string
		kv      []string
		reasons []error
	}{
		{
			name: "latency",
			kv:   []string{qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000", qdisc.KeyLatencySec, "1s"},
		},
		{
			name: "limit",
			kv:   []string{qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000", qdisc.KeyLimitSize, "3000"},
		},
		{
			name:    "limit and latency",
			kv:      []string{qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000", qdisc.KeyLimitSize, "3000", qdisc.KeyLatencySec, "1s"},
			reasons: []error{qdisc.ErrLimitLatencyExclusive},
		},
		{
			name:    "burst missing",
			kv:      []string{qdisc.KeyRate, "8000", qdisc.KeyLatencySec, "1s"},
			reasons: []error{qdisc.ErrBurstRequired},
		},
		{
			name:    "neither limit nor latency",
			kv:      []string{qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000"},
			reasons: []error{qdisc.ErrLimitOrLatencyRequired},
		},
		{
			name:    "rate missing",
			kv:      []string{qdisc.KeyBurst, "2000", qdisc.KeyLimitSize, "3000"},
			reasons: []error{qdisc.ErrRateRequired},
		},
		{
			name:    "empty",
			reasons: []error{qdisc.ErrLimitOrLatencyRequired, qdisc.ErrRateRequired, qdisc.ErrBurstRequired},
		},
		{
			name:    "peak rate without mtu",
			kv:      []string{qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000", qdisc.KeyLatencySec, "1s", qdisc.KeyPeakRate, "16000"},
			reasons: []error{qdisc.ErrMTURequired},
		},
		{
			name:    "rate below one byte",
			kv:      []string{qdisc.KeyRate, "7", qdisc.KeyBurst, "2000", qdisc.KeyLatencySec, "1s"},
			reasons: []error{qdisc.ErrRateRequired},
		},
	} {
		t.Run(tc.name, func(t *testing.T) {
			err := newTbf(t, tc.kv...).Validate()
			if len(tc.reasons) == 0 {
				require.NoError(t, err)
				return
			}

			var rej *qdisc.RejectionError
			require.ErrorAs(t, err, &rej)
			assert.Equal(t, qdisc.KindTBF, rej.Kind)
			assert.Len(t, rej.Reasons, len(tc.reasons))
			for _, r := range tc.reasons {
				assert.ErrorIs(t, err, r)
			}
		})
	}
}

func TestQueueLimit(t *testing.T) {
	tbf := newTbf(t, qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000", qdisc.KeyLatencySec, "1s")
	lim, err := tbf.QueueLimit()
	require.NoError(t, err)
	assert.Equal(t, uint32(3000), lim)

	// The peak rate bound is lower: 1000 B/s for 1s plus a 1000 byte mtu.
	require.NoError(t, tbf.Set(qdisc.KeyPeakRate, "8000"))
	require.NoError(t, tbf.Set(qdisc.KeyMTUBytes, "1000"))
	lim, err = tbf.QueueLimit()
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), lim)

	require.NoError(t, tbf.Set(qdisc.KeyLatencySec, ""))
	require.NoError(t, tbf.Set(qdisc.KeyLimitSize, "4321"))
	lim, err = tbf.QueueLimit()
	require.NoError(t, err)
	assert.Equal(t, uint32(4321), lim)
}

func TestQueueLimitPeakBound(t *testing.T) {
	// rate 1000 B/s, burst 2000, latency 1s, peak 500 B/s, mtu 1500
	tbf := newTbf(t,
		qdisc.KeyRate, "8000",
		qdisc.KeyBurst, "2000",
		qdisc.KeyLatencySec, "1s",
		qdisc.KeyPeakRate, "4000",
		qdisc.KeyMTUBytes, "1500",
	)
	require.NoError(t, tbf.Validate())
	lim, err := tbf.QueueLimit()
	require.NoError(t, err)
	assert.Equal(t, uint32(2000), lim)

	assert.Equal(t, uint32(2000), encode(t, tbf).Qopt.Limit)
}

func TestQueueLimitTruncates(t *testing.T) {
	tbf := newTbf(t, qdisc.KeyRate, "8000", qdisc.KeyBurst, "1", qdisc.KeyLatencySec, "1500us")
	lim, err := tbf.QueueLimit()
	require.NoError(t, err)
	// 1000 * 0.0015 + 1 = 2.5
	assert.Equal(t, uint32(2), lim)
}

func TestEncode(t *testing.T) {
	tbf := newTbf(t, qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000", qdisc.KeyLatencySec, "1s")
	info := encode(t, tbf)

	assert.Equal(t, uint32(1000), info.Qopt.Rate.Rate)
	assert.Equal(t, uint64(1000), info.Rate)
	assert.Equal(t, uint8(3), info.Qopt.Rate.CellLog)
	assert.Equal(t, int16(-1), info.Qopt.Rate.CellAlign)
	assert.Equal(t, uint8(nl.LINKLAYER_ETHERNET), info.Qopt.Rate.Linklayer)
	assert.Equal(t, uint32(3000), info.Qopt.Limit)
	assert.Equal(t, uint32(2000000), info.Qopt.Buffer)
	assert.Equal(t, uint32(2000), info.Burst)
	assert.Zero(t, info.Qopt.Mtu)
	assert.Zero(t, info.Peakrate)

	require.Len(t, info.Rtab, 256)
	assert.Equal(t, uint32(8000), info.Rtab[0])
	assert.Equal(t, uint32(16000), info.Rtab[1])
	assert.Equal(t, uint32(2048000), info.Rtab[255])
	assert.Empty(t, info.Ptab)

	assert.Equal(t, []uint16{nl.TCA_TBF_PARMS, nl.TCA_TBF_BURST, nl.TCA_TBF_RTAB}, optionTypes(t, tbf))
}

func TestEncodePeakRate(t *testing.T) {
	tbf := newTbf(t,
		qdisc.KeyRate, "8000",
		qdisc.KeyBurst, "2000",
		qdisc.KeyLatencySec, "1s",
		qdisc.KeyPeakRate, "16000",
		qdisc.KeyMTUBytes, "1500",
		qdisc.KeyMPUBytes, "64",
	)
	info := encode(t, tbf)

	assert.Equal(t, uint64(2000), info.Peakrate)
	assert.Equal(t, uint32(1500), info.PBurst)
	assert.Equal(t, uint32(750000), info.Qopt.Mtu)
	assert.Equal(t, uint16(64), info.Qopt.Peakrate.Mpu)
	assert.Equal(t, uint16(64), info.Qopt.Rate.Mpu)
	assert.Equal(t, uint8(3), info.Qopt.Peakrate.CellLog)

	// The first cell is padded up to the mpu.
	require.Len(t, info.Rtab, 256)
	require.Len(t, info.Ptab, 256)
	assert.Equal(t, uint32(64000), info.Rtab[0])
	assert.Equal(t, uint32(32000), info.Ptab[0])

	// min(1000*1 + 2000, 2000*1 + 1500)
	assert.Equal(t, uint32(3000), info.Qopt.Limit)

	assert.Equal(t, []uint16{
		nl.TCA_TBF_PARMS, nl.TCA_TBF_BURST, nl.TCA_TBF_RTAB,
		nl.TCA_TBF_PBURST, nl.TCA_TBF_PTAB,
	}, optionTypes(t, tbf))
}

func TestEncodeRate64(t *testing.T) {
	// 2^32 bytes per second
	tbf := newTbf(t, qdisc.KeyRate, "34359738368", qdisc.KeyBurst, "2000", qdisc.KeyLimitSize, "10000")
	info := encode(t, tbf)

	assert.Equal(t, uint32(math.MaxUint32), info.Qopt.Rate.Rate)
	assert.Equal(t, uint64(1)<<32, info.Rate)
	assert.Equal(t, uint32(1), info.Qopt.Buffer)
	assert.Equal(t, []uint16{nl.TCA_TBF_PARMS, nl.TCA_TBF_BURST, nl.TCA_TBF_RATE64, nl.TCA_TBF_RTAB}, optionTypes(t, tbf))

	// Just below the boundary the 32-bit field suffices.
	tbf = newTbf(t, qdisc.KeyRate, "34359738360", qdisc.KeyBurst, "2000", qdisc.KeyLimitSize, "10000")
	info = encode(t, tbf)
	assert.Equal(t, uint32(math.MaxUint32), info.Qopt.Rate.Rate)
	assert.Equal(t, uint64(math.MaxUint32), info.Rate)
	assert.NotContains(t, optionTypes(t, tbf), uint16(nl.TCA_TBF_RATE64))
}

func TestEncodeIsRepeatable(t *testing.T) {
	tbf := newTbf(t,
		qdisc.KeyRate, "1M",
		qdisc.KeyBurst, "32K",
		qdisc.KeyLatencySec, "70ms",
		qdisc.KeyPeakRate, "2M",
		qdisc.KeyMTUBytes, "1514",
	)

	blocks := make([][]byte, 2)
	for i := range blocks {
		o := netlink.NewOptions()
		require.NoError(t, tbf.Encode(o, testRateTable()))
		b, err := o.Bytes()
		require.NoError(t, err)
		blocks[i] = b
	}
	assert.Equal(t, blocks[0], blocks[1])
}

func TestEncodeTicksOverflow(t *testing.T) {
	// 5000 bytes at 1 B/s is 5e9 ticks.
	tbf := newTbf(t, qdisc.KeyRate, "8", qdisc.KeyBurst, "5000", qdisc.KeyLimitSize, "10000")

	o := netlink.NewOptions()
	err := tbf.Encode(o, testRateTable())

	var encErr *qdisc.EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "calculate buffer size", encErr.Op)
	assert.True(t, errors.Is(err, netlink.ErrTicksOverflow))

	// Nothing was written.
	_, err = o.Bytes()
	assert.ErrorIs(t, err, netlink.ErrNoContainer)
}

func TestEncodeWithoutClock(t *testing.T) {
	tbf := newTbf(t, qdisc.KeyRate, "8000", qdisc.KeyBurst, "2000", qdisc.KeyLatencySec, "1s")

	err := tbf.Encode(netlink.NewOptions(), netlink.NewRateTable(netlink.Clock{}))
	var encErr *qdisc.EncodeError
	require.ErrorAs(t, err, &encErr)
	assert.Equal(t, "calculate ratespec", encErr.Op)
	assert.ErrorIs(t, err, netlink.ErrNoClock)
}
