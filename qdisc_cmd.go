package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shashidharatd/tbfctl/logger"
	"github.com/shashidharatd/tbfctl/netlink"
	"github.com/shashidharatd/tbfctl/qdisc"
)

// tc parameter words and the configuration keys they set.
var tbfWords = map[string]string{
	"rate":     qdisc.KeyRate,
	"burst":    qdisc.KeyBurst,
	"buffer":   qdisc.KeyBurst,
	"maxburst": qdisc.KeyBurst,
	"limit":    qdisc.KeyLimitSize,
	"latency":  qdisc.KeyLatencySec,
	"peakrate": qdisc.KeyPeakRate,
	"mtu":      qdisc.KeyMTUBytes,
	"minburst": qdisc.KeyMTUBytes,
	"mpu":      qdisc.KeyMPUBytes,
}

type qdiscRequest struct {
	ap       qdisc.AttachPoint
	handle   uint32
	kind     string
	settings [][2]string
}

func usageError() error {
	return fmt.Errorf("usage:%s", qdiscUsage)
}

// tcRate turns tc rate notation into bits per second. "8mbit" becomes
// "8m"; "125kbps" (bytes) becomes "1000000".
func tcRate(s string) (string, error) {
	l := strings.ToLower(s)
	switch {
	case strings.HasSuffix(l, "bps"):
		n, err := qdisc.ParseByteSize(strings.TrimSuffix(l, "bps"), 1000)
		if err != nil {
			return "", err
		}
		return strconv.FormatUint(n*8, 10), nil
	case strings.HasSuffix(l, "bit"):
		return strings.TrimSuffix(l, "bit"), nil
	default:
		return s, nil
	}
}

func parseQdiscArgs(args []string, netns string, withKind bool) (*qdiscRequest, error) {
	if len(args) < 2 || args[0] != "dev" {
		return nil, usageError()
	}

	req := &qdiscRequest{
		ap:     qdisc.AttachPoint{Namespace: netns, Link: args[1], Parent: qdisc.TC_H_ROOT},
		handle: qdisc.MakeHandle(1, 0),
	}

	args = args[2:]
	for len(args) > 0 {
		var err error
		switch args[0] {
		case "root":
			req.ap.Parent = qdisc.TC_H_ROOT
			args = args[1:]
			continue
		case "parent":
			if len(args) < 2 {
				return nil, usageError()
			}
			if req.ap.Parent, err = qdisc.ParseHandle(args[1]); err != nil {
				return nil, err
			}
		case "handle":
			if len(args) < 2 {
				return nil, usageError()
			}
			if req.handle, err = qdisc.ParseHandle(args[1]); err != nil {
				return nil, err
			}
		default:
			if !withKind {
				return nil, usageError()
			}
			req.kind = args[0]
			return req, req.parseSettings(args[1:])
		}
		args = args[2:]
	}

	if withKind {
		return nil, fmt.Errorf("missing qdisc kind%s", qdiscUsage)
	}
	return req, nil
}

func (req *qdiscRequest) parseSettings(args []string) error {
	if req.kind != qdisc.KindTBF {
		return fmt.Errorf("%w: %q", qdisc.ErrUnknownKind, req.kind)
	}
	for len(args) > 0 {
		key, ok := tbfWords[args[0]]
		if !ok || len(args) < 2 {
			return fmt.Errorf("unexpected %q%s", args[0], qdiscUsage)
		}
		value := args[1]
		if key == qdisc.KeyRate || key == qdisc.KeyPeakRate {
			v, err := tcRate(value)
			if err != nil {
				return &qdisc.ParseError{Key: key, Value: value, Err: err}
			}
			value = v
		}
		req.settings = append(req.settings, [2]string{key, value})
		args = args[2:]
	}
	return nil
}

// build runs the settings through a tentative configuration. Unlike a
// config file, a malformed command line value is an error.
func (req *qdiscRequest) build() (qdisc.Discipline, error) {
	cfg := qdisc.NewRegistry().Begin(req.ap)
	defer cfg.Discard()

	if _, err := cfg.Claim(req.kind); err != nil {
		return nil, err
	}
	for _, kv := range req.settings {
		if err := cfg.Set(req.kind, kv[0], kv[1]); err != nil {
			return nil, err
		}
	}
	return cfg.Commit()
}

func newQdiscCmd(opts *globalOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qdisc",
		Short: "Show, add, replace or delete queueing disciplines",
		Long:  "Usage:" + qdiscUsage,
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show dev <intf>",
		Short: "Show the qdiscs of an interface",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseQdiscArgs(args, opts.netns, false)
			if err != nil {
				return err
			}
			c, err := netlink.NewClient(opts.netns)
			if err != nil {
				return err
			}
			defer c.Close()
			return netlink.PrintQDisc(os.Stdout, c, req.ap.Link, netlink.HostClock())
		},
	})

	modify := func(use string, replace bool) *cobra.Command {
		return &cobra.Command{
			Use:   use + " dev <intf> ... tbf ...",
			Short: use + " a token bucket filter",
			RunE: func(cmd *cobra.Command, args []string) error {
				req, err := parseQdiscArgs(args, opts.netns, true)
				if err != nil {
					return err
				}
				d, err := req.build()
				if err != nil {
					return err
				}

				o := netlink.NewOptions()
				if err := d.Encode(o, netlink.NewRateTable(netlink.HostClock())); err != nil {
					return err
				}

				c, err := netlink.NewClient(opts.netns)
				if err != nil {
					return err
				}
				defer c.Close()

				if replace {
					err = c.Replace(req.ap, req.handle, o)
				} else {
					err = c.Add(req.ap, req.handle, o)
				}
				if err != nil {
					return err
				}
				logger.Component(logger.ComponentNetlink).Debug("Queueing discipline set", "link", req.ap.String(), "kind", d.Kind())
				return nil
			},
		}
	}
	cmd.AddCommand(modify("add", false))
	cmd.AddCommand(modify("replace", true))

	cmd.AddCommand(&cobra.Command{
		Use:   "del dev <intf> [root | parent <handle>]",
		Short: "Delete a qdisc",
		RunE: func(cmd *cobra.Command, args []string) error {
			req, err := parseQdiscArgs(args, opts.netns, false)
			if err != nil {
				return err
			}
			c, err := netlink.NewClient(opts.netns)
			if err != nil {
				return err
			}
			defer c.Close()
			return c.Delete(req.ap)
		},
	})

	return cmd
}
