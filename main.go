package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/shashidharatd/tbfctl/logger"
)

const tcUsage string = `
tbfctl OBJECT COMMAND
where  OBJECT := { qdisc | apply | check }
`

const qdiscUsage string = `
qdisc show    dev <intf>
qdisc add     dev <intf> [ root | parent <handle> ] [ handle <handle> ] tbf rate <rate>bit burst <burst> { latency <latency> | limit <bytes> } [ peakrate <rate>bit mtu <bytes> ] [ mpu <bytes> ]
qdisc replace dev <intf> ...
qdisc del     dev <intf> [ root | parent <handle> ]
`

type globalOptions struct {
	netns     string
	logFormat string
	logLevel  string
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	root := &cobra.Command{
		Use:           "tbfctl",
		Short:         "Configure token bucket filter qdiscs over rtnetlink",
		Long:          "Usage:" + tcUsage,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			logger.Configure(os.Stderr, opts.logFormat, logger.LogLevel(opts.logLevel), nil)
		},
	}

	root.PersistentFlags().StringVar(&opts.netns, "netns", "", "named network namespace to operate in")
	root.PersistentFlags().StringVar(&opts.logFormat, "log-format", "text", "log format: text or json")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn, error")

	root.AddCommand(newQdiscCmd(opts))
	root.AddCommand(newApplyCmd())
	root.AddCommand(newCheckCmd())

	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		os.Exit(1)
	}
}
