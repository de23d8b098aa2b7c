//go:build linux

package cmd

import (
	"encoding/binary"
	"fmt"
	"strconv"

	"github.com/smazurov/devnoded/internal/helper"
	"github.com/spf13/cobra"
)

// CreateCtlCmd creates the "ctl" command, a thin client over the daemon's
// helper socket for the in-band control protocol (spec §4.K). It must run
// as uid 0, same as the daemon requires of every control sender.
func CreateCtlCmd() *cobra.Command {
	var socketName string

	root := &cobra.Command{
		Use:   "ctl",
		Short: "Control a running devnoded daemon over its helper socket",
	}
	root.PersistentFlags().StringVar(&socketName, "socket", "devnoded/helper", "daemon helper socket name (abstract namespace)")

	root.AddCommand(&cobra.Command{
		Use:   "stop-exec-queue",
		Short: "Pause forking new workers",
		RunE: func(*cobra.Command, []string) error {
			return helper.Send(socketName, helper.TypeStopExecQueue, nil)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "start-exec-queue",
		Short: "Resume forking new workers",
		RunE: func(*cobra.Command, []string) error {
			return helper.Send(socketName, helper.TypeStartExecQueue, nil)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "set-log-level <syslog-priority>",
		Short: "Change the daemon's runtime log level (0-7, syslog priority)",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("ctl: invalid priority %q: %w", args[0], err)
			}
			return helper.Send(socketName, helper.TypeSetLogLevel, int32Payload(n))
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "set-max-childs <n>",
		Short: "Change the daemon's concurrent worker cap at runtime",
		Args:  cobra.ExactArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			n, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("ctl: invalid count %q: %w", args[0], err)
			}
			return helper.Send(socketName, helper.TypeSetMaxChilds, int32Payload(n))
		},
	})

	return root
}

func int32Payload(n int) []byte {
	buf := make([]byte, 4)
	binary.LittleEndian.PutUint32(buf, uint32(int32(n)))
	return buf
}
