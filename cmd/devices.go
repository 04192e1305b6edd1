package cmd

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/smazurov/dmacap/pkg/linuxav/v4l2"
	"github.com/spf13/cobra"
)

// CreateDevicesCmd creates the command listing capture devices.
func CreateDevicesCmd() *cobra.Command {
	var showFormats bool

	cmd := &cobra.Command{
		Use:   "devices",
		Short: "List V4L2 capture devices",
		Args:  cobra.NoArgs,
		RunE: func(c *cobra.Command, _ []string) error {
			devices, err := v4l2.FindDevices()
			if err != nil {
				return fmt.Errorf("enumerate devices: %w", err)
			}
			formats := func(string) ([]v4l2.FormatInfo, error) { return nil, nil }
			if showFormats {
				formats = v4l2.GetFormats
			}
			return printDevices(c.OutOrStdout(), devices, formats)
		},
	}
	cmd.Flags().BoolVarP(&showFormats, "formats", "F", true, "Show the pixel formats of each device")
	return cmd
}

func printDevices(out io.Writer, devices []v4l2.DeviceInfo, formats func(string) ([]v4l2.FormatInfo, error)) error {
	if len(devices) == 0 {
		_, err := fmt.Fprintln(out, "no capture devices found")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "PATH\tNAME\tTYPE\tSIGNAL\tID")
	for _, d := range devices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", d.DevicePath, d.DeviceName, d.Type, signalString(d.Signal), d.DeviceID)
		list, err := formats(d.DevicePath)
		if err != nil {
			fmt.Fprintf(tw, "\t  formats unavailable: %v\t\n", err)
			continue
		}
		for _, f := range list {
			emulated := ""
			if f.Emulated {
				emulated = " (emulated)"
			}
			fmt.Fprintf(tw, "\t  %s %s%s\t\n", v4l2.FormatFourCC(f.PixelFormat), f.FormatName, emulated)
		}
	}
	return tw.Flush()
}

func signalString(sig v4l2.SignalStatus) string {
	switch sig.State {
	case v4l2.SignalLocked:
		scan := "p"
		if sig.Interlaced {
			scan = "i"
		}
		return fmt.Sprintf("%dx%d%s%.2f", sig.Width, sig.Height, scan, sig.FPS)
	case v4l2.SignalNotSupported:
		return "-"
	default:
		return sig.State.String()
	}
}
