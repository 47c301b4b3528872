// Command otphid-tool talks to a connected OTP device over HID feature
// reports: status, serial, challenge-response and slot provisioning from
// a YAML description.
package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/sstallion/go-hid"
	"github.com/urfave/cli/v3"

	"github.com/go-ctap/otphid/pkg/otphid"
	"github.com/go-ctap/otphid/pkg/otptypes"
	"github.com/go-ctap/otphid/pkg/provision"
)

func main() {
	cmd := &cli.Command{
		Name:  "otphid-tool",
		Usage: "Talk to an OTP HID device",
		Flags: []cli.Flag{
			&cli.UintFlag{
				Name:  "vid",
				Usage: "USB vendor ID",
				Value: 0x1050,
			},
			&cli.UintFlag{
				Name:  "pid",
				Usage: "USB product ID",
				Value: 0x0407,
			},
			&cli.StringFlag{
				Name:  "path",
				Usage: "HID device path (overrides vid/pid)",
			},
		},
		Commands: []*cli.Command{
			statusCommand(),
			serialCommand(),
			chalRespCommand(),
			configureCommand(),
			templateCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "Print the device status report",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := openDevice(cmd)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			status, err := readStatus(dev)
			if err != nil {
				return err
			}
			fmt.Printf("Version:  %d.%d.%d\n", status[0], status[1], status[2])
			fmt.Printf("Sequence: %d\n", status[3])
			fmt.Printf("Slot 1:   configured=%t touch=%t\n",
				status[4]&otptypes.CONFIG1_VALID != 0, status[4]&otptypes.CONFIG1_TOUCH != 0)
			fmt.Printf("Slot 2:   configured=%t touch=%t\n",
				status[4]&otptypes.CONFIG2_VALID != 0, status[4]&otptypes.CONFIG2_TOUCH != 0)
			return nil
		},
	}
}

func serialCommand() *cli.Command {
	return &cli.Command{
		Name:  "serial",
		Usage: "Read the device serial number",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			dev, err := openDevice(cmd)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			resp, err := exchange(dev, byte(otptypes.CMD_GET_SERIAL), nil, 4)
			if err != nil {
				return err
			}
			fmt.Printf("%d\n", uint32(resp[0])<<24|uint32(resp[1])<<16|uint32(resp[2])<<8|uint32(resp[3]))
			return nil
		},
	}
}

func chalRespCommand() *cli.Command {
	return &cli.Command{
		Name:      "chalresp",
		Usage:     "Run a challenge-response calculation",
		ArgsUsage: "<hex challenge>",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:  "slot",
				Usage: "Slot number (1 or 2)",
				Value: 2,
			},
			&cli.BoolFlag{
				Name:  "otp",
				Usage: "Use the Yubico OTP variant instead of HMAC-SHA1",
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			challenge, err := hex.DecodeString(cmd.Args().First())
			if err != nil {
				return fmt.Errorf("decoding challenge: %w", err)
			}

			slot := cmd.Int("slot")
			if slot != 1 && slot != 2 {
				return fmt.Errorf("slot must be 1 or 2, got %d", slot)
			}

			slotByte := byte(otptypes.CMD_CHAL_HMAC_1)
			respLen := 20
			if cmd.Bool("otp") {
				slotByte = byte(otptypes.CMD_CHAL_OTP_1)
				respLen = 16
			}
			if slot == 2 {
				slotByte |= 0x08
			}

			dev, err := openDevice(cmd)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			resp, err := exchange(dev, slotByte, challenge, respLen)
			if err != nil {
				return err
			}
			fmt.Printf("%x\n", resp)
			return nil
		},
	}
}

func configureCommand() *cli.Command {
	return &cli.Command{
		Name:  "configure",
		Usage: "Write slot configurations from a YAML description",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Usage:    "Provisioning YAML file",
				Required: true,
			},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			f, err := provision.Load(cmd.String("file"))
			if err != nil {
				return err
			}

			dev, err := openDevice(cmd)
			if err != nil {
				return err
			}
			defer closeDevice(dev)

			for n, spec := range f.Slots {
				payload, err := spec.Payload()
				if err != nil {
					return err
				}
				status, err := exchange(dev, byte(provision.Command(n)), payload, 7)
				if err != nil {
					return fmt.Errorf("configuring slot %d: %w", n, err)
				}
				fmt.Fprintf(os.Stderr, "slot %d written, sequence now %d\n", n, status[3])
			}
			return nil
		},
	}
}

func templateCommand() *cli.Command {
	return &cli.Command{
		Name:  "template",
		Usage: "Print a provisioning file template",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			return provision.WriteTemplate(os.Stdout)
		},
	}
}

func openDevice(cmd *cli.Command) (*hid.Device, error) {
	if err := hid.Init(); err != nil {
		return nil, fmt.Errorf("initializing hidapi: %w", err)
	}
	if path := cmd.String("path"); path != "" {
		return hid.OpenPath(path)
	}
	return hid.OpenFirst(uint16(cmd.Uint("vid")), uint16(cmd.Uint("pid")))
}

func closeDevice(dev *hid.Device) {
	_ = dev.Close()
	_ = hid.Exit()
}

// sendReport wraps an 8-byte report with the zero report ID hidapi
// expects for feature reports.
func sendReport(dev *hid.Device, report []byte) error {
	buf := append([]byte{0x00}, report...)
	if _, err := dev.SendFeatureReport(buf); err != nil {
		return fmt.Errorf("sending feature report: %w", err)
	}
	return nil
}

func getReport(dev *hid.Device) ([]byte, error) {
	buf := make([]byte, otphid.ReportSize+1)
	if _, err := dev.GetFeatureReport(buf); err != nil {
		return nil, fmt.Errorf("polling feature report: %w", err)
	}
	return buf[1:], nil
}

// readStatus polls the idle status fields.
func readStatus(dev *hid.Device) ([]byte, error) {
	report, err := getReport(dev)
	if err != nil {
		return nil, err
	}
	return report[1:otphid.ReportSize], nil
}

// exchange runs one command frame and collects the n-byte response.
func exchange(dev *hid.Device, slot byte, payload []byte, n int) ([]byte, error) {
	if err := sendReport(dev, otphid.ResetReport()); err != nil {
		return nil, err
	}

	reports, err := otphid.EncodeRequest(slot, payload)
	if err != nil {
		return nil, err
	}
	for _, report := range reports {
		if err := sendReport(dev, report); err != nil {
			return nil, err
		}
	}

	var coll otphid.ResponseCollector
	for polls := 0; ; polls++ {
		if polls > 256 {
			return nil, otphid.ErrResponseIncomplete
		}
		report, err := getReport(dev)
		if err != nil {
			return nil, err
		}
		if coll.Push(report) {
			break
		}
	}
	return coll.Body(n)
}
