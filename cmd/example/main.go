package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/go-ctap/otphid/pkg/management"
	"github.com/go-ctap/otphid/pkg/otp"
	"github.com/go-ctap/otphid/pkg/otphid"
	"github.com/go-ctap/otphid/pkg/otptypes"
	"github.com/go-ctap/otphid/pkg/provision"
	"github.com/go-ctap/otphid/pkg/storage"
)

// Runs a fully in-memory device: provisions both slots, emits a rolling
// OTP from a button press and answers a challenge through the HID frame
// transport.
func main() {
	lvl := new(slog.LevelVar)
	lvl.Set(slog.LevelDebug)
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: lvl,
	}))

	store := storage.NewMemStore()
	device := management.New(store, [4]byte{0x00, 0x5B, 0x2F, 0x11}, otp.DefaultVersionMajor, otp.DefaultVersionMinor)

	keyboard := &otp.Buffer{}
	engine := otp.New(store, device,
		otp.WithLogger(logger),
		otp.WithKeyboard(keyboard),
	)
	if err := engine.Select(); err != nil {
		panic(err)
	}

	doc := `
slots:
  1:
    mode: rolling-otp
    fixed: "cc0102030405"
    uid: "8a91543c0005"
    key: "000102030405060708090a0b0c0d0e0f"
    append_cr: true
  2:
    mode: challenge-hmac
    uid: "8a91543c0006"
    key: "102132435465768798a9bacbdcedfe0f"
    short_message: true
`
	f, err := provision.Parse([]byte(doc))
	if err != nil {
		panic(err)
	}
	for n, spec := range f.Slots {
		payload, err := spec.Payload()
		if err != nil {
			panic(err)
		}
		_, sw := engine.ProcessAPDU(context.Background(), &otptypes.APDU{
			INS: otptypes.INS_OTP, P1: byte(provision.Command(n)), Data: payload,
		})
		if sw != otptypes.SW_OK {
			panic(fmt.Sprintf("configuring slot %d: %04X", n, uint16(sw)))
		}
	}

	if err := engine.ButtonPressed(otp.Slot1); err != nil {
		panic(err)
	}
	fmt.Printf("Rolling OTP: %s", keyboard.Bytes())

	// The same challenge a host would send over the wire, fragment by
	// fragment.
	transport := otphid.NewTransport(engine, otphid.WithLogger(logger))
	challenge := make([]byte, 64)
	copy(challenge, "example challenge")
	reports, err := otphid.EncodeRequest(byte(otptypes.CMD_CHAL_HMAC_2), challenge)
	if err != nil {
		panic(err)
	}
	for _, report := range reports {
		transport.SetReport(context.Background(), report)
	}

	var coll otphid.ResponseCollector
	for {
		out := make([]byte, otphid.ReportSize)
		transport.GetReport(out)
		if coll.Push(out) {
			break
		}
	}
	resp, err := coll.Body(20)
	if err != nil {
		panic(err)
	}
	fmt.Printf("HMAC response: %x\n", resp)
}
