// Package yeelight is a small client for the Yeelight LAN control protocol:
// JSON commands terminated by CRLF over TCP port 55443.
package yeelight

import (
	"net"
	"net/netip"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
)

const (
	// timeout value for dialing and command replies
	timeout = time.Second * 3
	// line ending (CRLF)
	lineEnding = "\r\n"
	// default TCP port
	defaultBulbPort = 55443
)

// ErrBrightnessInvalid is returned for brightness outside 1..100.
var ErrBrightnessInvalid = eris.New("brightness must be between 1 and 100")

// Effect selects how the bulb transitions to a new state.
type Effect string

const (
	Sudden Effect = "sudden"
	Smooth Effect = "smooth"
)

// PowerStatus is the bulb's power property.
type PowerStatus string

const (
	PowerOn  PowerStatus = "on"
	PowerOff PowerStatus = "off"
)

// NewBulbFromAddress parses "host" or "host:port".
func NewBulbFromAddress(address string) (*Bulb, error) {
	if _, _, err := net.SplitHostPort(address); err != nil {
		address = net.JoinHostPort(address, strconv.Itoa(defaultBulbPort))
	}

	addr, err := netip.ParseAddrPort(address)
	if err != nil {
		return nil, eris.Wrap(err, "failed to parse bulb address")
	}

	return newBulb(addr), nil
}

// RGBToInt packs r, g, b into the 0xRRGGBB integer the bulb expects.
func RGBToInt(r, g, b uint8) uint {
	return uint(r)<<16 | uint(g)<<8 | uint(b)
}
