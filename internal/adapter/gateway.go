package adapter

import (
	"bufio"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/netip"
	"os"
	"strconv"
	"strings"
)

const routeFile = "/proc/net/route"

// rtfGateway is the RTF_GATEWAY route flag
const rtfGateway = 0x2

var ErrNoDefaultGateway = errors.New("no default gateway")

// DefaultGateway returns the IPv4 default gateway from the kernel routing table
func DefaultGateway() (string, error) {
	f, err := os.Open(routeFile)
	if err != nil {
		return "", fmt.Errorf("read routing table: %w", err)
	}
	defer f.Close()

	return parseRouteTable(f)
}

// parseRouteTable finds the default route in /proc/net/route format.
// Destination and gateway are little-endian hex.
func parseRouteTable(r io.Reader) (string, error) {
	sc := bufio.NewScanner(r)

	// Skip header
	if !sc.Scan() {
		return "", ErrNoDefaultGateway
	}

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		if fields[1] != "00000000" {
			continue
		}
		flags, err := strconv.ParseUint(fields[3], 16, 32)
		if err != nil || flags&rtfGateway == 0 {
			continue
		}

		raw, err := hex.DecodeString(fields[2])
		if err != nil || len(raw) != 4 {
			continue
		}
		ip := netip.AddrFrom4([4]byte{raw[3], raw[2], raw[1], raw[0]})
		return ip.String(), nil
	}

	if err := sc.Err(); err != nil {
		return "", fmt.Errorf("scan routing table: %w", err)
	}
	return "", ErrNoDefaultGateway
}
