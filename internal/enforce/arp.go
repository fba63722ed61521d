package enforce

import (
	"bufio"
	"context"
	"io"
	"net"
	"os"
	"strings"
)

// ARPTable is the kernel neighbour table consulted when `ip neigh` fails.
const ARPTable = "/proc/net/arp"

// LookupMAC maps a LAN IP to its hardware address, upper-cased. It asks
// `ip neigh` first and falls back to reading the kernel ARP table.
func LookupMAC(ctx context.Context, runner Runner, ip string) (string, bool) {
	if net.ParseIP(ip) == nil {
		return "", false
	}
	if runner != nil {
		if out, err := runner.Run(ctx, "ip", "neigh", "show", ip); err == nil {
			if mac, ok := parseNeigh(out); ok {
				return mac, true
			}
		}
	}
	f, err := os.Open(ARPTable)
	if err != nil {
		return "", false
	}
	defer f.Close()
	return parseARP(f, ip)
}

// parseNeigh reads "192.168.8.20 dev br-lan lladdr aa:bb:cc:dd:ee:ff REACHABLE".
func parseNeigh(out string) (string, bool) {
	fields := strings.Fields(out)
	for i, f := range fields {
		if f == "lladdr" && i+1 < len(fields) {
			return NormalizeMAC(fields[i+1])
		}
	}
	return "", false
}

// parseARP scans /proc/net/arp content for ip.
func parseARP(r io.Reader, ip string) (string, bool) {
	sc := bufio.NewScanner(r)
	first := true
	for sc.Scan() {
		if first {
			first = false
			continue
		}
		fields := strings.Fields(sc.Text())
		if len(fields) >= 4 && fields[0] == ip {
			return NormalizeMAC(fields[3])
		}
	}
	return "", false
}

// NormalizeMAC upper-cases a hardware address and uses colon separators.
// The all-zero address (incomplete ARP entry) is rejected.
func NormalizeMAC(s string) (string, bool) {
	hw, err := net.ParseMAC(strings.ReplaceAll(strings.TrimSpace(s), "-", ":"))
	if err != nil || len(hw) != 6 {
		return "", false
	}
	mac := strings.ToUpper(hw.String())
	if mac == "00:00:00:00:00:00" {
		return "", false
	}
	return mac, true
}
