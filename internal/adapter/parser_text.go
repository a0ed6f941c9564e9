package adapter

import (
	"bufio"
	"bytes"
	"regexp"
	"strconv"
	"strings"

	"modbusmgr/internal/domain"
)

var (
	// Nmap scan report for plc.local (192.168.1.10)
	// Nmap scan report for 192.168.1.10
	reportLine = regexp.MustCompile(`^Nmap scan report for (\S+)(?: \(([^)]+)\))?`)
	// 502/tcp open  modbus
	portLine = regexp.MustCompile(`^(\d+)/(tcp|udp)\s+open\s+(\S+)`)
	// |   sid 0x64:
	sidLine = regexp.MustCompile(`^\|_?\s+sid\s+(0x[0-9a-fA-F]+):`)
	// |     Slave ID data: ...
	elemLine = regexp.MustCompile(`^\|_?\s+([A-Za-z][A-Za-z ]*?):\s*(.*)$`)
)

// textPort collects the lines belonging to one open port
type textPort struct {
	host     string
	hostname string
	port     int
	protocol string
	service  string
	inScript bool
	script   bool
	units    []modbusUnit
}

func (tp *textPort) modbus() bool {
	return tp.service == modbusService || tp.script
}

func (tp *textPort) observations() []domain.Observation {
	if tp == nil || !tp.modbus() {
		return nil
	}
	base := portMetadata(tp.host, tp.port, tp.protocol, tp.service, tp.hostname)
	return unitObservations(tp.host, tp.port, base, tp.units)
}

// parseText reads nmap normal output. An unterminated last line is treated
// as a truncated fragment and ignored.
func (p *Parser) parseText(raw []byte) []domain.Observation {
	if i := bytes.LastIndexByte(raw, '\n'); i >= 0 {
		raw = raw[:i+1]
	} else {
		return nil
	}

	var (
		out      []domain.Observation
		host     string
		hostname string
		cur      *textPort
	)

	flush := func() {
		out = append(out, cur.observations()...)
		cur = nil
	}

	sc := bufio.NewScanner(bytes.NewReader(raw))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")

		if m := reportLine.FindStringSubmatch(line); m != nil {
			flush()
			host, hostname = m[1], ""
			if m[2] != "" {
				host, hostname = m[2], m[1]
			}
			continue
		}

		if m := portLine.FindStringSubmatch(line); m != nil {
			flush()
			if host == "" {
				continue
			}
			port, err := strconv.Atoi(m[1])
			if err != nil {
				continue
			}
			cur = &textPort{
				host:     host,
				hostname: hostname,
				port:     port,
				protocol: m[2],
				service:  m[3],
			}
			continue
		}

		if cur == nil || !strings.HasPrefix(line, "|") {
			if cur != nil && line != "" && !strings.HasPrefix(line, " ") {
				// a non-script line closes the port section
				flush()
			}
			continue
		}

		p.scriptLine(cur, line)
	}

	flush()
	return out
}

func (p *Parser) scriptLine(cur *textPort, line string) {
	body := strings.TrimSpace(strings.TrimPrefix(strings.TrimPrefix(line, "|_"), "|"))

	// script header: "| modbus-discover:" at the shallowest indent
	if strings.HasSuffix(body, ":") && !strings.Contains(body, " ") {
		cur.inScript = strings.TrimSuffix(body, ":") == modbusScript
		if cur.inScript {
			cur.script = true
		}
		return
	}
	if !cur.inScript {
		return
	}

	if m := sidLine.FindStringSubmatch(line); m != nil {
		if unitID, ok := parseSID("sid " + m[1]); ok {
			cur.units = append(cur.units, modbusUnit{unitID: unitID})
		}
		return
	}

	if m := elemLine.FindStringSubmatch(line); m != nil && len(cur.units) > 0 {
		cur.units[len(cur.units)-1].set(m[1], m[2])
	}
}
