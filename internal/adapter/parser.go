package adapter

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"net"
	"sort"
	"strconv"
	"strings"

	nmap "github.com/Ullaakut/nmap/v3"
	"github.com/rs/zerolog"

	"modbusmgr/internal/domain"
)

const (
	modbusService = "modbus"
	modbusScript  = "modbus-discover"
)

// Parser turns raw probe output into Modbus observations.
//
// Both the nmap XML report and nmap's normal text output are accepted.
// Truncated output yields every complete record before the cut. Output with
// no Modbus markers yields an empty set; parsing never fails a cycle.
type Parser struct {
	resolver domain.Resolver
	logger   zerolog.Logger
}

// NewParser creates a parser that deduplicates by the resolver's identity
func NewParser(resolver domain.Resolver, logger zerolog.Logger) *Parser {
	return &Parser{resolver: resolver, logger: logger}
}

// Parse returns one observation per identity, ordered by identity key.
// When an identity appears more than once the last record wins.
func (p *Parser) Parse(raw []byte) []domain.Observation {
	var found []domain.Observation
	if isXML(raw) {
		found = p.parseXML(raw)
	} else {
		found = p.parseText(raw)
	}
	return p.dedupe(found)
}

func (p *Parser) dedupe(found []domain.Observation) []domain.Observation {
	byKey := make(map[string]domain.Observation, len(found))
	for _, o := range found {
		if err := o.Validate(); err != nil {
			p.logger.Debug().Err(err).Msg("Skipping unusable observation")
			continue
		}
		byKey[p.resolver.Resolve(o).Key()] = o
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]domain.Observation, 0, len(keys))
	for _, k := range keys {
		out = append(out, byKey[k])
	}
	return out
}

func isXML(raw []byte) bool {
	head := bytes.TrimSpace(raw)
	if len(head) > 512 {
		head = head[:512]
	}
	return bytes.HasPrefix(head, []byte("<?xml")) || bytes.Contains(head, []byte("<nmaprun"))
}

// parseXML streams <host> elements so a truncated report keeps every host
// that was fully written
func (p *Parser) parseXML(raw []byte) []domain.Observation {
	var out []domain.Observation

	dec := xml.NewDecoder(bytes.NewReader(raw))
	dec.Strict = false

	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "host" {
			continue
		}

		var host nmap.Host
		if err := dec.DecodeElement(&host, &start); err != nil {
			p.logger.Debug().Err(err).Msg("Stopping at incomplete host record")
			break
		}
		out = append(out, p.hostObservations(host)...)
	}

	return out
}

func (p *Parser) hostObservations(host nmap.Host) []domain.Observation {
	if host.Status.State != "" && host.Status.State != "up" {
		return nil
	}

	addr := hostAddress(host)
	if addr == "" {
		return nil
	}

	var hostname string
	if len(host.Hostnames) > 0 {
		hostname = host.Hostnames[0].Name
	}

	var out []domain.Observation
	for _, port := range host.Ports {
		if port.State.State != "open" {
			continue
		}
		script, hasScript := findScript(port.Scripts, modbusScript)
		if port.Service.Name != modbusService && !hasScript {
			continue
		}

		base := portMetadata(addr, int(port.ID), port.Protocol, port.Service.Name, hostname)
		units := scriptUnits(script)
		out = append(out, unitObservations(addr, int(port.ID), base, units)...)
	}
	return out
}

// hostAddress picks the IPv4 address, then IPv6, never the MAC
func hostAddress(host nmap.Host) string {
	var v6 string
	for _, a := range host.Addresses {
		switch a.AddrType {
		case "ipv4":
			return a.Addr
		case "ipv6":
			if v6 == "" {
				v6 = a.Addr
			}
		}
	}
	return v6
}

func findScript(scripts []nmap.Script, id string) (nmap.Script, bool) {
	for _, s := range scripts {
		if s.ID == id {
			return s, true
		}
	}
	return nmap.Script{}, false
}

// modbusUnit is one "sid 0xNN" entry of the modbus-discover script
type modbusUnit struct {
	unitID   string
	classes  string
	vendor   string
	errorMsg string
}

func scriptUnits(script nmap.Script) []modbusUnit {
	var units []modbusUnit
	for _, table := range script.Tables {
		unitID, ok := parseSID(table.Key)
		if !ok {
			continue
		}
		u := modbusUnit{unitID: unitID}
		for _, elem := range table.Elements {
			u.set(elem.Key, elem.Value)
		}
		units = append(units, u)
	}
	return units
}

func (u *modbusUnit) set(key, value string) {
	value = strings.TrimSpace(value)
	switch strings.ToLower(strings.TrimSpace(key)) {
	case "slave id data":
		u.classes = value
	case "device identification":
		u.vendor = value
	case "error":
		u.errorMsg = value
	}
}

func (u modbusUnit) responded() bool {
	return u.classes != "" || u.vendor != "" || u.errorMsg == ""
}

// parseSID converts "sid 0x64" to the decimal unit id "100"
func parseSID(key string) (string, bool) {
	fields := strings.Fields(key)
	if len(fields) != 2 || !strings.EqualFold(fields[0], "sid") {
		return "", false
	}
	digits := strings.TrimPrefix(strings.ToLower(fields[1]), "0x")
	n, err := strconv.ParseUint(digits, 16, 8)
	if err != nil {
		return "", false
	}
	return strconv.FormatUint(n, 10), true
}

func portMetadata(host string, port int, protocol, service, hostname string) map[string]string {
	md := map[string]string{
		domain.MetaInterface: strings.ToUpper(protocol),
		domain.MetaAvailable: "true",
	}
	if service != "" {
		md[domain.MetaService] = service
	}
	if hostname != "" {
		md[domain.MetaHostname] = hostname
	}
	md[domain.MetaName] = peripheralName(host, port, protocol, "", "")
	return md
}

// unitObservations yields one observation per responding unit. A Modbus
// port with no responding unit still yields one observation for the port.
func unitObservations(host string, port int, base map[string]string, units []modbusUnit) []domain.Observation {
	protocol := strings.ToLower(base[domain.MetaInterface])

	var out []domain.Observation
	for _, u := range units {
		if !u.responded() {
			continue
		}
		md := domain.CloneMetadata(base)
		md[domain.MetaUnitID] = u.unitID
		if u.classes != "" {
			md[domain.MetaClasses] = u.classes
		}
		if u.vendor != "" {
			md[domain.MetaVendor] = u.vendor
		}
		md[domain.MetaName] = peripheralName(host, port, protocol, u.classes, u.unitID)
		out = append(out, domain.NewObservation(host, port, md))
	}

	if len(out) == 0 {
		out = append(out, domain.NewObservation(host, port, base))
	}
	return out
}

// peripheralName builds the display name, e.g.
// "Modbus 192.168.1.10:502/tcp PM710PowerMeter - 100". The address keeps
// records from different hosts of one range apart.
func peripheralName(host string, port int, protocol, classes, unitID string) string {
	name := fmt.Sprintf("Modbus %s/%s", net.JoinHostPort(host, strconv.Itoa(port)), protocol)
	if classes != "" {
		name += " " + classes
	}
	if unitID != "" {
		name += " - " + unitID
	}
	return name
}
