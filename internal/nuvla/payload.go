package nuvla

import (
	"strconv"
	"strings"

	"modbusmgr/internal/domain"
)

// peripheralPayload converts observation metadata into the
// nuvlabox-peripheral schema. Keys the schema does not know are dropped.
func (c *Client) peripheralPayload(id domain.Identity, md map[string]string) map[string]any {
	payload := map[string]any{
		"port":      id.Port,
		"available": true,
	}

	unit := id.UnitID
	if v := md[domain.MetaUnitID]; v != "" {
		unit = v
	}
	if unit != "" {
		payload["identifier"] = unit
	}

	for key, field := range map[string]string{
		domain.MetaName:      "name",
		domain.MetaVendor:    "vendor",
		domain.MetaInterface: "interface",
	} {
		if v := md[key]; v != "" {
			payload[field] = v
		}
	}

	if v := md[domain.MetaClasses]; v != "" {
		payload["classes"] = []string{v}
	}
	if v := md[domain.MetaAvailable]; v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			payload["available"] = b
		}
	}

	if _, ok := payload["name"]; !ok {
		payload["name"] = "Modbus " + id.Key()
	}
	if _, ok := payload["interface"]; !ok {
		payload["interface"] = "TCP"
	}
	payload["interface"] = strings.ToUpper(payload["interface"].(string))

	return payload
}
