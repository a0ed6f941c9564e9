package adapter

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const routeHeader = "Iface\tDestination\tGateway \tFlags\tRefCnt\tUse\tMetric\tMask\t\tMTU\tWindow\tIRTT\n"

func TestParseRouteTable(t *testing.T) {
	tests := []struct {
		name    string
		table   string
		want    string
		wantErr error
	}{
		{
			name: "default route",
			table: routeHeader +
				"eth0\t0001A8C0\t00000000\t0001\t0\t0\t0\t00FFFFFF\t0\t0\t0\n" +
				"eth0\t00000000\t0101A8C0\t0003\t0\t0\t0\t00000000\t0\t0\t0\n",
			want: "192.168.1.1",
		},
		{
			name: "default route without gateway flag",
			table: routeHeader +
				"wg0\t00000000\t00000000\t0001\t0\t0\t0\t00000000\t0\t0\t0\n" +
				"eth1\t00000000\t010A000A\t0003\t0\t0\t100\t00000000\t0\t0\t0\n",
			want: "10.0.10.1",
		},
		{
			name: "no default route",
			table: routeHeader +
				"eth0\t0001A8C0\t00000000\t0001\t0\t0\t0\t00FFFFFF\t0\t0\t0\n",
			wantErr: ErrNoDefaultGateway,
		},
		{
			name:    "empty",
			table:   "",
			wantErr: ErrNoDefaultGateway,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseRouteTable(strings.NewReader(tt.table))
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
