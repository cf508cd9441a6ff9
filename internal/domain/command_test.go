package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCommand_CanonicalizesCase(t *testing.T) {
	cmd, err := ParseCommand(map[string]any{
		"command":   "FORWARD",
		"leftSpeed": "200",
		"tankId":    "T1",
	})
	require.NoError(t, err)

	assert.Equal(t, "forward", cmd.Command)
	require.NotNil(t, cmd.LeftSpeed)
	assert.Equal(t, 200, *cmd.LeftSpeed)
	assert.Nil(t, cmd.RightSpeed)
	assert.Equal(t, "T1", cmd.TankID)
}

func TestParseCommand_RejectsUnknownCommand(t *testing.T) {
	_, err := ParseCommand(map[string]any{"command": "spin", "tankId": "T1"})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestParseCommand_SpeedBounds(t *testing.T) {
	tests := []struct {
		name    string
		left    any
		right   any
		wantErr bool
	}{
		{"inclusive lower and upper", "0", "255", false},
		{"above range", "300", nil, true},
		{"below range", "-1", nil, true},
		{"not a number", "fast", nil, true},
		{"json number", float64(128), nil, false},
		{"fractional json number", 12.5, nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			values := map[string]any{"command": "forward", "tankId": "T1"}
			if tt.left != nil {
				values["leftSpeed"] = tt.left
			}
			if tt.right != nil {
				values["rightSpeed"] = tt.right
			}

			_, err := ParseCommand(values)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidCommand)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestParseCommand_RequiresTarget(t *testing.T) {
	_, err := ParseCommand(map[string]any{"command": "stop"})
	assert.ErrorIs(t, err, ErrInvalidCommand)

	_, err = ParseCommand(map[string]any{"command": "stop", "tankId": "   "})
	assert.ErrorIs(t, err, ErrInvalidCommand)
}

func TestParseCommand_TrimsTarget(t *testing.T) {
	cmd, err := ParseCommand(map[string]any{"command": "stop", "tankId": "  T1  "})
	require.NoError(t, err)
	assert.Equal(t, "T1", cmd.TankID)
}

func TestParseCommand_IgnoresUnknownFields(t *testing.T) {
	cmd, err := ParseCommand(map[string]any{
		"command":   "stop",
		"tankId":    "T1",
		"commandId": "3f2c7b1e",
	})
	require.NoError(t, err)

	payload := cmd.ForwardPayload()
	assert.NotContains(t, payload, "commandId")
	assert.NotContains(t, payload, "tankId")
}

func TestForwardPayload_OmitsAbsentOptionals(t *testing.T) {
	cmd, err := ParseCommand(map[string]any{
		"command":   "setspeed",
		"leftSpeed": "10",
		"sequence":  "4",
		"tankId":    "T1",
	})
	require.NoError(t, err)

	payload := cmd.ForwardPayload()
	assert.Equal(t, Payload{"command": "setspeed", "leftSpeed": 10, "sequence": 4}, payload)
}

func TestDecodePayload_FallbackOnBadJSON(t *testing.T) {
	p, decoded := DecodePayload("not json at all")
	assert.False(t, decoded)
	assert.Equal(t, Payload{"raw": "not json at all"}, p)

	p, decoded = DecodePayload(`[1, 2, 3]`)
	assert.False(t, decoded)
	assert.Equal(t, Payload{"raw": "[1, 2, 3]"}, p)
}

func TestDecodePayload_ObjectPassesThrough(t *testing.T) {
	p, decoded := DecodePayload(`{"battery": 87, "type": "status"}`)
	assert.True(t, decoded)
	assert.Equal(t, float64(87), p["battery"])
	assert.Equal(t, "status", p["type"])
}

func TestEnsureKind(t *testing.T) {
	p := Payload{"raw": "x"}
	p.EnsureKind("telemetry")
	assert.Equal(t, "telemetry", p["type"])

	p = Payload{"type": "status"}
	p.EnsureKind("telemetry")
	assert.Equal(t, "status", p["type"])
}
