package domain

import (
	"fmt"
	"strconv"
	"strings"
)

const (
	speedMin = 0
	speedMax = 255
)

var allowedCommands = map[string]struct{}{
	"forward":  {},
	"backward": {},
	"left":     {},
	"right":    {},
	"stop":     {},
	"setspeed": {},
}

// CommandMessage is a validated drive command addressed to one vehicle.
type CommandMessage struct {
	Command    string
	LeftSpeed  *int
	RightSpeed *int
	Sequence   *int
	Timestamp  string
	TankID     string
}

// ParseCommand validates a raw command entry. Values arrive as loosely typed
// fields (stream entries carry strings, the enqueue endpoint carries JSON
// numbers); unknown fields are ignored. Validation is total: any violation
// rejects the whole message.
func ParseCommand(values map[string]any) (*CommandMessage, error) {
	command, err := stringField(values, "command")
	if err != nil {
		return nil, err
	}
	command = strings.ToLower(command)
	if _, ok := allowedCommands[command]; !ok {
		return nil, fmt.Errorf("%w: unsupported command %q", ErrInvalidCommand, command)
	}

	leftSpeed, err := speedField(values, "leftSpeed")
	if err != nil {
		return nil, err
	}
	rightSpeed, err := speedField(values, "rightSpeed")
	if err != nil {
		return nil, err
	}

	sequence, err := intField(values, "sequence")
	if err != nil {
		return nil, err
	}

	var timestamp string
	if _, ok := values["timestamp"]; ok {
		timestamp, err = stringField(values, "timestamp")
		if err != nil {
			return nil, err
		}
	}

	tankID, err := stringField(values, "tankId")
	if err != nil {
		return nil, err
	}
	tankID = strings.TrimSpace(tankID)
	if tankID == "" {
		return nil, fmt.Errorf("%w: tankId is required", ErrInvalidCommand)
	}

	return &CommandMessage{
		Command:    command,
		LeftSpeed:  leftSpeed,
		RightSpeed: rightSpeed,
		Sequence:   sequence,
		Timestamp:  timestamp,
		TankID:     tankID,
	}, nil
}

// ForwardPayload is the message transmitted to the vehicle: every validated
// field except the target id, with absent optionals omitted.
func (c *CommandMessage) ForwardPayload() Payload {
	p := Payload{"command": c.Command}
	if c.LeftSpeed != nil {
		p["leftSpeed"] = *c.LeftSpeed
	}
	if c.RightSpeed != nil {
		p["rightSpeed"] = *c.RightSpeed
	}
	if c.Sequence != nil {
		p["sequence"] = *c.Sequence
	}
	if c.Timestamp != "" {
		p["timestamp"] = c.Timestamp
	}
	return p
}

func stringField(values map[string]any, key string) (string, error) {
	v, ok := values[key]
	if !ok {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidCommand, key)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidCommand, key)
	}
	return s, nil
}

func speedField(values map[string]any, key string) (*int, error) {
	n, err := intField(values, key)
	if err != nil {
		return nil, err
	}
	if n != nil && (*n < speedMin || *n > speedMax) {
		return nil, fmt.Errorf("%w: %s must be between %d and %d", ErrInvalidCommand, key, speedMin, speedMax)
	}
	return n, nil
}

func intField(values map[string]any, key string) (*int, error) {
	v, ok := values[key]
	if !ok || v == nil {
		return nil, nil
	}
	switch n := v.(type) {
	case int:
		return &n, nil
	case int64:
		i := int(n)
		return &i, nil
	case float64:
		i := int(n)
		if float64(i) != n {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidCommand, key)
		}
		return &i, nil
	case string:
		if n == "" {
			return nil, nil
		}
		i, err := strconv.Atoi(n)
		if err != nil {
			return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidCommand, key)
		}
		return &i, nil
	default:
		return nil, fmt.Errorf("%w: %s must be an integer", ErrInvalidCommand, key)
	}
}
