package coordinator

import (
	"context"
	"fmt"
)

// CommandSender is implemented by appliances that accept direct commands.
type CommandSender interface {
	SendCommand(ctx context.Context, payload map[string]any) (map[string]any, error)
}

// ValveController is implemented by appliances with a shut-off valve.
type ValveController interface {
	ValveState(ctx context.Context) (map[string]any, error)
	SetValve(ctx context.Context, open bool) (map[string]any, error)
}

// Commands returns the command capability of the appliance, if it has one.
func (c *Coordinator) Commands() (CommandSender, bool) {
	if !c.profile.Commands {
		return nil, false
	}
	return c, true
}

// Valve returns the valve capability of the appliance, if it has one.
func (c *Coordinator) Valve() (ValveController, bool) {
	if !c.profile.Valve {
		return nil, false
	}
	return valve{c}, true
}

type valve struct {
	c *Coordinator
}

// ValveState reads the current command document, which carries valve_open.
func (v valve) ValveState(ctx context.Context) (map[string]any, error) {
	resp, err := v.c.client.ApplianceCommand(ctx, v.c.device)
	if err != nil {
		return nil, fmt.Errorf("get valve state of %s: %w", v.c.device, err)
	}
	return resp, nil
}

func (v valve) SetValve(ctx context.Context, open bool) (map[string]any, error) {
	return v.c.SendCommand(ctx, map[string]any{
		"command": map[string]any{"valve_open": open},
	})
}
