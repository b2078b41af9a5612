package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/tendant/simple-video/pkg/simplevideo"
)

// Controller simulates a single tagged instance. A stop request leaves the
// instance stopping for StopLatency describes before it reports stopped.
type Controller struct {
	mu          sync.Mutex
	selector    simplevideo.TagSelector
	instance    simplevideo.Instance
	address     string
	pending     int
	bootScript  string
	calls       []string
	failures    map[string]error
	StopLatency int
}

// New creates a running instance tagged by selector
func New(selector simplevideo.TagSelector, instanceID, address string) *Controller {
	return &Controller{
		selector: selector,
		instance: simplevideo.Instance{
			ID:            instanceID,
			PublicAddress: address,
			State:         simplevideo.InstanceRunning,
		},
		address:  address,
		failures: make(map[string]error),
	}
}

// FailOn makes the named operation (describe, stop, boot-script, start) return err
func (c *Controller) FailOn(op string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failures[op] = err
}

func (c *Controller) record(op string) error {
	c.calls = append(c.calls, op)
	return c.failures[op]
}

func (c *Controller) DescribeInstance(ctx context.Context, selector simplevideo.TagSelector) (*simplevideo.Instance, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("describe"); err != nil {
		return nil, err
	}
	if selector != c.selector {
		return nil, fmt.Errorf("%w: %s", simplevideo.ErrInstanceNotFound, selector)
	}
	if c.instance.State == simplevideo.InstanceStopping {
		if c.pending > 0 {
			c.pending--
		} else {
			c.instance.State = simplevideo.InstanceStopped
			c.instance.PublicAddress = ""
		}
	}
	inst := c.instance
	return &inst, nil
}

func (c *Controller) SetBootScript(ctx context.Context, instanceID string, script string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("boot-script"); err != nil {
		return err
	}
	if err := c.check(instanceID); err != nil {
		return err
	}
	if c.instance.State != simplevideo.InstanceStopped {
		return fmt.Errorf("instance %s must be stopped to change its boot script, is %s", instanceID, c.instance.State)
	}
	c.bootScript = script
	return nil
}

func (c *Controller) StopInstance(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("stop"); err != nil {
		return err
	}
	if err := c.check(instanceID); err != nil {
		return err
	}
	if c.instance.State != simplevideo.InstanceStopped {
		c.instance.State = simplevideo.InstanceStopping
		c.pending = c.StopLatency
	}
	return nil
}

func (c *Controller) StartInstance(ctx context.Context, instanceID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.record("start"); err != nil {
		return err
	}
	if err := c.check(instanceID); err != nil {
		return err
	}
	c.instance.State = simplevideo.InstanceRunning
	c.instance.PublicAddress = c.address
	return nil
}

func (c *Controller) check(instanceID string) error {
	if instanceID != c.instance.ID {
		return fmt.Errorf("%w: %s", simplevideo.ErrInstanceNotFound, instanceID)
	}
	return nil
}

// Calls returns the operations invoked so far, in order
func (c *Controller) Calls() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.calls...)
}

// BootScript returns the last boot script written
func (c *Controller) BootScript() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bootScript
}

// State returns the current instance state
func (c *Controller) State() simplevideo.InstanceState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.instance.State
}
