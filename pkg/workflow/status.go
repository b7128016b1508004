package workflow

import (
	"fmt"
	"os"

	"taskboard-backend/pkg/models"

	"gopkg.in/yaml.v3"
)

// StatusDef describes one workflow status.
// Active statuses require every blocker to be finished before a task enters them.
// Exactly one status is the success status; it marks a task finished.
type StatusDef struct {
	Name     models.Status `yaml:"name" json:"name"`
	Active   bool          `yaml:"active" json:"active"`
	Terminal bool          `yaml:"terminal" json:"terminal"`
	Success  bool          `yaml:"success" json:"success"`
	Initial  bool          `yaml:"initial" json:"initial"`
}

// StatusCatalog is the closed, ordered set of statuses.
type StatusCatalog struct {
	defs    []StatusDef
	byName  map[models.Status]StatusDef
	success models.Status
	initial models.Status
}

// DefaultStatuses returns the standard board columns.
func DefaultStatuses() *StatusCatalog {
	c, err := NewStatusCatalog([]StatusDef{
		{Name: models.StatusBacklog},
		{Name: models.StatusTodo, Initial: true},
		{Name: models.StatusInProgress, Active: true},
		{Name: models.StatusInReview, Active: true},
		{Name: models.StatusDone, Active: true, Terminal: true, Success: true},
		{Name: models.StatusCancelled, Terminal: true},
		{Name: models.StatusArchived, Terminal: true},
	})
	if err != nil {
		panic(err)
	}
	return c
}

// NewStatusCatalog validates defs. Without an explicit initial status the
// first non-terminal, non-active status is used.
func NewStatusCatalog(defs []StatusDef) (*StatusCatalog, error) {
	if len(defs) == 0 {
		return nil, fmt.Errorf("status catalog is empty")
	}
	c := &StatusCatalog{byName: make(map[models.Status]StatusDef, len(defs))}
	for _, d := range defs {
		if d.Name == "" {
			return nil, fmt.Errorf("status without name")
		}
		if _, dup := c.byName[d.Name]; dup {
			return nil, fmt.Errorf("status %q declared twice", d.Name)
		}
		if d.Success {
			if c.success != "" {
				return nil, fmt.Errorf("statuses %q and %q are both marked success", c.success, d.Name)
			}
			if !d.Terminal {
				return nil, fmt.Errorf("success status %q must be terminal", d.Name)
			}
			c.success = d.Name
		}
		if d.Initial {
			if c.initial != "" {
				return nil, fmt.Errorf("statuses %q and %q are both marked initial", c.initial, d.Name)
			}
			c.initial = d.Name
		}
		c.byName[d.Name] = d
		c.defs = append(c.defs, d)
	}
	if c.success == "" {
		return nil, fmt.Errorf("status catalog needs exactly one success status")
	}
	if c.initial == "" {
		for _, d := range c.defs {
			if !d.Active && !d.Terminal {
				c.initial = d.Name
				break
			}
		}
	}
	if c.initial == "" {
		return nil, fmt.Errorf("status catalog has no status a new task can start in")
	}
	return c, nil
}

type statusFile struct {
	Statuses []StatusDef `yaml:"statuses"`
}

// ParseStatusCatalog reads the statuses section of a catalog file.
// A file without one yields the default statuses.
func ParseStatusCatalog(data []byte) (*StatusCatalog, error) {
	var file statusFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse status catalog: %w", err)
	}
	if len(file.Statuses) == 0 {
		return DefaultStatuses(), nil
	}
	return NewStatusCatalog(file.Statuses)
}

// LoadStatusCatalog reads path. An empty path yields the default statuses.
func LoadStatusCatalog(path string) (*StatusCatalog, error) {
	if path == "" {
		return DefaultStatuses(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read status catalog: %w", err)
	}
	return ParseStatusCatalog(data)
}

// Valid reports whether s is a known status.
func (c *StatusCatalog) Valid(s models.Status) bool {
	_, ok := c.byName[s]
	return ok
}

// IsActive reports whether entering s requires finished blockers.
func (c *StatusCatalog) IsActive(s models.Status) bool {
	return c.byName[s].Active
}

// IsTerminal reports whether s ends the task's life.
func (c *StatusCatalog) IsTerminal(s models.Status) bool {
	return c.byName[s].Terminal
}

// Success is the status that marks a task finished.
func (c *StatusCatalog) Success() models.Status {
	return c.success
}

// Initial is the status new tasks start in.
func (c *StatusCatalog) Initial() models.Status {
	return c.initial
}

// Statuses lists the statuses in board order.
func (c *StatusCatalog) Statuses() []StatusDef {
	return append([]StatusDef(nil), c.defs...)
}
