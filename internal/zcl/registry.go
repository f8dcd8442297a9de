package zcl

import (
	"fmt"
	"log/slog"
	"sync"
)

// Registry holds all known ZCL cluster definitions.
type Registry struct {
	mu       sync.RWMutex
	clusters map[uint16]*ClusterDef
	logger   *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		clusters: make(map[uint16]*ClusterDef),
		logger:   logger,
	}
}

// Register adds a cluster definition to the registry. Registering an ID twice
// merges the definitions.
func (r *Registry) Register(c ClusterDef) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.clusters[c.ID]; ok {
		existing.Merge(&c)
		r.logger.Debug("cluster merged", "id", fmt.Sprintf("0x%04X", c.ID), "name", existing.Name)
		return
	}
	r.clusters[c.ID] = c.DeepCopy()
	r.logger.Debug("cluster registered", "id", fmt.Sprintf("0x%04X", c.ID), "name", c.Name)
}

// Get returns a deep copy of a cluster definition, or nil if not found.
func (r *Registry) Get(id uint16) *ClusterDef {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[id]
	if c == nil {
		return nil
	}
	return c.DeepCopy()
}

// Len returns the number of registered clusters.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.clusters)
}

// CommandName resolves a received command to its registered name.
// Returns "" when the cluster or command is unknown.
func (r *Registry) CommandName(clusterID uint16, cmdID uint8, dir CommandDirection) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c := r.clusters[clusterID]
	if c == nil {
		return ""
	}
	if cmd := c.FindCommand(cmdID, dir); cmd != nil {
		return cmd.Name
	}
	return ""
}

// Command resolves a command name to its cluster and command definition.
func (r *Registry) Command(name string) (*ClusterDef, *CommandDef, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, c := range r.clusters {
		if cmd := c.FindCommandByName(name); cmd != nil {
			cp := *cmd
			return c.DeepCopy(), &cp, true
		}
	}
	return nil, nil, false
}
