/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Room describes one OBS instance the console steers.
type Room struct {
	Name     string `yaml:"name" json:"name"`
	Endpoint string `yaml:"endpoint" json:"endpoint"`
	// StreamKey is the room's outgoing stream key (output preview).
	StreamKey string `yaml:"key" json:"key"`
	// TechStream is the technician stream key shown on the tech scene.
	TechStream string `yaml:"techStream" json:"techStream"`
	// SecondaryEndpoint is the Zoom relay OBS used for Zoom-sourced panels.
	SecondaryEndpoint string `yaml:"secondaryEndpoint,omitempty" json:"secondaryEndpoint,omitempty"`
}

type roomsFile struct {
	Rooms []Room `yaml:"rooms"`
}

// LoadRooms reads a YAML room roster.
func LoadRooms(path string) ([]Room, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rooms file: %w", err)
	}

	var f roomsFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse rooms file: %w", err)
	}

	seen := make(map[string]bool, len(f.Rooms))
	for i, r := range f.Rooms {
		if r.Name == "" {
			return nil, fmt.Errorf("room %d: name is required", i)
		}
		if r.Endpoint == "" {
			return nil, fmt.Errorf("room %q: endpoint is required", r.Name)
		}
		if seen[r.Name] {
			return nil, fmt.Errorf("room %q declared twice", r.Name)
		}
		seen[r.Name] = true
	}
	return f.Rooms, nil
}
