/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

// Stream is one incoming panel or technician feed known to the stream tracker.
type Stream struct {
	Key  string `json:"key"`
	Live bool   `json:"live"`
	// Prerec is a local file path played instead of the live ingest when set.
	Prerec string `json:"prerec,omitempty"`
}

// Output is a room entry as published by the stream tracker's roster endpoint.
type Output struct {
	Name       string `json:"name"`
	Endpoint   string `json:"endpoint"`
	Key        string `json:"key"`
	TechStream string `json:"techStream"`
}
