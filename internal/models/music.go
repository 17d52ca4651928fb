/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package models

import (
	"sort"
	"strings"
)

// Track is an entry in the music pool.
type Track struct {
	TrackID  string `json:"trackId"`
	TrackURL string `json:"trackUrl"`
	Title    string `json:"title"`
	Artist   string `json:"artist"`
}

// TrackMap indexes tracks by id.
type TrackMap map[string]Track

// StreamState is the normalized playback state of one music stream.
type StreamState struct {
	Playing      bool   `json:"playing"`
	Autoplay     bool   `json:"autoplay"`
	CurrentTrack *Track `json:"currentTrack,omitempty"`
}

// RawStreamState is the wire form where booleans travel as strings.
type RawStreamState struct {
	Playing      string `json:"playing"`
	Autoplay     string `json:"autoplay"`
	CurrentTrack *Track `json:"currentTrack,omitempty"`
}

// Normalize converts wire strings to booleans. Autoplay defaults on: anything
// other than the literal "false" enables it. Playing requires the literal "true".
func (r RawStreamState) Normalize() StreamState {
	s := StreamState{
		Autoplay: r.Autoplay != "false",
		Playing:  r.Playing == "true",
	}
	if r.CurrentTrack != nil {
		t := *r.CurrentTrack
		s.CurrentTrack = &t
	}
	return s
}

// UpNextEntry is a displayable queue slot. Index is the slot's position in the
// raw queue, which is what removal requests address.
type UpNextEntry struct {
	Index   int    `json:"index"`
	TrackID string `json:"trackId"`
}

// UpNextEntries drops empty placeholders while keeping original positions.
func UpNextEntries(queue []string) []UpNextEntry {
	entries := make([]UpNextEntry, 0, len(queue))
	for i, id := range queue {
		if id == "" {
			continue
		}
		entries = append(entries, UpNextEntry{Index: i, TrackID: id})
	}
	return entries
}

// SelectTracks returns tracks whose title or artist contains filter
// (case-insensitive), ordered by artist then title.
func SelectTracks(tracks TrackMap, filter string) []Track {
	filter = strings.ToLower(filter)
	out := make([]Track, 0, len(tracks))
	for _, t := range tracks {
		if filter != "" &&
			!strings.Contains(strings.ToLower(t.Title), filter) &&
			!strings.Contains(strings.ToLower(t.Artist), filter) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Artist != out[j].Artist {
			return out[i].Artist < out[j].Artist
		}
		return out[i].Title < out[j].Title
	})
	return out
}
