package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrNoVessels is returned when the vessel list document names no MMSI.
var ErrNoVessels = errors.New("vessel list is empty")

// Point is a [latitude, longitude] pair.
type Point [2]float64

// BoundingBox is two opposite corners of a rectangle.
type BoundingBox [2]Point

// DefaultBoundingBoxes covers the west coast of Canada.
var DefaultBoundingBoxes = []BoundingBox{
	{{54.031167, -133.890421}, {48.016568, -122.457169}},
}

// VesselList is the tracked-vessel document. JSON documents parse as YAML,
// so an existing config.json works unchanged.
type VesselList struct {
	MMSI          []string      `yaml:"MMSI"`
	BoundingBoxes []BoundingBox `yaml:"-"`
}

type vesselListYAML struct {
	MMSI          []string      `yaml:"MMSI"`
	BoundingBoxes [][][]float64 `yaml:"BoundingBoxes"`
}

// LoadVessels reads and validates the vessel list at path.
func LoadVessels(path string) (*VesselList, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read vessel list: %w", err)
	}
	return ParseVessels(raw)
}

// ParseVessels decodes a vessel list document.
func ParseVessels(raw []byte) (*VesselList, error) {
	var doc vesselListYAML
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode vessel list: %w", err)
	}

	list := &VesselList{MMSI: make([]string, 0, len(doc.MMSI))}
	for i, id := range doc.MMSI {
		id = strings.TrimSpace(id)
		if _, err := strconv.ParseUint(id, 10, 64); err != nil {
			return nil, fmt.Errorf("MMSI[%d] %q is not a numeric identifier", i, id)
		}
		list.MMSI = append(list.MMSI, id)
	}
	if len(list.MMSI) == 0 {
		return nil, ErrNoVessels
	}

	for i, box := range doc.BoundingBoxes {
		if len(box) != 2 || len(box[0]) != 2 || len(box[1]) != 2 {
			return nil, fmt.Errorf("BoundingBoxes[%d] must be [[lat,lon],[lat,lon]]", i)
		}
		list.BoundingBoxes = append(list.BoundingBoxes, BoundingBox{
			{box[0][0], box[0][1]},
			{box[1][0], box[1][1]},
		})
	}
	if len(list.BoundingBoxes) == 0 {
		list.BoundingBoxes = DefaultBoundingBoxes
	}

	return list, nil
}
