// Package fgb reads and writes FlatGeobuf files as orb GeoJSON features.
package fgb

import "errors"

var (
	ErrNoFeatures = errors.New("fgb: no features to write")
	ErrNoIndex    = errors.New("fgb: file has no spatial index")
	ErrClosed     = errors.New("fgb: file is closed")
)

// Options configure a written file.
type Options struct {
	Name string
	// EPSG is stored in the header CRS; 0 leaves the CRS unset.
	EPSG int
	// NoIndex skips the packed R-tree. Files without an index can only be
	// read back through their header.
	NoIndex bool
}

// Column describes one property column.
type Column struct {
	Name string
	Type string
}

// Header summarizes a file.
type Header struct {
	Name          string
	GeometryType  string
	FeaturesCount uint64
	Envelope      [4]float64
	EPSG          int
	HasIndex      bool
	Columns       []Column
}
