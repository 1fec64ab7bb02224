// Package model defines shared data types used across the livemap core.
//
// Conventions:
//   - Positions: WGS84 lat/lon on ingest, projected world coordinates
//     (see internal/geo) everywhere downstream.
//   - Timestamps: time.Time, feed-supplied measurement time.
//   - Speeds: meters per second; headings: degrees clockwise from north.
package model
