// Package geo implements the Web Mercator projection used by the
// interpolation and clustering engines.
//
// Conventions:
//   - World coordinates: projected position at zoom 0, both axes in
//     [0, 256). All animation math runs in this space so it is
//     zoom-independent.
//   - Pixel coordinates: world coordinates scaled by 2^zoom.
package geo
