// Package raster holds the pixel-level helpers shared by the calibration engine.
//
// Rendered layouts arrive as image.Image values. Everything downstream reasons
// about "ink": a pixel whose luminance falls below a fixed threshold. The
// InkMask type is the binarized view every segmenter reads from, so ink is
// decided in exactly one place.
//
// # Coordinate System
//
// All coordinates are 0-based with the origin at the top-left corner of the
// mask, regardless of the source image's Bounds().Min. X increases rightward
// and Y increases downward.
//
// # Audit Images
//
// AuditStore writes each calibration iteration's render to disk, annotated
// with the measured reference columns. Writes are best-effort: callers log a
// failure and carry on.
//
// # Thread Safety
//
// ImageCache is safe for concurrent use. InkMask is immutable after
// construction and may be shared between goroutines.
package raster
