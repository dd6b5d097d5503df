// Package export converts stored request records to CSV and JSON for
// offline analysis and compliance review.
//
// Exporters operate on slices returned by the storage layer; callers
// paginate storage queries and stream pages through an exporter when the
// result set is large.
package export
