// Package domain models reconstructed daily water charts.
//
// # Chart Model
//
// A Chart belongs to one place, identified by its URN, and holds one Series
// per calendar year. Every Series is laid out on the fixed 366-slot grid of
// package calendar:
//
//	slot 0    1 January
//	slot 58   28 February
//	slot 59   29 February (a copy of slot 58 in non-leap years)
//	slot 365  31 December
//
// The values of a Series are stored as Datasets: maximal runs of consecutive
// slots that carry a valid reading. A day without a valid reading is a gap
// between two Datasets and is never interpolated.
//
// # Percentages
//
// YMax is the largest value accepted while the chart was parsed. Every Value
// carries its fraction of YMax so the chart can be drawn on a 0..1 axis. A
// chart without values has YMax 0 and all percentages are 0.
//
// # Load Requests
//
// Charts are loaded on request. A LoadRequest names a place and may force a
// reload; unforced requests for a place loaded within the recency window are
// satisfied without fetching. See [IsRecentEnough].
package domain
