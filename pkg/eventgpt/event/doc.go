// Package event holds the data model consumed by the model core: values
// with per-element missingness, events, padded sequences, and batches.
//
// # Values
//
// A Value is a tagged variant. Missingness is a first-class value, not
// absence: every Value carries a Mask and an element counts only where its
// mask is true.
//
//	event.Category(2)                          // single categorical
//	event.Labels(5, 0, 3)                      // multi categorical, fully observed
//	event.PartialLabels(5, map[int]bool{1: true, 4: false})
//	event.Scalar(7.5)                          // regression
//	event.Vector([]float64{1, 2}, []bool{true, false})
//	event.Missing()
//
// # Splitting
//
// Split partitions an event's bundle into one Group per dependency graph
// level, filling unobserved measurements with the regular-shaped missing
// sentinel so every event has the same structure. SplitSequence does the
// same for every real event of a sequence and derives time-to-event gaps
// and functional measurements (time of day, age) from event times.
//
// # Snapshots
//
// Sequences are values. WithEvent, Compact, and Batch.Pad return new
// copies; nothing in this package mutates its input.
package event
