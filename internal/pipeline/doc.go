// Package pipeline runs acquisition and reduction side by side.
//
// The Acquirer fills one stack of the double buffer from a frame source
// while the Reducer turns the previously completed stack into a summary
// record and hands it to a sink. The two goroutines share nothing but the
// buffer's ready flag. Run starts both and waits until the Reducer has
// drained the final stack.
package pipeline
