// Package pipeline runs the analysis stages in order over one window of
// multi-lead samples.
//
// Analyzer.Analyze is a pure function of its window and the R-peak history
// passed in. Session adds the state a live stream needs: it owns the
// history, runs cycles on a clock, and publishes each Result whole.
package pipeline
