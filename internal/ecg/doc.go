// Package ecg holds the error taxonomy shared by the ECG analysis packages.
//
// The pipeline is split into one package per stage. Data flows strictly
// conditioning -> rpeak -> medianbeat -> fiducial -> measure, with rhythm
// consuming the outputs of rpeak and measure:
//
//	leads        lead identifiers, device frames, sample buffers
//	conditioning sanitising, band-pass and notch filtering
//	rpeak        Pan-Tompkins R-peak detection, RR intervals, HR smoothing
//	medianbeat   per-lead median beat templates and TP baseline
//	fiducial     P/QRS/T onset, offset and peak points on a template
//	measure      intervals, QTc, ST deviation, frontal-plane axes
//	rhythm       ordered rule table over RR, HR and QRS width
//	pipeline     Analyze for one window, Session for a live stream
//	report       the saved JSON artifact, its consistency checks, plots
//
// Around the stages:
//
//	acquire      device lines or CSV files into a leads.Buffer / Window
//	synth        deterministic synthetic recordings for tests and demos
//
// Dependency rule: a stage may import earlier stages, never later ones.
// The stages perform no I/O; acquire and report do.
package ecg
