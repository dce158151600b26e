// Package calibrate runs the closed render/measure/adjust loop for stacked
// equation steps.
//
// A Loop calibrates one (equation, operation, equation) step. Each iteration
// generates layout markup from the current spacing state, renders it,
// measures the misalignment and, unless the loop has finished, nudges the
// spacing state against the measured error. The loop ends in one of three
// states:
//
//   - CONVERGED: the score dropped below the threshold.
//   - STUCK: the last scores stopped moving for two consecutive full windows.
//   - EXHAUSTED: the iteration budget ran out.
//
// Every outcome is flagged for visual confirmation. Pixel measurement is a
// heuristic, so even a converged layout should be looked at.
//
// A Batch turns step-sequence inputs into steps, runs a Loop per step and
// writes one result record per problem. Steps of one problem share a
// renderer session and run in order; separate problems may run on separate
// sessions concurrently.
package calibrate
