// Package engine provides step engine implementations.
//
// The factory creates engines based on provider configuration.
// Currently supports:
//   - simulated: walks the steps of a definition plan, waiting each step's
//     delay and echoing the inputs back with the step outputs merged in
package engine
