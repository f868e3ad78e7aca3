// Package pipecontrol owns the control sub-protocol carried on every pipe.
//
// Ownership boundary:
// - reserved interface id classification
// - RunOrClosePipeMessageParams layout and codec
// - inbound validation and delegate dispatch (Receiver)
// - outbound construction (Sender)
//
// Control messages travel on the same ordered pipe as application messages,
// tagged with InvalidInterfaceID. They are fire-and-forget: nothing here
// acknowledges, buffers or retries.
package pipecontrol
