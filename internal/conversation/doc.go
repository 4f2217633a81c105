// ABOUTME: Package documentation for the conversation service layer
// ABOUTME: Describes authorization rules and the delivery-state machine

// Package conversation implements the business rules that sit between the
// transport layer and the message store.
//
// # Responsibilities
//
// The service owns every decision about who may do what to a conversation:
// participant checks, block and archive handling, the text-only 15 minute
// edit window, sender-only deletion, and reply-target validation. Transports
// (the websocket session manager, and any future HTTP surface) call into
// this package and never touch the store directly for message operations.
//
// # Delivery states
//
// Messages move forward through sent, delivered and read. Transitions are
// driven by two operations:
//
//   - MarkAllDelivered: invoked when a recipient's first connection comes
//     up, promoting every pending message addressed to them across all of
//     their conversations.
//   - MarkRead: invoked when a participant opens a conversation, promoting
//     the other party's messages to read (implying delivered if the
//     delivered step was never observed).
//
// Both are idempotent and neither ever moves a status backward, so the
// final state of any message is the maximum state any recipient action
// reached.
//
// # Errors
//
// Rule violations are reported as apperr values (CodeAccessDenied,
// CodeBlocked, CodeInvalidOperation, ...) so transports can translate them
// uniformly. Store-level failures other than a missing row surface as
// CodeTransientStore, signalling that a retry may succeed.
package conversation
