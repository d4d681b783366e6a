// Package messaging implements the per-message relay logic.
//
// The Engine moves one source delivery to the destination broker:
//
//	receive -> archive -> republish (confirmed) -> ack
//
// and requeues the delivery when the republish fails. The ReturnHandler
// archives and reports messages the destination broker bounced back because
// no queue matched their routing. Outcomes are reported to an Observer.
package messaging
