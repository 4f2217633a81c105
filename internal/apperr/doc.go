// Package apperr defines the error taxonomy shared across the gateway.
// Every failure a client can observe carries exactly one Code; CodeOf
// classifies arbitrary errors, treating anything unrecognized as a
// transient store failure.
package apperr
