// Package errors defines error types for the agent monitor session layer.
//
// This package provides structured error types that wrap the failure
// scenarios of brokering external agent CLIs. All error types support
// error unwrapping and can be checked using errors.Is and errors.As.
package errors
