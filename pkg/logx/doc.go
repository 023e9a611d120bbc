// Package logx wraps zerolog behind a small structured-logging API.
//
// Components receive a logx.Logger in their constructors; the logging
// Service owns sinks (console, file) and can re-apply configuration at
// runtime without invalidating loggers already handed out.
//
// A throttle sink caps the rate of warn/error lines so that error storms
// (e.g. a failing delivery backend) do not flood the sinks.
package logx
