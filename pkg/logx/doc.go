// Package logx configures checkinbot's structured logging.
//
// Logger is a small value type over zerolog. Components hold a Logger tagged
// with comp=<name> and derive request or job scoped loggers with With.
// Service owns the sinks (console, JSON file, Telegram log chat) and can be
// reconfigured at runtime without invalidating loggers handed out earlier.
package logx
