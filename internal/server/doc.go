// Package server implements the HTTP surface of the student-tracker
// backend and the process lifecycle around it. The same router serves a
// long-running standalone process and per-invocation serverless handlers;
// Lifecycle decides which parts (listener, push channel, cron job) exist.
package server
