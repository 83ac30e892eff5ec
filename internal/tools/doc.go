// Package tools runs host commands the daemon depends on, such as loading the
// msr kernel module when its device nodes are missing.
package tools
