// Package logx provides the structured logger used across crosspost.
//
// It wraps zerolog behind a small Logger type so call sites stay stable
// while sinks and levels can be swapped at runtime via Service.Apply().
package logx
