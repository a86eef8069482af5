// Package logx is a thin zerolog wrapper with hot-swappable sinks.
//
// Components hold a Logger value; the Service re-applies level and sink
// configuration at runtime without invalidating existing Logger handles.
package logx
