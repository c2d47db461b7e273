/*
Package client runs programs on a daiyousei daemon.

A Client dials one connection per process, either to the daemon's Unix socket or to its WebSocket gateway, and
streams the process's stdin, stdout and stderr over it. The exit code arrives last; Process.Wait blocks until it
does. A connection that ends before the exit code is reported as ErrIncompleteResponse.
*/
package client
