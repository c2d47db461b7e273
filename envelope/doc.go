/*
Package envelope implements the request and response envelopes of the daiyousei protocol on top of package bencode,
and the channel adapters that expose the multiplexed stdin, stdout and stderr streams as plain io.Reader / io.Writer values.

A request is a single list:

	l 4:argv l <program> <arg>... e
	  3:cwd <dir>
	  3:env l (<key> <value>)... e
	  (5:stdin <bytes>)...
	e

The stdin chunks are not part of Request; they are pulled on demand through a StdinReader after ReadRequest returns.

A response is also a single list, but its opening "l" is sent as soon as the connection is accepted and serves as a
readiness handshake:

	l (6:stdout <bytes> | 6:stderr <bytes>)... 8:exitcode i<code>e e
*/
package envelope
