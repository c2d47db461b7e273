/*
Package daemon serves process-execution requests over a Unix domain socket. Every accepted connection is a session
that runs one in-process application and streams its stdin (client->server), stdout and stderr (server->client)
over the same connection, using the envelopes from package envelope.

Applications are scoped to the connection: if the connection dies for any reason, the application's streams fail and
its result is discarded.

A session proceeds as follows:

 1. The server sends "l" as soon as the connection is accepted. The client must wait for it before sending.
 2. The client sends the request preamble: argv, cwd and env, in that order.
 3. The server resolves the base name of argv[0] in its registry. An unknown name is reported on stderr with exit
    code 127.
 4. While the application runs, the client sends "stdin" chunks and the server sends "stdout" and "stderr" chunks.
    Stdin chunks are only read when the application wants more input. The client ends stdin with "e".
 5. When the application returns, the server sends the exit code and "e", then closes the connection.

A malformed request is a protocol error: the server closes the connection without sending an exit code. Clients
should treat a connection that closes before the exit code as failed.

The same sessions can optionally be served over WebSocket (see Server.Handler), which carries the identical byte
stream in binary messages.
*/
package daemon
