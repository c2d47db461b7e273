/*
Package bencode implements the restricted bencoding used on the daiyousei wire: integers, byte strings and lists.
Dictionaries are not supported.

	integer = "i" ["-"] 1*DIGIT "e"
	string  = 1*DIGIT ":" <that many bytes>
	list    = "l" *frame "e"

Decoding is incremental with a single byte of lookahead, so a peer can interleave request frames with
streamed data and the Decoder will only block for the bytes of the frame currently being decoded.
*/
package bencode
