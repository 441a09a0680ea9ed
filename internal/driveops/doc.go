// Package driveops adapts the Graph transport to the remote service
// contract. It is the single owner of the "stored token → authenticated
// Graph client → connected drive" glue logic.
//
// SessionProvider builds Sessions for the connection state machine. A
// Session loads the stored token, resolves the signed-in account and its
// default drive, and then probes the drive periodically, turning probe
// failures into suspension callbacks and recoveries into fresh connected
// callbacks.
//
// Service implements remote.Service over the clients of the provider's
// active session. Content handles are spooled through temporary files so
// uploads can be chunked from an io.ReaderAt and downloads can be read
// after the transfer completes.
package driveops
