/*
Package worker contains the background tasks that keep the catalogue fresh.

Three tasks run on independent intervals, each driven by a Runner that
skips ticks while the previous iteration is still in flight:

	pin_sync      mirrors the node's recursive pin set into the catalogue;
	              vanished pins are logically removed, never deleted

	type_crawler  detects and analyzes present rows whose verdict is
	              missing, stale (detector version changed) or errored,
	              with a bounded worker pool per batch

	dir_expander  lists likely directories, records children and edges,
	              prunes edges to vanished children (demoting children
	              left without a parent, pin roots excepted), and builds
	              the path index and site entrypoint under pin roots

Per-item failures are recorded on the row and counted; a batch never stops
because one CID misbehaved.
*/
package worker
