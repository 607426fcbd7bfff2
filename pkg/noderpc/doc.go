// Package noderpc is the client for the storage node's RPC API. pindex
// uses exactly two operations: listing the recursive pin set and listing
// the children of a directory CID.
package noderpc
