// Package app runs the proxy as a process: it restores the token
// snapshot, serves HTTP until cancelled and shuts everything down in
// reverse order, writing the snapshot one last time.
package app
