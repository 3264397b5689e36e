// Package redis persists program accounts in Redis hashes. Write transactions
// WATCH every key they read and commit through MULTI/EXEC, retrying when a
// concurrent writer touched one of those keys.
package redis
