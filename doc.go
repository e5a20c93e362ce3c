// Package stormpot is a generic object pool: bounded-concurrency claim/
// release of pre-constructed, expensive objects, with allocation,
// re-validation, re-allocation and deallocation all running off the claim
// path in a background controller shared across pools.
//
// A Pool is built from an Allocator (how to construct/destroy the user
// object) and an Expiration (when a live object should be discarded and
// replaced). Claim hands out an object within a bounded time budget;
// Release returns it; Shutdown drains the pool in an orderly fashion.
package stormpot
