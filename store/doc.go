// Package store defines the persistence model for accounts, refresh tokens
// and authoritative revocation state, plus the capability interfaces every
// backend implements.
//
// Two backends ship with the module: store/memory for a single process and
// store/postgres for durable shared state. Both pass the store/storetest
// contract suite and are interchangeable from the caller's side.
//
// # Error contract
//
// Backends return ErrNotFound for missing rows, ErrConflict for uniqueness
// violations and lost conditional updates, and ErrUnavailable (wrapped) for
// anything the caller should retry later.
package store
