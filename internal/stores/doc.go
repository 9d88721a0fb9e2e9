// Package stores provides Redis-backed records for short-lived login
// artifacts.
//
// Each record is a versioned binary blob stored with a TTL that matches its
// logical expiry. Mutations use WATCH/MULTI optimistic transactions with a
// bounded retry on contention, so a one-time record can be claimed by at most
// one caller.
//
// This package must not import the root package or log challenge material.
package stores
