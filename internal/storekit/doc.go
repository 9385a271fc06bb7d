// Package storekit holds reusable pieces for writing stores: an
// embeddable Base that keeps the session and context a store was built
// with, and an Emitter for change notifications.
package storekit
