/*
Reference implementation of kmutex from github.com/im7mortal/kmutex

SPDX-License-Identifier: Apache-2.0
*/

// Package lockbox provides a mutex keyed by string.
package lockbox

import "sync"

// Lockbox serializes callers sharing the same key while leaving other keys unblocked.
type Lockbox struct {
	c *sync.Cond
	l sync.Locker
	s map[string]struct{}
}

// New returns an empty Lockbox.
func New() *Lockbox {
	l := sync.Mutex{}

	return &Lockbox{c: sync.NewCond(&l), l: &l, s: make(map[string]struct{})}
}

func (km *Lockbox) locked(key string) (ok bool) { _, ok = km.s[key]; return }

// Unlock lockbox by unique ID.
func (km *Lockbox) Unlock(key string) {
	km.l.Lock()
	defer km.l.Unlock()
	delete(km.s, key)
	km.c.Broadcast()
}

// Lock lockbox by unique ID.
func (km *Lockbox) Lock(key string) {
	km.l.Lock()
	defer km.l.Unlock()

	for km.locked(key) {
		km.c.Wait()
	}

	km.s[key] = struct{}{}
}

// TryLock locks key when it is free and reports whether it did so.
func (km *Lockbox) TryLock(key string) bool {
	km.l.Lock()
	defer km.l.Unlock()

	if km.locked(key) {
		return false
	}

	km.s[key] = struct{}{}

	return true
}
