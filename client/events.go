package main

import "sync"

// Note is the latest thing the user should be told. When the note was
// raised by a duplicate-chat rejection, Chat carries the id of the
// already existing chat so the caller can navigate to it.
type Note struct {
	Text string
	Chat string
}

// noteSlot is a single-value overwrite-on-set notification surface.
// Each new note replaces the previous one; a note is consumed at most
// once.
type noteSlot struct {
	mu   sync.Mutex
	note Note
	set  bool
}

func (ns *noteSlot) put(note Note) {
	ns.mu.Lock()
	ns.note = note
	ns.set = true
	ns.mu.Unlock()
}

// pop returns the pending note and clears the slot. Subsequent calls
// observe nothing until a new note is put.
func (ns *noteSlot) pop() (Note, bool) {
	ns.mu.Lock()
	defer ns.mu.Unlock()
	if !ns.set {
		return Note{}, false
	}
	ns.set = false
	return ns.note, true
}
