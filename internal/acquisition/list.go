package acquisition

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrListLocked = errors.New("acquisition list is locked by a running acquisition")
	ErrIndexRange = errors.New("entry index out of range")
	ErrLastEntry  = errors.New("cannot remove the last entry")
	ErrEmptyList  = errors.New("acquisition list must not be empty")
)

// List is an ordered, non-empty sequence of entries. Order is execution
// order. A List is not safe for concurrent use; its owner serializes access.
type List struct {
	entries []Entry
}

// NewList returns a list holding one default entry.
func NewList() *List {
	return &List{entries: []Entry{NewEntry()}}
}

// FromEntries copies entries into a new list.
func FromEntries(entries []Entry) (*List, error) {
	if len(entries) == 0 {
		return nil, ErrEmptyList
	}
	for i, e := range entries {
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("entry %d: %w", i, err)
		}
	}
	return &List{entries: append([]Entry(nil), entries...)}, nil
}

func (l *List) Len() int { return len(l.entries) }

func (l *List) At(i int) (Entry, error) {
	if i < 0 || i >= len(l.entries) {
		return Entry{}, fmt.Errorf("%w: %d", ErrIndexRange, i)
	}
	return l.entries[i], nil
}

// Entries returns a copy of the entries.
func (l *List) Entries() []Entry {
	return append([]Entry(nil), l.entries...)
}

func (l *List) Clone() *List {
	return &List{entries: l.Entries()}
}

func (l *List) Append(e Entry) error {
	if err := e.Validate(); err != nil {
		return err
	}
	l.entries = append(l.entries, e)
	return nil
}

// Insert places e before index i; i == Len appends.
func (l *List) Insert(i int, e Entry) error {
	if i < 0 || i > len(l.entries) {
		return fmt.Errorf("%w: %d", ErrIndexRange, i)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	l.entries = append(l.entries, Entry{})
	copy(l.entries[i+1:], l.entries[i:])
	l.entries[i] = e
	return nil
}

func (l *List) Replace(i int, e Entry) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("%w: %d", ErrIndexRange, i)
	}
	if err := e.Validate(); err != nil {
		return err
	}
	l.entries[i] = e
	return nil
}

// Update applies field edits to entry i. Nothing is changed if any field
// fails.
func (l *List) Update(i int, fields map[string]any) error {
	e, err := l.At(i)
	if err != nil {
		return err
	}
	for name, v := range fields {
		if err := e.Set(name, v); err != nil {
			return err
		}
	}
	l.entries[i] = e
	return nil
}

func (l *List) Remove(i int) error {
	if i < 0 || i >= len(l.entries) {
		return fmt.Errorf("%w: %d", ErrIndexRange, i)
	}
	if len(l.entries) == 1 {
		return ErrLastEntry
	}
	l.entries = append(l.entries[:i], l.entries[i+1:]...)
	return nil
}

// Move relocates entry from to index to, shifting the entries in between.
func (l *List) Move(from, to int) error {
	n := len(l.entries)
	if from < 0 || from >= n || to < 0 || to >= n {
		return fmt.Errorf("%w: %d -> %d", ErrIndexRange, from, to)
	}
	e := l.entries[from]
	l.entries = append(l.entries[:from], l.entries[from+1:]...)
	l.entries = append(l.entries[:to], append([]Entry{e}, l.entries[to:]...)...)
	return nil
}

func (l *List) TotalImageCount() int {
	total := 0
	for _, e := range l.entries {
		total += e.ImageCount()
	}
	return total
}

func (l *List) TotalTime(sweep time.Duration) time.Duration {
	var total time.Duration
	for _, e := range l.entries {
		total += e.Duration(sweep)
	}
	return total
}

func (l *List) StartPoint() Point {
	return l.entries[0].StartPoint()
}
