package panel

import (
	"time"

	"github.com/KevinKickass/OpenSPIMCore/internal/acquisition"
)

// editList runs fn against the list unless a run holds it.
func (p *Panel) editList(fn func(l *acquisition.List) error) error {
	var err error
	if derr := p.do(func() {
		if p.locked {
			err = acquisition.ErrListLocked
			return
		}
		err = fn(p.list)
	}); derr != nil {
		return derr
	}
	return err
}

// List returns a copy of the entries and whether a run holds the list.
func (p *Panel) List() ([]acquisition.Entry, bool, error) {
	var (
		entries []acquisition.Entry
		locked  bool
	)
	err := p.do(func() {
		entries = p.list.Entries()
		locked = p.locked
	})
	return entries, locked, err
}

func (p *Panel) AddEntry(e acquisition.Entry) error {
	return p.editList(func(l *acquisition.List) error { return l.Append(e) })
}

func (p *Panel) InsertEntry(i int, e acquisition.Entry) error {
	return p.editList(func(l *acquisition.List) error { return l.Insert(i, e) })
}

func (p *Panel) UpdateEntry(i int, fields map[string]any) error {
	return p.editList(func(l *acquisition.List) error { return l.Update(i, fields) })
}

func (p *Panel) RemoveEntry(i int) error {
	return p.editList(func(l *acquisition.List) error { return l.Remove(i) })
}

func (p *Panel) MoveEntry(from, to int) error {
	return p.editList(func(l *acquisition.List) error { return l.Move(from, to) })
}

func (p *Panel) ReplaceList(entries []acquisition.Entry) error {
	next, err := acquisition.FromEntries(entries)
	if err != nil {
		return err
	}
	return p.editList(func(*acquisition.List) error {
		p.list = next
		return nil
	})
}

// LoadList replaces the list with the one stored at path.
func (p *Panel) LoadList(path string) error {
	next, err := acquisition.Load(path)
	if err != nil {
		return err
	}
	return p.editList(func(*acquisition.List) error {
		p.list = next
		return nil
	})
}

// SaveList writes the current list; allowed during a run.
func (p *Panel) SaveList(path string) error {
	var snapshot *acquisition.List
	if err := p.do(func() { snapshot = p.list.Clone() }); err != nil {
		return err
	}
	return acquisition.Save(snapshot, path)
}

// Summary computes the list aggregates with the current sweep time.
func (p *Panel) Summary() (Summary, error) {
	var s Summary
	err := p.do(func() {
		sweep := time.Duration(p.mirror.Float("sweeptime") * float64(time.Second))
		total := p.list.TotalTime(sweep)
		s = Summary{
			Entries:         p.list.Len(),
			TotalImageCount: p.list.TotalImageCount(),
			TotalTime:       total,
			TotalSeconds:    total.Seconds(),
		}
	})
	return s, err
}
