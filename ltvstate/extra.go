// Copyright 2015 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package ltvstate

// Forkable, ExtraKey and ForkableExtra let unrelated packages attach
// per-process side-channel state to a Process without Process itself
// knowing about them, and have that state propagate correctly across
// fork: forking a Process forks every registered extra along with it.
type Forkable interface {
	Fork(pid int) Forkable
}

// ExtraKey is an opaque, comparable token identifying one kind of extra
// state. Each distinct *struct value is a distinct key even if two keys
// share the same Name, so packages can't accidentally collide.
type ExtraKey *struct {
	private struct{}
	Name    string
}

func NewExtraKey(name string) ExtraKey {
	return ExtraKey(&struct {
		private struct{}
		Name    string
	}{Name: name})
}

type ForkableExtra map[ExtraKey]Forkable

func (f ForkableExtra) Fork(pid int) Forkable {
	f2 := make(ForkableExtra, len(f))
	for k, v := range f {
		f2[k] = v.Fork(pid)
	}
	return f2
}
