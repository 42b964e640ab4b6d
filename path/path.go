// Copyright 2026 The Portalfs Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package path provides tools for parsing and printing path names.
// Path names are rooted at the filesystem root and always begin with a
// slash: "/documents/notes.txt". Parse also accepts the empty string as
// a name for the root directory.
package path // import "portalfs.io/path"

import (
	gopath "path"
	"strings"

	"portalfs.io/portalfs"
)

// Parsed represents a successfully parsed path name.
type Parsed struct {
	// The parsed path is just a clean string. We compute what we need
	// in the methods.
	path portalfs.PathName // Always in canonical form.
}

func (p Parsed) String() string {
	return string(p.path)
}

// Path returns the string representation with type portalfs.PathName.
func (p Parsed) Path() portalfs.PathName {
	return p.path
}

// Parse parses a full path name, validates it, and returns its parsed
// form. A single trailing slash is dropped; Parse does not apply Clean.
// Names containing empty, "." or ".." elements are rejected rather
// than reinterpreted: a client asking for a relative traversal is
// confused, and the registry has no notion of one.
func Parse(pathName portalfs.PathName) (Parsed, error) {
	name := string(pathName)
	if name == "" || name == "/" {
		return Parsed{path: "/"}, nil
	}
	if !strings.HasPrefix(name, "/") {
		return Parsed{}, &Error{pathName, "no leading slash"}
	}
	if strings.HasSuffix(name, "/") {
		name = name[:len(name)-1]
	}
	for _, elem := range strings.Split(name[1:], "/") {
		switch elem {
		case "":
			return Parsed{}, &Error{pathName, "empty path element"}
		case ".", "..":
			return Parsed{}, &Error{pathName, "illegal path element"}
		}
		if strings.ContainsRune(elem, '\x00') {
			return Parsed{}, &Error{pathName, "NUL in path element"}
		}
	}
	return Parsed{path: portalfs.PathName(name)}, nil
}

// Error describes an invalid path name.
type Error struct {
	Name   portalfs.PathName
	Reason string
}

func (e *Error) Error() string {
	return string(e.Name) + ": " + e.Reason
}

// Clean returns the shortest path name equivalent to path by purely
// lexical processing, as in the standard path package, rooted with a
// leading slash.
func Clean(pathName portalfs.PathName) portalfs.PathName {
	name := string(pathName)
	if !strings.HasPrefix(name, "/") {
		name = "/" + name
	}
	return portalfs.PathName(gopath.Clean(name))
}

// IsRoot reports whether a parsed name refers to the filesystem root.
func (p Parsed) IsRoot() bool {
	return p.path == "/"
}

// NElem returns the number of elements in the path.
// The root has zero elements.
func (p Parsed) NElem() int {
	if p.IsRoot() {
		return 0
	}
	return strings.Count(string(p.path), "/")
}

// Elem returns the nth element of the path.
// It panics if n is out of range.
func (p Parsed) Elem(n int) string {
	elems := p.Elems()
	if n < 0 || n >= len(elems) {
		panic("Elem out of range")
	}
	return elems[n]
}

// Elems returns all elements of the path. The root has none.
func (p Parsed) Elems() []string {
	if p.IsRoot() {
		return nil
	}
	return strings.Split(string(p.path)[1:], "/")
}

// Base returns the final element of the path, or "" for the root.
func (p Parsed) Base() string {
	if p.IsRoot() {
		return ""
	}
	str := string(p.path)
	return str[strings.LastIndexByte(str, '/')+1:]
}

// Drop returns a parsed name with the last n elements dropped.
// Dropping all elements, or more, yields the root.
func (p Parsed) Drop(n int) Parsed {
	str := string(p.path)
	for ; n > 0 && str != "/"; n-- {
		slash := strings.LastIndexByte(str, '/')
		if slash == 0 {
			str = "/"
			break
		}
		str = str[:slash]
	}
	return Parsed{path: portalfs.PathName(str)}
}

// Parent returns the parsed name of the directory containing this name.
// The root is its own parent.
func (p Parsed) Parent() Parsed {
	return p.Drop(1)
}

// First returns a parsed name holding only the first n elements.
func (p Parsed) First(n int) Parsed {
	return p.Drop(p.NElem() - n)
}

// Join appends an element to the path.
func (p Parsed) Join(elem string) Parsed {
	if p.IsRoot() {
		return Parsed{path: portalfs.PathName("/" + elem)}
	}
	return Parsed{path: p.path + portalfs.PathName("/"+elem)}
}

// Equal reports whether the two parsed path names are equal.
func (p Parsed) Equal(q Parsed) bool {
	return p.path == q.path
}

// HasPrefix reports whether the path is equal to prefix or lies in the
// subtree below it.
func (p Parsed) HasPrefix(prefix Parsed) bool {
	if prefix.IsRoot() {
		return true
	}
	if p.path == prefix.path {
		return true
	}
	return strings.HasPrefix(string(p.path), string(prefix.path)+"/")
}

// Compare returns -1, 0, or 1 according to whether p is less than,
// equal to, or greater than q in byte order.
func (p Parsed) Compare(q Parsed) int {
	return strings.Compare(string(p.path), string(q.path))
}
