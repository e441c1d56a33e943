//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package errs holds the error kinds shared by the Rapi libraries. Errors
// returned by the libraries wrap one of these and can be tested with errors.Is.
package errs

import "errors"

var (
	// ErrInvalidCigarFormat reports malformed CIGAR text or an operation length <= 0.
	ErrInvalidCigarFormat = errors.New("invalid CIGAR format")
	// ErrIndexOutOfBounds reports a fragment, read, alignment or contig index outside its range.
	ErrIndexOutOfBounds = errors.New("index out of bounds")
	// ErrOutOfMemory reports a capacity request that cannot be satisfied.
	ErrOutOfMemory = errors.New("out of memory")
	// ErrNullReadAssignment reports storing a nil Read into a Fragment slot.
	ErrNullReadAssignment = errors.New("read cannot be nil")
	// ErrNoSuchElement reports an iterator advanced past its end.
	ErrNoSuchElement = errors.New("no such element")
	// ErrInvalidParam reports an argument outside its domain.
	ErrInvalidParam = errors.New("invalid parameter")
	// ErrTagType reports a typed tag getter used on a value of another type.
	ErrTagType = errors.New("tag type mismatch")
)
