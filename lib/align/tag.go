//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

package align

import (
	"fmt"
	"strconv"

	"github.com/biogo/hts/sam"

	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

// TagType is the type of a tag value, named after its SAM type character.
type TagType uint8

const (
	TagNone TagType = iota
	TagChar
	TagText
	TagInt
	TagReal
)

var tagTypeChars = [...]byte{'0', 'A', 'Z', 'i', 'f'}

// SAMType returns the SAM type character of t.
func (t TagType) SAMType() byte {
	if int(t) >= len(tagTypeChars) {
		return '0'
	}
	return tagTypeChars[t]
}

// TagValue holds one of: a character, a text, an integer or a real.
type TagValue struct {
	typ TagType
	c   byte
	s   string
	i   int64
	f   float64
}

func CharValue(v byte) TagValue { return TagValue{typ: TagChar, c: v} }

func TextValue(v string) TagValue { return TagValue{typ: TagText, s: v} }

func IntValue(v int64) TagValue { return TagValue{typ: TagInt, i: v} }

func RealValue(v float64) TagValue { return TagValue{typ: TagReal, f: v} }

func (v TagValue) Type() TagType { return v.typ }

func (v TagValue) Char() (byte, error) {
	if v.typ != TagChar {
		return 0, fmt.Errorf("%c value read as char: %w", v.typ.SAMType(), errs.ErrTagType)
	}
	return v.c, nil
}

func (v TagValue) Text() (string, error) {
	if v.typ != TagText {
		return "", fmt.Errorf("%c value read as text: %w", v.typ.SAMType(), errs.ErrTagType)
	}
	return v.s, nil
}

func (v TagValue) Int() (int64, error) {
	if v.typ != TagInt {
		return 0, fmt.Errorf("%c value read as int: %w", v.typ.SAMType(), errs.ErrTagType)
	}
	return v.i, nil
}

func (v TagValue) Real() (float64, error) {
	if v.typ != TagReal {
		return 0, fmt.Errorf("%c value read as real: %w", v.typ.SAMType(), errs.ErrTagType)
	}
	return v.f, nil
}

// String returns the value as printed in a SAM optional field.
func (v TagValue) String() string {
	switch v.typ {
	case TagChar:
		return string(v.c)
	case TagText:
		return v.s
	case TagInt:
		return strconv.FormatInt(v.i, 10)
	case TagReal:
		return strconv.FormatFloat(v.f, 'f', 6, 64)
	}
	return ""
}

// Tag is a named value attached to an alignment (e.g. MD, XS).
type Tag struct {
	Key   string
	Value TagValue
}

// String formats t as a SAM optional field, e.g. "XS:i:52".
func (t Tag) String() string {
	return t.Key + ":" + string(t.Value.typ.SAMType()) + ":" + t.Value.String()
}

// Aux converts t to a biogo optional field.
func (t Tag) Aux() (sam.Aux, error) {
	if len(t.Key) != 2 {
		return nil, fmt.Errorf("tag key %q must have 2 characters: %w", t.Key, errs.ErrInvalidParam)
	}
	var v interface{}
	switch t.Value.typ {
	case TagChar:
		v = sam.ASCII(t.Value.c)
	case TagText:
		v = t.Value.s
	case TagInt:
		if t.Value.i < -1<<31 || t.Value.i > 1<<32-1 {
			return nil, fmt.Errorf("tag %s value %d out of range: %w", t.Key, t.Value.i, errs.ErrInvalidParam)
		}
		v = int(t.Value.i)
	case TagReal:
		v = float32(t.Value.f)
	default:
		return nil, fmt.Errorf("tag %s has no value: %w", t.Key, errs.ErrInvalidParam)
	}
	return sam.NewAux(sam.NewTag(t.Key), v)
}
