//
// Copyright (C) 2024 Charles E. Vejnar
//
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://www.mozilla.org/MPL/2.0/.
//

// Package htsdb exports alignments to an SQLite table with the htsdb layout:
// one row per mapped record with 0-based inclusive start/stop and strand 1/-1.
package htsdb

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/Masterminds/squirrel"
	"github.com/biogo/hts/sam"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"git.sr.ht/~vejnar/Rapi/lib/errs"
)

var Columns = []string{"qname", "flag", "rname", "strand", "start", "stop", "copy_number", "pos", "mapq", "cigar", "rnext", "pnext", "tlen", "seq", "qual", "tags"}

// RowBuilder is a squirrel select builder whose columns match Row fields.
var RowBuilder = squirrel.Select(Columns...)

// ContigCountBuilder counts rows per reference.
var ContigCountBuilder = squirrel.Select("rname").
	Column(squirrel.Alias(squirrel.Expr("COUNT(*)"), "count")).
	Column(squirrel.Alias(squirrel.Expr("SUM(copy_number)"), "copyNum")).
	GroupBy("rname").
	OrderBy("rname")

// Row is one alignment in the htsdb layout.
type Row struct {
	Qname      string `db:"qname"`
	Flag       int    `db:"flag"`
	Rname      string `db:"rname"`
	Strand     int    `db:"strand"`
	Start      int    `db:"start"`
	Stop       int    `db:"stop"`
	CopyNumber int    `db:"copy_number"`
	Pos        int    `db:"pos"`
	Mapq       int    `db:"mapq"`
	Cigar      string `db:"cigar"`
	Rnext      string `db:"rnext"`
	Pnext      int    `db:"pnext"`
	Tlen       int    `db:"tlen"`
	Seq        string `db:"seq"`
	Qual       string `db:"qual"`
	Tags       string `db:"tags"`
}

type ContigCount struct {
	Rname   string `db:"rname"`
	Count   int    `db:"count"`
	CopyNum int    `db:"copyNum"`
}

// NewRow converts a mapped SAM record. Text fields are the ones of the SAM line.
func NewRow(r *sam.Record) (Row, error) {
	line, err := r.MarshalSAM(sam.FlagDecimal)
	if err != nil {
		return Row{}, err
	}
	fields := strings.Split(string(line), "\t")
	row := Row{
		Qname:      fields[0],
		Flag:       int(r.Flags),
		Rname:      fields[2],
		Strand:     int(r.Strand()),
		Start:      r.Start(),
		Stop:       r.End() - 1,
		CopyNumber: 1,
		Pos:        r.Pos + 1,
		Mapq:       int(r.MapQ),
		Cigar:      fields[5],
		Rnext:      fields[6],
		Pnext:      r.MatePos + 1,
		Tlen:       r.TempLen,
		Seq:        fields[9],
		Qual:       fields[10],
		Tags:       strings.Join(fields[11:], "\t"),
	}
	return row, nil
}

func (r Row) values() []interface{} {
	return []interface{}{r.Qname, r.Flag, r.Rname, r.Strand, r.Start, r.Stop, r.CopyNumber, r.Pos, r.Mapq, r.Cigar, r.Rnext, r.Pnext, r.Tlen, r.Seq, r.Qual, r.Tags}
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Exporter inserts records into a table.
type Exporter struct {
	db    *sqlx.DB
	owned bool
	Table string
	// NRow is the number of inserted rows.
	NRow uint64
}

// Open connects to the SQLite database at path and creates table if needed.
func Open(path, table string) (*Exporter, error) {
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, err
	}
	// One connection keeps ":memory:" databases shared
	db.SetMaxOpenConns(1)
	e, err := NewExporter(db, table)
	if err != nil {
		db.Close()
		return nil, err
	}
	e.owned = true
	return e, nil
}

// NewExporter creates table in db if needed.
func NewExporter(db *sqlx.DB, table string) (*Exporter, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("table name %q: %w", table, errs.ErrInvalidParam)
	}
	schema := "CREATE TABLE IF NOT EXISTS " + table + ` (
	qname TEXT NOT NULL,
	flag INTEGER NOT NULL,
	rname TEXT NOT NULL,
	strand INTEGER NOT NULL,
	start INTEGER NOT NULL,
	stop INTEGER NOT NULL,
	copy_number INTEGER NOT NULL,
	pos INTEGER NOT NULL,
	mapq INTEGER NOT NULL,
	cigar TEXT NOT NULL,
	rnext TEXT NOT NULL,
	pnext INTEGER NOT NULL,
	tlen INTEGER NOT NULL,
	seq TEXT NOT NULL,
	qual TEXT NOT NULL,
	tags TEXT NOT NULL)`
	if _, err := db.Exec(schema); err != nil {
		return nil, err
	}
	return &Exporter{db: db, Table: table}, nil
}

func (e *Exporter) DB() *sqlx.DB { return e.db }

// insertRows is the number of rows per INSERT statement, below the SQLite limit of 999 variables.
const insertRows = 50

// Insert adds the mapped records of recs in one transaction. Unmapped records are skipped.
func (e *Exporter) Insert(recs []*sam.Record) (n int, err error) {
	var rows []Row
	for _, r := range recs {
		if r.Flags&sam.Unmapped != 0 || r.Ref == nil {
			continue
		}
		row, err := NewRow(r)
		if err != nil {
			return 0, fmt.Errorf("read %s: %w", r.Name, err)
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	tx, err := e.db.Beginx()
	if err != nil {
		return 0, err
	}
	for start := 0; start < len(rows); start += insertRows {
		end := start + insertRows
		if end > len(rows) {
			end = len(rows)
		}
		b := squirrel.Insert(e.Table).Columns(Columns...)
		for _, row := range rows[start:end] {
			b = b.Values(row.values()...)
		}
		query, args, err := b.ToSql()
		if err != nil {
			tx.Rollback()
			return 0, err
		}
		if _, err = tx.Exec(query, args...); err != nil {
			tx.Rollback()
			return 0, err
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, err
	}
	e.NRow += uint64(len(rows))
	return len(rows), nil
}

// Close closes the database if it was opened by Open.
func (e *Exporter) Close() error {
	if e.owned {
		return e.db.Close()
	}
	return nil
}

// SelectRows selects rows from db using squirrel.SelectBuilder.
//
// e.g.
// rows, err := SelectRows(db, RowBuilder.From("aln").Where(squirrel.Eq{"rname": "chr1"}))
func SelectRows(db *sqlx.DB, b squirrel.SelectBuilder) ([]Row, error) {
	rows := []Row{}
	query, args, err := b.ToSql()
	if err != nil {
		return rows, err
	}
	err = db.Select(&rows, query, args...)
	return rows, err
}

// SelectContigCounts returns the number of rows per reference of table.
func SelectContigCounts(db *sqlx.DB, table string) ([]ContigCount, error) {
	counts := []ContigCount{}
	if !tableName.MatchString(table) {
		return counts, fmt.Errorf("table name %q: %w", table, errs.ErrInvalidParam)
	}
	query, args, err := ContigCountBuilder.From(table).ToSql()
	if err != nil {
		return counts, err
	}
	err = db.Select(&counts, query, args...)
	return counts, err
}

// FormatCount returns "rname\tcount" lines.
func FormatCount(counts []ContigCount) string {
	var b strings.Builder
	for _, c := range counts {
		b.WriteString(c.Rname + "\t" + strconv.Itoa(c.Count) + "\n")
	}
	return b.String()
}
