package model

import "github.com/rotisserie/eris"

// Failure conditions surfaced by the pipeline. Wrapped errors keep these in
// their chain; test with errors.Is.
var (
	ErrFileNotFound   = eris.New("input file not found")
	ErrBadCoordinate  = eris.New("unparseable coordinate")
	ErrUnclosedRing   = eris.New("polygon ring is not closed")
	ErrNoMatches      = eris.New("join produced zero matches")
	ErrDuplicateKey   = eris.New("duplicate section key")
	ErrUnsupportedCRS = eris.New("unsupported coordinate reference system")
)
