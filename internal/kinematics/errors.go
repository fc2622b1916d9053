package kinematics

import "errors"

// ErrMalformedTree is returned by Load when a required field is missing or
// the node's type tag is unrecognized.
var ErrMalformedTree = errors.New("kinematics: malformed tree document")

// ErrDuplicateName is returned by Load when two nodes in the same document
// share a name.
var ErrDuplicateName = errors.New("kinematics: duplicate node name")
