package store

import (
	"github.com/devon-mar/startssl/cert"
)

// Store persists retrieved certificate bundles by common name. Retrieve
// returns nil, nil when nothing is stored for cn.
type Store interface {
	Retrieve(cn string) (*cert.Bundle, error)
	Store(*cert.Bundle) error
}
