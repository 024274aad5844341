package credentials

import "fmt"

// Pool is an ordered, fixed set of credentials with a cyclic cursor.
//
// A Pool is owned by a single collector and is not safe for concurrent use.
type Pool struct {
	creds  []Credential
	cursor int
}

// NewPool validates every credential and returns a pool positioned on the first.
func NewPool(creds []Credential) (*Pool, error) {
	if len(creds) == 0 {
		return nil, ErrEmptyPool
	}
	for i, c := range creds {
		if err := c.validate(i); err != nil {
			return nil, fmt.Errorf("invalid credential: %w", err)
		}
	}

	owned := make([]Credential, len(creds))
	copy(owned, creds)
	return &Pool{creds: owned}, nil
}

// Current returns the credential under the cursor.
func (p *Pool) Current() Credential {
	return p.creds[p.cursor]
}

// Advance moves the cursor to the next credential, wrapping around,
// and returns the new current credential.
func (p *Pool) Advance() Credential {
	p.cursor = (p.cursor + 1) % len(p.creds)
	return p.creds[p.cursor]
}

// Len returns the number of credentials in the pool.
func (p *Pool) Len() int {
	return len(p.creds)
}

// Index returns the cursor position.
func (p *Pool) Index() int {
	return p.cursor
}

// IDs returns the masked IDs of all credentials in pool order.
func (p *Pool) IDs() []string {
	ids := make([]string, len(p.creds))
	for i, c := range p.creds {
		ids[i] = c.ID()
	}
	return ids
}
