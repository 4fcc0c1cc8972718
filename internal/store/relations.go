package store

import (
	bolt "go.etcd.io/bbolt"
)

// CreateRelation records a directed edge from one user to another with the
// given status.
func (s *Bolt) CreateRelation(from, to, status string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).Put(relationKey(from, to), []byte(status))
	})
}

// SetRelationStatus overwrites the status of an existing edge.
func (s *Bolt) SetRelationStatus(from, to, status string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketRelations)
		if b.Get(relationKey(from, to)) == nil {
			return ErrNotFound
		}
		return b.Put(relationKey(from, to), []byte(status))
	})
}

// DeleteRelation removes the edge if it exists.
func (s *Bolt) DeleteRelation(from, to string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).Delete(relationKey(from, to))
	})
}

// IsRelation reports whether the edge exists with the given status.
func (s *Bolt) IsRelation(from, to, status string) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		got := tx.Bucket(bucketRelations).Get(relationKey(from, to))
		ok = got != nil && string(got) == status
		return nil
	})
	return ok, err
}

// OutgoingOfStatus returns the targets of every edge from the user with
// the given status.
func (s *Bolt) OutgoingOfStatus(from, status string) ([]string, error) {
	out := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).ForEach(func(k, v []byte) error {
			f, t := splitRelationKey(k)
			if f == from && string(v) == status {
				out = append(out, t)
			}
			return nil
		})
	})
	return out, err
}

// IncomingOfStatus returns the sources of every edge to the user with the
// given status.
func (s *Bolt) IncomingOfStatus(to, status string) ([]string, error) {
	out := []string{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).ForEach(func(k, v []byte) error {
			f, t := splitRelationKey(k)
			if t == to && string(v) == status {
				out = append(out, f)
			}
			return nil
		})
	})
	return out, err
}

// OfStatus returns the other endpoint of every edge touching the user with
// the given status, outgoing targets first, without duplicates.
func (s *Bolt) OfStatus(username, status string) ([]string, error) {
	out := []string{}
	seen := map[string]struct{}{}
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).ForEach(func(k, v []byte) error {
			if string(v) != status {
				return nil
			}
			f, t := splitRelationKey(k)
			var other string
			switch username {
			case f:
				other = t
			case t:
				other = f
			default:
				return nil
			}
			if _, dup := seen[other]; dup {
				return nil
			}
			seen[other] = struct{}{}
			out = append(out, other)
			return nil
		})
	})
	return out, err
}
