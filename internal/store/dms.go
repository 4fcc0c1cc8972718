package store

import (
	"encoding/json"

	bolt "go.etcd.io/bbolt"

	"whisperd/internal/clock"
	"whisperd/internal/domain"
)

type dmRecord struct {
	ID         int64    `json:"id"`
	Users      []string `json:"users"`
	PublicKeys string   `json:"public_keys"`
	Name       *string  `json:"name"`
	CreatedAt  string   `json:"created_at"`
}

// CreateDM inserts a DM whose members are usernames (duplicates dropped,
// order preserved) and whose key tree is stored as a JSON array. Returns
// the new DM id.
func (s *Bolt) CreateDM(usernames []string, keyTree []string) (int64, error) {
	members := make([]string, 0, len(usernames))
	seen := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		if _, dup := seen[u]; dup {
			continue
		}
		seen[u] = struct{}{}
		members = append(members, u)
	}

	tree, err := json.Marshal(keyTree)
	if err != nil {
		return 0, err
	}

	var id int64
	err = s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketDMs)
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		id = int64(seq)
		rec := dmRecord{
			ID:         id,
			Users:      members,
			PublicKeys: string(tree),
			CreatedAt:  clock.Format(s.now()),
		}
		raw, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return b.Put(itob(seq), raw)
	})
	return id, err
}

// GetDM returns the DM, its member set and its latest message (highest
// timestamp, ties broken by highest id) with reactions attached.
func (s *Bolt) GetDM(id int64) (domain.DMInfo, error) {
	var info domain.DMInfo
	err := s.db.View(func(tx *bolt.Tx) error {
		var rec dmRecord
		if err := getDM(tx, id, &rec); err != nil {
			return err
		}
		info.DM = domain.DM{
			ID:         rec.ID,
			PublicKeys: rec.PublicKeys,
			Name:       rec.Name,
			CreatedAt:  rec.CreatedAt,
		}
		info.Users = rec.Users

		latest, ok, err := latestMessage(tx, id)
		if err != nil {
			return err
		}
		if ok {
			info.LatestMessage = &latest
		}
		return nil
	})
	return info, err
}

// UserDMs returns the ids of every DM the user is a member of.
func (s *Bolt) UserDMs(username string) ([]int64, error) {
	var out []int64
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDMs).ForEach(func(_, v []byte) error {
			var rec dmRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			for _, u := range rec.Users {
				if u == username {
					out = append(out, rec.ID)
					break
				}
			}
			return nil
		})
	})
	return out, err
}

// SetDMName renames the DM.
func (s *Bolt) SetDMName(id int64, name string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var rec dmRecord
		if err := getDM(tx, id, &rec); err != nil {
			return err
		}
		rec.Name = &name
		return putDM(tx, rec)
	})
}

// LeaveDM removes the member from the DM. The DM itself is never deleted.
func (s *Bolt) LeaveDM(id int64, username string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		var rec dmRecord
		if err := getDM(tx, id, &rec); err != nil {
			return err
		}
		kept := rec.Users[:0]
		for _, u := range rec.Users {
			if u != username {
				kept = append(kept, u)
			}
		}
		rec.Users = kept
		return putDM(tx, rec)
	})
}

// DMExists reports whether the DM id is known.
func (s *Bolt) DMExists(id int64) (bool, error) {
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		ok = tx.Bucket(bucketDMs).Get(itob(uint64(id))) != nil
		return nil
	})
	return ok, err
}

// DMUsersExist reports whether some DM's member set equals usernames
// exactly (order-insensitive). Used to enforce individual-DM uniqueness.
func (s *Bolt) DMUsersExist(usernames []string) (bool, error) {
	want := make(map[string]struct{}, len(usernames))
	for _, u := range usernames {
		want[u] = struct{}{}
	}
	var found bool
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketDMs).Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var rec dmRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			if len(rec.Users) != len(want) {
				continue
			}
			match := true
			for _, u := range rec.Users {
				if _, ok := want[u]; !ok {
					match = false
					break
				}
			}
			if match {
				found = true
				return nil
			}
		}
		return nil
	})
	return found, err
}

// UserInDM reports whether username is a member of the DM.
func (s *Bolt) UserInDM(username string, id int64) (bool, error) {
	var in bool
	err := s.db.View(func(tx *bolt.Tx) error {
		var rec dmRecord
		if err := getDM(tx, id, &rec); err != nil {
			if err == ErrNotFound {
				return nil
			}
			return err
		}
		for _, u := range rec.Users {
			if u == username {
				in = true
				break
			}
		}
		return nil
	})
	return in, err
}

func getDM(tx *bolt.Tx, id int64, rec *dmRecord) error {
	raw := tx.Bucket(bucketDMs).Get(itob(uint64(id)))
	if raw == nil {
		return ErrNotFound
	}
	return json.Unmarshal(raw, rec)
}

func putDM(tx *bolt.Tx, rec dmRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketDMs).Put(itob(uint64(rec.ID)), raw)
}
