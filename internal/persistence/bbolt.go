package persistence

import (
	"encoding/json"
	"fmt"

	"go.etcd.io/bbolt"
)

// Bucket and key naming follows the broker's persisted-layout contract:
// a top-level client_uids bucket, four buckets per client uid (named
// uid+suffix) holding that client's subscriptions, incoming ids,
// outgoing queue and inflight records, plus a broker-wide
// retained_messages bucket.
var (
	clientUIDsBucket      = []byte("mqtt_broker:client_uids")
	retainedBucket        = []byte("_retained_messages")
	subscriptionsSuffix   = ":subscriptions"
	incomingIDsSuffix     = ":incoming_packet_ids"
	outgoingQueueSuffix   = ":outgoing_queue"
	outgoingInflightSuffix = ":outgoing_inflight"
)

// Bbolt is a bbolt-backed Store, for brokers that must survive restarts
// with queued QoS1/QoS2 work and retained messages intact.
type Bbolt struct {
	db *bbolt.DB
}

func OpenBbolt(path string) (*Bbolt, error) {
	db, err := bbolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open bbolt store: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(clientUIDsBucket)
		if err != nil {
			return err
		}
		_, err = tx.CreateBucketIfNotExists(retainedBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	return &Bbolt{db: db}, nil
}

func clientBucketName(uid, suffix string) []byte {
	return []byte(uid + suffix)
}

func (b *Bbolt) touchClient(tx *bbolt.Tx, uid string) error {
	bucket := tx.Bucket(clientUIDsBucket)
	return bucket.Put([]byte(uid), []byte{1})
}

func (b *Bbolt) ClientUIDs() ([]string, error) {
	var uids []string
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientUIDsBucket)
		return bucket.ForEach(func(k, v []byte) error {
			uids = append(uids, string(k))
			return nil
		})
	})
	return uids, err
}

func (b *Bbolt) ForgetClient(uid string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		tx.Bucket(clientUIDsBucket).Delete([]byte(uid))
		for _, suffix := range []string{subscriptionsSuffix, incomingIDsSuffix, outgoingQueueSuffix, outgoingInflightSuffix} {
			tx.DeleteBucket(clientBucketName(uid, suffix))
		}
		return nil
	})
}

func (b *Bbolt) SaveSubscriptions(uid string, subs []StoredSubscription) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := b.touchClient(tx, uid); err != nil {
			return err
		}
		name := clientBucketName(uid, subscriptionsSuffix)
		tx.DeleteBucket(name)
		bucket, err := tx.CreateBucket(name)
		if err != nil {
			return err
		}
		for i, s := range subs {
			data, err := json.Marshal(s)
			if err != nil {
				return err
			}
			if err := bucket.Put([]byte(fmt.Sprintf("%06d", i)), data); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *Bbolt) LoadSubscriptions(uid string) ([]StoredSubscription, error) {
	var subs []StoredSubscription
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, subscriptionsSuffix))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var s StoredSubscription
			if err := json.Unmarshal(v, &s); err != nil {
				return err
			}
			subs = append(subs, s)
			return nil
		})
	})
	return subs, err
}

func (b *Bbolt) MarkIncomingPacketID(uid string, id uint16) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := b.touchClient(tx, uid); err != nil {
			return err
		}
		bucket, err := tx.CreateBucketIfNotExists(clientBucketName(uid, incomingIDsSuffix))
		if err != nil {
			return err
		}
		return bucket.Put(idKey(id), []byte{1})
	})
}

func (b *Bbolt) IsIncomingPacketIDKnown(uid string, id uint16) (bool, error) {
	var known bool
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, incomingIDsSuffix))
		if bucket == nil {
			return nil
		}
		known = bucket.Get(idKey(id)) != nil
		return nil
	})
	return known, err
}

func (b *Bbolt) ClearIncomingPacketID(uid string, id uint16) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, incomingIDsSuffix))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(idKey(id))
	})
}

func (b *Bbolt) EnqueueOutgoing(uid string, p StoredPublish) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		if err := b.touchClient(tx, uid); err != nil {
			return err
		}
		bucket, err := tx.CreateBucketIfNotExists(clientBucketName(uid, outgoingQueueSuffix))
		if err != nil {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		seq, _ := bucket.NextSequence()
		return bucket.Put(seqKey(seq), data)
	})
}

func (b *Bbolt) NextOutgoing(uid string) (StoredPublish, bool, error) {
	var p StoredPublish
	found := false
	err := b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, outgoingQueueSuffix))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		k, v := c.First()
		if k == nil {
			return nil
		}
		if err := json.Unmarshal(v, &p); err != nil {
			return err
		}
		found = true
		return bucket.Delete(k)
	})
	return p, found, err
}

// AllOutgoing is a non-destructive peek at the pending queue, used to
// restore a session's in-memory queue without consuming the durable copy.
func (b *Bbolt) AllOutgoing(uid string) ([]StoredPublish, error) {
	var out []StoredPublish
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, outgoingQueueSuffix))
		if bucket == nil {
			return nil
		}
		c := bucket.Cursor()
		for k, v := c.First(); k != nil; k, v = c.Next() {
			var p StoredPublish
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
		}
		return nil
	})
	return out, err
}

func (b *Bbolt) SetInflight(uid string, p StoredPublish) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket, err := tx.CreateBucketIfNotExists(clientBucketName(uid, outgoingInflightSuffix))
		if err != nil {
			return err
		}
		data, err := json.Marshal(p)
		if err != nil {
			return err
		}
		return bucket.Put(idKey(p.PacketID), data)
	})
}

func (b *Bbolt) getInflight(uid string, id uint16) (StoredPublish, bool, error) {
	var p StoredPublish
	found := false
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, outgoingInflightSuffix))
		if bucket == nil {
			return nil
		}
		data := bucket.Get(idKey(id))
		if data == nil {
			return nil
		}
		found = true
		return json.Unmarshal(data, &p)
	})
	return p, found, err
}

func (b *Bbolt) AllInflight(uid string) ([]StoredPublish, error) {
	var out []StoredPublish
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, outgoingInflightSuffix))
		if bucket == nil {
			return nil
		}
		return bucket.ForEach(func(k, v []byte) error {
			var p StoredPublish
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			out = append(out, p)
			return nil
		})
	})
	return out, err
}

func (b *Bbolt) SetSent(uid string, id uint16, sent bool) error {
	p, ok, err := b.getInflight(uid, id)
	if err != nil || !ok {
		return err
	}
	p.Sent = sent
	return b.SetInflight(uid, p)
}

func (b *Bbolt) IsSent(uid string, id uint16) (bool, error) {
	p, _, err := b.getInflight(uid, id)
	return p.Sent, err
}

func (b *Bbolt) SetPubConf(uid string, id uint16, conf bool) error {
	p, ok, err := b.getInflight(uid, id)
	if err != nil || !ok {
		return err
	}
	p.PubConf = conf
	return b.SetInflight(uid, p)
}

func (b *Bbolt) IsPubConf(uid string, id uint16) (bool, error) {
	p, _, err := b.getInflight(uid, id)
	return p.PubConf, err
}

func (b *Bbolt) RemoveOutgoing(uid string, id uint16) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(clientBucketName(uid, outgoingInflightSuffix))
		if bucket == nil {
			return nil
		}
		return bucket.Delete(idKey(id))
	})
}

func (b *Bbolt) SetRetained(topicName string, rec RetainedRecord) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(retainedBucket)
		data, err := json.Marshal(rec)
		if err != nil {
			return err
		}
		return bucket.Put([]byte(topicName), data)
	})
}

func (b *Bbolt) DeleteRetained(topicName string) error {
	return b.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(retainedBucket).Delete([]byte(topicName))
	})
}

func (b *Bbolt) AllRetained() (map[string]RetainedRecord, error) {
	out := make(map[string]RetainedRecord)
	err := b.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(retainedBucket)
		return bucket.ForEach(func(k, v []byte) error {
			var rec RetainedRecord
			if err := json.Unmarshal(v, &rec); err != nil {
				return err
			}
			out[string(k)] = rec
			return nil
		})
	})
	return out, err
}

func (b *Bbolt) Close() error {
	return b.db.Close()
}

func idKey(id uint16) []byte {
	return []byte(fmt.Sprintf("%05d", id))
}

func seqKey(seq uint64) []byte {
	return []byte(fmt.Sprintf("%020d", seq))
}
