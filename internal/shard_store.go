package internal

import (
	"fmt"
	"sort"
	"sync"
)

type MissingShardIdError struct {
	Id int
}

func (e *MissingShardIdError) Error() string {
	return fmt.Sprintf("Missing shard with id=%d", e.Id)
}

type DuplicateShardIdError struct {
	Id int
}

func (e *DuplicateShardIdError) Error() string {
	return fmt.Sprintf("Attempted to register shard with duplicate ID %d", e.Id)
}

// ShardDescriptor is a point-in-time copy of one shard's bookkeeping.
type ShardDescriptor struct {
	ShardID      int
	ShardCount   int
	State        string
	SessionID    string
	LastSequence int64
	Restarts     int
	StartedTime  int64
	Terminal     bool
	LastError    string
}

type shardEntry struct {
	Mut        sync.RWMutex
	descriptor ShardDescriptor
}

type ShardStore struct {
	mut_shards sync.RWMutex
	shards     map[int]*shardEntry
}

func CreateShardStore() *ShardStore {
	return &ShardStore{
		mut_shards: sync.RWMutex{},
		shards:     make(map[int]*shardEntry),
	}
}

func (store *ShardStore) CreateShard(shardId, shardCount int, timestamp int64) error {
	store.mut_shards.Lock()
	defer store.mut_shards.Unlock()

	if _, has := store.shards[shardId]; has {
		return &DuplicateShardIdError{Id: shardId}
	}

	store.shards[shardId] = &shardEntry{
		descriptor: ShardDescriptor{
			ShardID:     shardId,
			ShardCount:  shardCount,
			State:       "Disconnected",
			StartedTime: timestamp,
		},
	}
	return nil
}

func (store *ShardStore) HasShard(shardId int) bool {
	store.mut_shards.RLock()
	defer store.mut_shards.RUnlock()

	_, has := store.shards[shardId]
	return has
}

// Update applies fn to the shard's descriptor under the shard's lock.
func (store *ShardStore) Update(shardId int, fn func(d *ShardDescriptor)) error {
	store.mut_shards.RLock()
	defer store.mut_shards.RUnlock()

	entry, has := store.shards[shardId]
	if !has {
		return &MissingShardIdError{Id: shardId}
	}

	entry.Mut.Lock()
	defer entry.Mut.Unlock()

	fn(&entry.descriptor)
	return nil
}

func (store *ShardStore) RecordRestart(shardId int, reason error, timestamp int64) error {
	return store.Update(shardId, func(d *ShardDescriptor) {
		d.Restarts++
		d.StartedTime = timestamp
		d.SessionID = ""
		if reason != nil {
			d.LastError = reason.Error()
		}
	})
}

func (store *ShardStore) MarkTerminal(shardId int, reason error) error {
	return store.Update(shardId, func(d *ShardDescriptor) {
		d.Terminal = true
		d.State = "Closed"
		if reason != nil {
			d.LastError = reason.Error()
		}
	})
}

func (store *ShardStore) Get(shardId int) (ShardDescriptor, error) {
	store.mut_shards.RLock()
	defer store.mut_shards.RUnlock()

	entry, has := store.shards[shardId]
	if !has {
		return ShardDescriptor{}, &MissingShardIdError{Id: shardId}
	}

	entry.Mut.RLock()
	defer entry.Mut.RUnlock()

	return entry.descriptor, nil
}

// List returns every descriptor ordered by shard id.
func (store *ShardStore) List() []ShardDescriptor {
	store.mut_shards.RLock()
	defer store.mut_shards.RUnlock()

	descriptors := make([]ShardDescriptor, 0, len(store.shards))
	for _, entry := range store.shards {
		entry.Mut.RLock()
		descriptors = append(descriptors, entry.descriptor)
		entry.Mut.RUnlock()
	}

	sort.Slice(descriptors, func(i, j int) bool {
		return descriptors[i].ShardID < descriptors[j].ShardID
	})
	return descriptors
}

func (store *ShardStore) RemoveShard(shardId int) {
	store.mut_shards.Lock()
	defer store.mut_shards.Unlock()
	delete(store.shards, shardId)
}
