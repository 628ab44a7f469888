package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"mvault/core/events"
	"mvault/storage"
)

// Manager reads and writes RLP encoded records on top of a key-value backend.
// Mutations performed inside Atomic are staged in memory and committed as one
// batch, so a failing operation leaves no trace in the backend.
//
// Engine reads take no lock of their own. While other goroutines may be
// writing, every read must run inside View or Atomic; the staged writes of an
// Atomic call are visible only to its own callback.
type Manager struct {
	db storage.Database

	mu sync.RWMutex
	tx *overlay
}

type overlay struct {
	writes  map[string][]byte
	deletes map[string]struct{}
	events  []pendingEvent
}

type pendingEvent struct {
	emitter events.Emitter
	event   events.Event
}

func newOverlay() *overlay {
	return &overlay{
		writes:  make(map[string][]byte),
		deletes: make(map[string]struct{}),
	}
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	if db == nil {
		db = storage.NewMemDB()
	}
	return &Manager{db: db}
}

// Atomic runs fn with exclusive access to the state. Writes issued by fn are
// applied only when it returns nil; events routed through Emitter are
// delivered after the commit. Atomic must not be nested.
func (m *Manager) Atomic(fn func() error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tx = newOverlay()
	tx := m.tx
	defer func() { m.tx = nil }()

	if err := fn(); err != nil {
		return err
	}
	if err := m.commit(tx); err != nil {
		return fmt.Errorf("state: commit: %w", err)
	}
	for _, pending := range tx.events {
		pending.emitter.Emit(pending.event)
	}
	return nil
}

// View runs fn with shared access to the committed state.
func (m *Manager) View(fn func() error) error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn()
}

func (m *Manager) commit(tx *overlay) error {
	if len(tx.writes) == 0 && len(tx.deletes) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tx.writes)+len(tx.deletes))
	for key := range tx.writes {
		keys = append(keys, key)
	}
	for key := range tx.deletes {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	batch := new(storage.Batch)
	for _, key := range keys {
		if value, ok := tx.writes[key]; ok {
			batch.Put([]byte(key), value)
			continue
		}
		batch.Delete([]byte(key))
	}
	return m.db.Write(batch)
}

// Emitter wraps inner so that events emitted during Atomic are held back until
// the surrounding operation commits. Outside a transaction events pass
// straight through.
func (m *Manager) Emitter(inner events.Emitter) events.Emitter {
	if inner == nil {
		inner = events.NoopEmitter{}
	}
	return &txEmitter{mgr: m, inner: inner}
}

type txEmitter struct {
	mgr   *Manager
	inner events.Emitter
}

func (e *txEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	if tx := e.mgr.tx; tx != nil {
		tx.events = append(tx.events, pendingEvent{emitter: e.inner, event: evt})
		return
	}
	e.inner.Emit(evt)
}

func kvKey(key []byte) []byte {
	return ethcrypto.Keccak256(key)
}

// rawGet expects the caller to hold mu through View or Atomic.
func (m *Manager) rawGet(hashed []byte) ([]byte, error) {
	if tx := m.tx; tx != nil {
		if value, ok := tx.writes[string(hashed)]; ok {
			return value, nil
		}
		if _, ok := tx.deletes[string(hashed)]; ok {
			return nil, nil
		}
	}
	data, err := m.db.Get(hashed)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return data, err
}

func (m *Manager) rawPut(hashed, value []byte) error {
	if tx := m.tx; tx != nil {
		delete(tx.deletes, string(hashed))
		tx.writes[string(hashed)] = append([]byte(nil), value...)
		return nil
	}
	return m.db.Put(hashed, value)
}

func (m *Manager) rawDelete(hashed []byte) error {
	if tx := m.tx; tx != nil {
		delete(tx.writes, string(hashed))
		tx.deletes[string(hashed)] = struct{}{}
		return nil
	}
	return m.db.Delete(hashed)
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.rawPut(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// out. The boolean reports whether the key was present.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.rawGet(kvKey(key))
	if err != nil {
		return false, err
	}
	if len(data) == 0 {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVDelete removes the key if present.
func (m *Manager) KVDelete(key []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	return m.rawDelete(kvKey(key))
}

func (m *Manager) loadList(hashed []byte) ([][]byte, error) {
	data, err := m.rawGet(hashed)
	if err != nil {
		return nil, err
	}
	var list [][]byte
	if len(data) > 0 {
		if err := rlp.DecodeBytes(data, &list); err != nil {
			return nil, err
		}
	}
	return list, nil
}

func (m *Manager) storeList(hashed []byte, list [][]byte) error {
	if len(list) == 0 {
		return m.rawDelete(hashed)
	}
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return m.rawPut(hashed, encoded)
}

// KVAppend appends the provided value to the RLP-encoded byte slice list stored
// under the supplied key. Duplicate values are ignored to keep the index
// deterministic.
func (m *Manager) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	list, err := m.loadList(hashed)
	if err != nil {
		return err
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	return m.storeList(hashed, list)
}

// KVRemove drops value from the list stored under key. Missing values are
// ignored.
func (m *Manager) KVRemove(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	hashed := kvKey(key)
	list, err := m.loadList(hashed)
	if err != nil {
		return err
	}
	filtered := list[:0]
	for _, existing := range list {
		if !bytes.Equal(existing, value) {
			filtered = append(filtered, existing)
		}
	}
	return m.storeList(hashed, filtered)
}

// KVGetList decodes the list stored under key into out, which must point to a
// slice. Missing keys yield an empty slice.
func (m *Manager) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.rawGet(kvKey(key))
	if err != nil {
		return err
	}
	if len(data) == 0 {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("kv: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("kv: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	return rlp.DecodeBytes(data, out)
}
