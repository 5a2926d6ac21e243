package rooms

import (
	"context"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/inkroom/internal/drawing"
	"go.uber.org/zap"
)

const (
	defaultSaveTimeout = 5 * time.Second
	defaultLoadTimeout = 5 * time.Second
)

// PersistenceAdapter loads and saves room snapshots. Load reports false when
// no snapshot exists for the room.
type PersistenceAdapter interface {
	Load(ctx context.Context, roomID string) (drawing.Snapshot, bool, error)
	Save(ctx context.Context, roomID string, snapshot drawing.Snapshot) error
}

// RegistryConfig describes the dependencies of a Registry.
type RegistryConfig struct {
	Persistence  PersistenceAdapter
	IDProvider   drawing.IDProvider
	Clock        func() time.Time
	Logger       *zap.Logger
	IdleTTL      time.Duration
	SaveDebounce time.Duration
	SaveTimeout  time.Duration
}

// Registry maps room identifiers to rooms. It is the only process-wide
// structure; its lock covers the map lookup alone, never a room mutation.
type Registry struct {
	persistence  PersistenceAdapter
	ids          drawing.IDProvider
	clock        func() time.Time
	logger       *zap.Logger
	idleTTL      time.Duration
	saveDebounce time.Duration
	saveTimeout  time.Duration

	mu     sync.Mutex
	rooms  map[string]*Room
	closed bool
	savers sync.WaitGroup
}

// NewRegistry constructs a registry. A nil Persistence keeps rooms in memory only.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.IdleTTL < 0 || cfg.SaveDebounce < 0 || cfg.SaveTimeout < 0 {
		return nil, newServiceError(opRegistryNew, "negative_duration", nil)
	}
	ids := cfg.IDProvider
	if ids == nil {
		ids = drawing.NewUUIDProvider()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}
	saveTimeout := cfg.SaveTimeout
	if saveTimeout == 0 {
		saveTimeout = defaultSaveTimeout
	}
	return &Registry{
		persistence:  cfg.Persistence,
		ids:          ids,
		clock:        clock,
		logger:       logger,
		idleTTL:      cfg.IdleTTL,
		saveDebounce: cfg.SaveDebounce,
		saveTimeout:  saveTimeout,
		rooms:        make(map[string]*Room),
	}, nil
}

// Ensure returns the room for roomID, creating it on first use. A new room is
// loaded from persistence when a snapshot exists and starts empty otherwise.
// Concurrent callers for the same new room wait for the single load.
func (r *Registry) Ensure(ctx context.Context, roomID string) (*Room, error) {
	roomID, err := NewRoomID(roomID)
	if err != nil {
		return nil, newServiceError(opEnsure, "invalid_room_id", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil, newServiceError(opEnsure, "registry_closed", ErrRegistryClosed)
	}
	room, ok := r.rooms[roomID]
	if !ok {
		room = newRoom(roomID, r.clock, r.logger)
		r.rooms[roomID] = room
	}
	r.mu.Unlock()

	room.loadOnce.Do(func() {
		r.load(ctx, room)
	})
	return room, nil
}

// Lookup returns an existing room without creating one.
func (r *Registry) Lookup(roomID string) (*Room, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	room, ok := r.rooms[roomID]
	return room, ok
}

// Len returns the number of rooms held in memory.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}

// Sweep evicts rooms whose roster has been empty for at least the idle TTL,
// flushing their state first. It returns the number of evicted rooms.
func (r *Registry) Sweep(now time.Time) int {
	if r.idleTTL <= 0 {
		return 0
	}

	r.mu.Lock()
	evicted := make([]*Room, 0)
	for id, room := range r.rooms {
		if room.evictIfIdle(now, r.idleTTL) {
			delete(r.rooms, id)
			evicted = append(evicted, room)
		}
	}
	r.mu.Unlock()

	for _, room := range evicted {
		room.shutdown()
		r.logger.Info("room evicted", zap.String("room_id", room.ID()))
	}
	return len(evicted)
}

// Run sweeps idle rooms every interval until ctx is cancelled.
func (r *Registry) Run(ctx context.Context, interval time.Duration) {
	if r.idleTTL <= 0 || interval <= 0 {
		<-ctx.Done()
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Sweep(r.clock())
		}
	}
}

// Close stops accepting rooms, flushes every room and waits for pending saves
// or for ctx to end.
func (r *Registry) Close(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	rooms := make([]*Room, 0, len(r.rooms))
	for id, room := range r.rooms {
		rooms = append(rooms, room)
		delete(r.rooms, id)
	}
	r.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for _, room := range rooms {
			room.loadOnce.Do(func() {})
			room.close()
			room.shutdown()
		}
		r.savers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Registry) load(ctx context.Context, room *Room) {
	storeConfig := drawing.StoreConfig{IDProvider: r.ids, Clock: r.clock}
	store := drawing.NewStore(storeConfig)
	persist := r.persistence != nil

	if r.persistence != nil {
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultLoadTimeout)
		snapshot, found, err := r.persistence.Load(loadCtx, room.ID())
		cancel()
		switch {
		case err != nil:
			// Saving over a snapshot that could not be read would discard it.
			persist = false
			logError(r.logger, opLoad, "load_failed", err, zap.String("room_id", room.ID()))
		case found:
			restored, report := drawing.Restore(storeConfig, snapshot)
			store = restored
			if !report.Clean() {
				room.logger.Warn("room snapshot repaired on load",
					zap.Int("dropped_operations", report.DroppedOperations),
					zap.Int("dropped_stack_entries", report.DroppedStackEntries),
					zap.Bool("tombstones_repaired", report.TombstonesRepaired))
			}
			room.logger.Info("room restored", zap.Int("operations", store.Len()))
		}
	}

	room.mu.Lock()
	room.store = store
	room.loaded = true
	if persist {
		room.saverDone = make(chan struct{})
		r.savers.Add(1)
		go func() {
			defer r.savers.Done()
			r.persistLoop(room)
		}()
	}
	room.mu.Unlock()
}

func (r *Registry) persistLoop(room *Room) {
	defer close(room.saverDone)
	for {
		select {
		case <-room.dirty:
			r.debounce(room)
			// The snapshot taken below covers anything marked while waiting.
			select {
			case <-room.dirty:
			default:
			}
			r.persist(room)
		case <-room.stop:
			select {
			case <-room.dirty:
				r.persist(room)
			default:
			}
			return
		}
	}
}

func (r *Registry) debounce(room *Room) {
	if r.saveDebounce <= 0 {
		return
	}
	timer := time.NewTimer(r.saveDebounce)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-room.stop:
	}
}

// persist writes the current snapshot. Failures are logged and the room keeps
// running in memory; the next mutation retries.
func (r *Registry) persist(room *Room) {
	room.mu.Lock()
	snapshot := room.store.Snapshot()
	room.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.saveTimeout)
	defer cancel()
	if err := r.persistence.Save(ctx, room.ID(), snapshot); err != nil {
		logError(r.logger, opPersist, "save_failed", err,
			zap.String("room_id", room.ID()),
			zap.Int("operations", len(snapshot.Log)))
		return
	}
	room.logger.Debug("room persisted", zap.Int("operations", len(snapshot.Log)))
}
