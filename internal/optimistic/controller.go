// Package optimistic applies mutations to an in-memory collection first and
// reconciles them with the backend afterwards, rolling back on failure.
package optimistic

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"agencycrm/internal/apierr"
	"agencycrm/internal/events"
	"agencycrm/internal/models"
	"agencycrm/internal/notify"
	"agencycrm/internal/utils"
	"agencycrm/internal/utils/logger"
)

const DefaultTimeout = 15 * time.Second

// TempIDPrefix marks ids assigned locally to records the backend has not
// created yet.
const TempIDPrefix = "tmp-"

// Remote persists one collection. gateway.Collection satisfies it.
//
// Create and Update answer with the fields of the record exactly as the server
// returned them; a key the server left out is absent from the map, so it never
// overwrites a submitted value.
type Remote[T models.Entity] interface {
	List(ctx context.Context) ([]T, error)
	Create(ctx context.Context, draft T) (map[string]interface{}, error)
	Update(ctx context.Context, id string, patch map[string]interface{}) (map[string]interface{}, error)
	Delete(ctx context.Context, id string) error
}

// Gate answers permission questions before a mutation is attempted.
// permissions.Engine satisfies it.
type Gate interface {
	CanPerformAction(role string, resource models.Resource, action models.Action) bool
	CanEditColumn(role string, column models.Column) bool
}

type Options struct {
	// Noun names one record in notifications, e.g. "Task".
	Noun     string
	Timeout  time.Duration
	Notifier notify.Notifier
	Bus      *events.EventBus
	// Gate is consulted before every mutation; nil allows everything.
	Gate Gate
	// Columns maps patch fields onto the role-gated columns they edit.
	Columns map[string]models.Column
}

// Controller owns one collection. All mutations of the collection go through
// it so every optimistic change is either committed or rolled back.
type Controller[T models.Entity] struct {
	resource models.Resource
	remote   Remote[T]
	noun     string
	timeout  time.Duration
	notifier notify.Notifier
	bus      *events.EventBus
	gate     Gate
	columns  map[string]models.Column
	fields   map[string]bool
	log      *logger.Logger
	queue    *keyedQueue

	mu       sync.RWMutex
	items    []T
	states   map[string]models.MutationState
	inflight map[string]int
	// touched records the settle sequence of the last mutation per id, so a
	// list fetched before that mutation settled cannot overwrite it.
	touched    map[string]uint64
	aliases    map[string]string
	seq        uint64
	appliedSeq uint64
	loaded     bool
	// resets counts Reset calls; a mutation that outlives a reset must not
	// write into the emptied collection.
	resets uint64
}

func New[T models.Entity](resource models.Resource, remote Remote[T], opts Options) *Controller[T] {
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.Noun == "" {
		opts.Noun = string(resource)
	}
	return &Controller[T]{
		resource: resource,
		remote:   remote,
		noun:     opts.Noun,
		timeout:  opts.Timeout,
		notifier: opts.Notifier,
		bus:      opts.Bus,
		gate:     opts.Gate,
		columns:  opts.Columns,
		fields:   utils.FieldNames[T](),
		log:      logger.New("SYNC").Named(string(resource)),
		queue:    newKeyedQueue(),
		states:   make(map[string]models.MutationState),
		inflight: make(map[string]int),
		touched:  make(map[string]uint64),
		aliases:  make(map[string]string),
	}
}

func (c *Controller[T]) Resource() models.Resource {
	return c.resource
}

// Snapshot is a committed list fetched from the backend, tagged with the
// local settle sequence at the time the fetch started.
type Snapshot[T models.Entity] struct {
	Records []T
	seq     uint64
}

// Load fetches the committed collection and replaces local state with it.
func (c *Controller[T]) Load(ctx context.Context) error {
	return c.Refresh(ctx)
}

// Refresh re-fetches the collection. Records with a mutation in flight, or one
// that settled after the fetch began, keep their local state.
func (c *Controller[T]) Refresh(ctx context.Context) error {
	snap, err := c.Fetch(ctx)
	if err != nil {
		return err
	}
	c.Apply(snap)
	return nil
}

// Fetch lists the collection without touching local state.
func (c *Controller[T]) Fetch(ctx context.Context) (Snapshot[T], error) {
	c.mu.RLock()
	seq := c.seq
	c.mu.RUnlock()

	records, err := call(ctx, c.timeout, c.remote.List)
	if err != nil {
		return Snapshot[T]{}, c.log.Error("Failed to list %s", err, c.resource)
	}
	return Snapshot[T]{Records: records, seq: seq}, nil
}

// Apply merges a fetched snapshot into local state. Snapshots older than the
// last applied one are ignored and Apply reports false.
func (c *Controller[T]) Apply(snap Snapshot[T]) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.loaded && snap.seq < c.appliedSeq {
		return false
	}
	local := func(id string) bool {
		return c.inflight[id] > 0 || c.touched[id] > snap.seq
	}

	next := make([]T, 0, len(snap.Records))
	seen := make(map[string]bool, len(snap.Records))
	for _, r := range snap.Records {
		id := r.EntityID()
		seen[id] = true
		if local(id) {
			if i := c.indexLocked(id); i >= 0 {
				next = append(next, c.items[i])
			}
			continue
		}
		next = append(next, r)
	}
	for _, r := range c.items {
		if id := r.EntityID(); !seen[id] && local(id) {
			next = append(next, r)
		}
	}
	c.items = next

	for id, at := range c.touched {
		if at <= snap.seq {
			delete(c.touched, id)
		}
	}
	c.appliedSeq = snap.seq
	c.loaded = true
	return true
}

// List returns a copy of the collection in display order, pending changes included.
func (c *Controller[T]) List() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, len(c.items))
	copy(out, c.items)
	return out
}

// Get looks a record up by id. Temporary ids of committed creates resolve to
// the server record.
func (c *Controller[T]) Get(id string) (T, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if i := c.indexLocked(c.resolveLocked(id)); i >= 0 {
		return c.items[i], true
	}
	var zero T
	return zero, false
}

// Committed returns the records with no mutation in flight.
func (c *Controller[T]) Committed() []T {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]T, 0, len(c.items))
	for _, r := range c.items {
		if c.inflight[r.EntityID()] == 0 {
			out = append(out, r)
		}
	}
	return out
}

// State reports where the latest mutation of id stands; IDLE if there was none.
func (c *Controller[T]) State(id string) models.MutationState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if s, ok := c.states[c.resolveLocked(id)]; ok {
		return s
	}
	return models.StateIdle
}

// Pending counts mutations that have not settled.
func (c *Controller[T]) Pending() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	n := 0
	for _, v := range c.inflight {
		n += v
	}
	return n
}

// Reset drops local state. Mutations still in flight settle without touching
// the collection.
func (c *Controller[T]) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.items = nil
	c.loaded = false
	c.appliedSeq = 0
	c.resets++
}

// Create shows draft under a temporary id at once and replaces it with the
// server record when the backend accepts it. On failure the temporary record
// is removed.
func (c *Controller[T]) Create(ctx context.Context, role string, draft T) (T, error) {
	var zero T
	fields, err := utils.ToFields(draft)
	if err != nil {
		err = apierr.Validation(fmt.Sprintf("invalid %s: %v", strings.ToLower(c.noun), err))
		c.notifyResult(models.OperationCreate, "", err)
		return zero, err
	}
	delete(fields, "id")
	if err := c.authorize(role, models.OperationCreate, fields); err != nil {
		c.notifyResult(models.OperationCreate, "", err)
		return zero, err
	}
	clean, err := utils.FromFields[T](fields)
	if err != nil {
		err = apierr.Validation(fmt.Sprintf("invalid %s: %v", strings.ToLower(c.noun), err))
		c.notifyResult(models.OperationCreate, "", err)
		return zero, err
	}

	tempID := newTempID()
	fields["id"] = tempID
	local, err := utils.FromFields[T](fields)
	if err != nil {
		err = apierr.Validation(fmt.Sprintf("invalid %s: %v", strings.ToLower(c.noun), err))
		c.notifyResult(models.OperationCreate, "", err)
		return zero, err
	}

	release, err := c.queue.acquire(ctx, tempID)
	if err != nil {
		err = apierr.Transient(err)
		c.notifyResult(models.OperationCreate, tempID, err)
		return zero, err
	}
	defer release()

	c.mu.Lock()
	c.items = append(c.items, local)
	c.beginLocked(tempID)
	c.mu.Unlock()
	c.log.Debug("create %s pending", tempID)

	created, err := call(ctx, c.timeout, func(ctx context.Context) (map[string]interface{}, error) {
		return c.remote.Create(ctx, clean)
	})
	if err == nil && fieldID(created) == "" {
		err = apierr.Transient(errors.New("server returned a record without an id"))
	}
	var record T
	if err == nil {
		server := withoutID(created)
		server["id"] = fieldID(created)
		record, err = utils.MergeFields(local, server)
	}

	c.mu.Lock()
	i := c.indexLocked(tempID)
	id := tempID
	if err != nil {
		if i >= 0 {
			c.items = append(c.items[:i], c.items[i+1:]...)
		}
		c.endLocked(tempID, models.StateRolledBack)
	} else {
		id = record.EntityID()
		if i >= 0 {
			c.items[i] = record
		}
		c.aliases[tempID] = id
		c.endLocked(tempID, models.StateCommitted)
		delete(c.states, tempID)
		delete(c.touched, tempID)
		c.states[id] = models.StateCommitted
		c.touched[id] = c.seq
	}
	c.mu.Unlock()

	// The journal never sees the temporary id.
	published := withoutID(fields)
	settledID := ""
	if err == nil {
		settledID = id
		if f, ferr := utils.ToFields(record); ferr == nil {
			published = f
		}
	}
	c.settle(models.OperationCreate, settledID, role, published, err)
	c.notifyResult(models.OperationCreate, id, err)
	if err != nil {
		return zero, err
	}
	return record, nil
}

// Update merges patch into the record at once, sends only patch to the
// backend and restores the previous record if the backend rejects it.
func (c *Controller[T]) Update(ctx context.Context, role, id string, patch map[string]interface{}) (T, error) {
	if err := c.checkPatch(role, patch); err != nil {
		c.notifyResult(models.OperationUpdate, id, err)
		var zero T
		return zero, err
	}
	record, key, err := c.update(ctx, role, id, patch)
	c.notifyResult(models.OperationUpdate, key, err)
	return record, err
}

// Delete removes the record at once. A 404 from the backend counts as
// success; any other failure puts the record back where it was.
func (c *Controller[T]) Delete(ctx context.Context, role, id string) error {
	if err := c.authorize(role, models.OperationDelete, nil); err != nil {
		c.notifyResult(models.OperationDelete, id, err)
		return err
	}
	key, release, err := c.lockID(ctx, id)
	if err != nil {
		err = apierr.Transient(err)
		c.notifyResult(models.OperationDelete, id, err)
		return err
	}
	defer release()

	c.mu.Lock()
	pos := c.indexLocked(key)
	if pos < 0 {
		c.mu.Unlock()
		err := apierr.NotFound(fmt.Sprintf("%s %s not found", c.noun, key))
		c.notifyResult(models.OperationDelete, key, err)
		return err
	}
	removed := c.items[pos]
	c.items = append(c.items[:pos:pos], c.items[pos+1:]...)
	c.beginLocked(key)
	resets := c.resets
	c.mu.Unlock()
	c.log.Debug("delete %s pending", key)

	_, err = call(ctx, c.timeout, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, c.remote.Delete(ctx, key)
	})
	if apierr.IsKind(err, apierr.KindNotFound) {
		c.log.Debug("delete %s: already gone on the server", key)
		err = nil
	}

	c.mu.Lock()
	if err != nil {
		if c.resets == resets && c.indexLocked(key) < 0 {
			if pos > len(c.items) {
				pos = len(c.items)
			}
			c.items = append(c.items[:pos], append([]T{removed}, c.items[pos:]...)...)
		}
		c.endLocked(key, models.StateRolledBack)
	} else {
		c.endLocked(key, models.StateCommitted)
	}
	c.mu.Unlock()

	c.settle(models.OperationDelete, key, role, nil, err)
	c.notifyResult(models.OperationDelete, key, err)
	return err
}

// BulkResult reports the per-id outcome of a BulkUpdate.
type BulkResult struct {
	Committed []string
	Failed    map[string]error
}

// BulkUpdate applies patch to every id independently: a failure rolls back
// only its own record. One summary notification is emitted. The error is
// non-nil only when nothing was committed.
func (c *Controller[T]) BulkUpdate(ctx context.Context, role string, ids []string, patch map[string]interface{}) (BulkResult, error) {
	res := BulkResult{Failed: make(map[string]error)}
	ids = dedupe(ids)
	if len(ids) == 0 {
		err := apierr.Validation(fmt.Sprintf("No %s selected", c.resource))
		c.notifyResult(models.OperationUpdate, "", err)
		return res, err
	}
	if err := c.checkPatch(role, patch); err != nil {
		c.notifyResult(models.OperationUpdate, "", err)
		return res, err
	}

	errs := make([]error, len(ids))
	keys := make([]string, len(ids))
	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			_, keys[i], errs[i] = c.update(ctx, role, id, patch)
		}(i, id)
	}
	wg.Wait()

	var first error
	for i := range ids {
		if errs[i] == nil {
			res.Committed = append(res.Committed, keys[i])
			continue
		}
		res.Failed[keys[i]] = errs[i]
		if first == nil {
			first = errs[i]
		}
	}

	plural := string(c.resource)
	switch {
	case first == nil:
		c.notify(notify.LevelSuccess, fmt.Sprintf("Updated %d %s", len(ids), plural), models.OperationUpdate, "")
		return res, nil
	case len(res.Committed) == 0:
		c.notify(notify.LevelError, fmt.Sprintf("Failed to update %d %s: %s", len(ids), plural, apierr.UserMessage(first)), models.OperationUpdate, "")
		return res, first
	default:
		c.notify(notify.LevelWarning, fmt.Sprintf("Updated %d of %d %s; %d failed: %s",
			len(res.Committed), len(ids), plural, len(res.Failed), apierr.UserMessage(first)), models.OperationUpdate, "")
		return res, nil
	}
}

func (c *Controller[T]) update(ctx context.Context, role, id string, patch map[string]interface{}) (T, string, error) {
	var zero T
	patch = withoutID(patch)
	if len(patch) == 0 {
		return zero, id, apierr.Validation("Nothing to update")
	}

	key, release, err := c.lockID(ctx, id)
	if err != nil {
		return zero, id, apierr.Transient(err)
	}
	defer release()

	c.mu.Lock()
	i := c.indexLocked(key)
	if i < 0 {
		c.mu.Unlock()
		return zero, key, apierr.NotFound(fmt.Sprintf("%s %s not found", c.noun, key))
	}
	before := c.items[i]
	after, err := utils.MergeFields(before, patch)
	if err != nil {
		c.mu.Unlock()
		return zero, key, apierr.Validation(fmt.Sprintf("invalid %s fields: %v", strings.ToLower(c.noun), err))
	}
	c.items[i] = after
	c.beginLocked(key)
	c.mu.Unlock()
	c.log.Debug("update %s pending", key)

	server, err := call(ctx, c.timeout, func(ctx context.Context) (map[string]interface{}, error) {
		return c.remote.Update(ctx, key, patch)
	})
	result := after
	if err == nil && len(server) > 0 {
		if merged, merr := utils.MergeFields(after, withoutID(server)); merr == nil {
			result = merged
		} else {
			c.log.Warn("update %s: ignoring unreadable server record: %v", key, merr)
		}
	}

	c.mu.Lock()
	i = c.indexLocked(key)
	if err != nil {
		if i >= 0 {
			c.items[i] = before
		}
		c.endLocked(key, models.StateRolledBack)
	} else {
		if i >= 0 {
			c.items[i] = result
		}
		c.endLocked(key, models.StateCommitted)
	}
	c.mu.Unlock()

	c.settle(models.OperationUpdate, key, role, patch, err)
	if err != nil {
		return zero, key, err
	}
	return result, key, nil
}

// lockID waits for id's turn in the queue. If a create committed while
// waiting, the wait moves on to the server id.
func (c *Controller[T]) lockID(ctx context.Context, id string) (string, func(), error) {
	for {
		c.mu.RLock()
		key := c.resolveLocked(id)
		c.mu.RUnlock()

		release, err := c.queue.acquire(ctx, key)
		if err != nil {
			return key, nil, err
		}

		c.mu.RLock()
		now := c.resolveLocked(id)
		c.mu.RUnlock()
		if now == key {
			return key, release, nil
		}
		release()
	}
}

func (c *Controller[T]) authorize(role string, op models.Operation, patch map[string]interface{}) error {
	if c.gate == nil {
		return nil
	}
	action := models.ActionFor(op)
	if !c.gate.CanPerformAction(role, c.resource, action) {
		return apierr.PermissionDenied("You do not have permission to %s %s", action, c.resource)
	}
	if op != models.OperationUpdate || len(c.columns) == 0 {
		return nil
	}
	fields := make([]string, 0, len(patch))
	for f := range patch {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	for _, f := range fields {
		if col, ok := c.columns[f]; ok && !c.gate.CanEditColumn(role, col) {
			return apierr.PermissionDenied("You do not have permission to edit %s", strings.ReplaceAll(string(col), "_", " "))
		}
	}
	return nil
}

// checkPatch rejects keys that are not fields of the record, then runs the
// permission checks for an update.
func (c *Controller[T]) checkPatch(role string, patch map[string]interface{}) error {
	keys := make([]string, 0, len(patch))
	for k := range patch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if !c.fields[k] {
			return apierr.Validation(fmt.Sprintf("Unknown %s field %q", strings.ToLower(c.noun), k))
		}
	}
	return c.authorize(role, models.OperationUpdate, patch)
}

// fieldID reads the id out of a server record's fields.
func fieldID(fields map[string]interface{}) string {
	switch id := fields["id"].(type) {
	case nil:
		return ""
	case string:
		return id
	default:
		return fmt.Sprint(id)
	}
}

func (c *Controller[T]) indexLocked(id string) int {
	for i, r := range c.items {
		if r.EntityID() == id {
			return i
		}
	}
	return -1
}

func (c *Controller[T]) resolveLocked(id string) string {
	if to, ok := c.aliases[id]; ok {
		return to
	}
	return id
}

func (c *Controller[T]) beginLocked(id string) {
	c.inflight[id]++
	c.states[id] = models.StatePending
}

func (c *Controller[T]) endLocked(id string, state models.MutationState) {
	if c.inflight[id] <= 1 {
		delete(c.inflight, id)
	} else {
		c.inflight[id]--
	}
	c.states[id] = state
	c.seq++
	c.touched[id] = c.seq
}

func (c *Controller[T]) settle(op models.Operation, id, role string, patch map[string]interface{}, err error) {
	outcome := models.StateCommitted
	if err != nil {
		outcome = models.StateRolledBack
		c.log.Warn("%s %s rolled back: %v", op, id, err)
	} else {
		c.log.Info("%s %s committed", op, id)
	}
	if c.bus == nil {
		return
	}
	c.bus.Emit(events.Topic(c.resource, outcome), events.Settled{
		Resource:  c.resource,
		EntityID:  id,
		Operation: op,
		Outcome:   outcome,
		Role:      role,
		Patch:     patch,
		Err:       err,
	})
}

func (c *Controller[T]) notifyResult(op models.Operation, id string, err error) {
	if err == nil {
		c.notify(notify.LevelSuccess, fmt.Sprintf("%s %s", c.noun, pastTense(op)), op, id)
		return
	}
	c.notify(notify.LevelError, fmt.Sprintf("Failed to %s %s: %s", op, strings.ToLower(c.noun), apierr.UserMessage(err)), op, id)
}

func (c *Controller[T]) notify(level notify.Level, message string, op models.Operation, id string) {
	if c.notifier == nil {
		return
	}
	n := notify.New(level, message)
	n.Resource = string(c.resource)
	n.EntityID = id
	n.Operation = op
	c.notifier.Notify(n)
}

type result[V any] struct {
	v   V
	err error
}

// call runs fn with a deadline. A remote that ignores its context is
// abandoned when the deadline passes.
func call[V any](ctx context.Context, timeout time.Duration, fn func(context.Context) (V, error)) (V, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan result[V], 1)
	go func() {
		v, err := fn(ctx)
		done <- result[V]{v, err}
	}()

	var zero V
	select {
	case r := <-done:
		if r.err == nil {
			return r.v, nil
		}
		var apiErr *apierr.Error
		if errors.As(r.err, &apiErr) {
			return zero, r.err
		}
		return zero, apierr.Transient(r.err)
	case <-ctx.Done():
		e := apierr.Transient(ctx.Err())
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			e.Message = "The server took too long to respond"
		} else {
			e.Message = "The request was cancelled"
		}
		return zero, e
	}
}

func newTempID() string {
	return fmt.Sprintf("%s%d-%s", TempIDPrefix, time.Now().UnixNano(), uuid.NewString()[:8])
}

// IsTempID reports whether id was assigned locally by Create.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, TempIDPrefix)
}

func withoutID(patch map[string]interface{}) map[string]interface{} {
	if _, ok := patch["id"]; !ok {
		return patch
	}
	out := make(map[string]interface{}, len(patch))
	for k, v := range patch {
		if k != "id" {
			out[k] = v
		}
	}
	return out
}

func dedupe(ids []string) []string {
	seen := make(map[string]bool, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		out = append(out, id)
	}
	return out
}

func pastTense(op models.Operation) string {
	switch op {
	case models.OperationCreate:
		return "created"
	case models.OperationDelete:
		return "deleted"
	default:
		return "updated"
	}
}
