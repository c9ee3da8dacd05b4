package sync

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/taskmesh/taskmesh/internal/mirror"
	"github.com/taskmesh/taskmesh/internal/store"
	"github.com/taskmesh/taskmesh/internal/types"
)

// Direction selects which passes a sync run performs.
type Direction string

const (
	DirectionPush Direction = "push"
	DirectionPull Direction = "pull"
	DirectionBoth Direction = "both"
)

// Preference decides which side wins a detected conflict.
type Preference string

const (
	PreferLocal  Preference = "local"
	PreferRemote Preference = "remote"
)

// Result reports what a sync run did. Per-record failures land in
// Errors and do not abort the remaining records.
type Result struct {
	Pushed int
	Pulled int
	Errors []string
}

func (r *Result) merge(other *Result) {
	r.Pushed += other.Pushed
	r.Pulled += other.Pulled
	r.Errors = append(r.Errors, other.Errors...)
}

// Engine reconciles one store against one mirror adapter.
type Engine struct {
	store   *store.Store
	adapter *mirror.Adapter
	// Scope restricts which local tasks a push pass considers.
	scope  store.TaskFilter
	logger *log.Logger
}

// New creates a sync engine. If logger is nil, a default logger writing
// to stderr is used.
func New(st *store.Store, ad *mirror.Adapter, scope store.TaskFilter, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Engine{store: st, adapter: ad, scope: scope, logger: logger}
}

// Sync runs the requested passes. DirectionBoth pulls before pushing so
// tasks newly created by the pull are visible to the push pass and a
// concurrently-created local task is not rediscovered as a brand-new
// mirror record in the same run.
func (e *Engine) Sync(ctx context.Context, dir Direction, pref Preference) (*Result, error) {
	if pref == "" {
		pref = PreferRemote
	}
	result := &Result{}
	switch dir {
	case DirectionPull:
		r, err := e.Pull(ctx, pref)
		if err != nil {
			return nil, err
		}
		result.merge(r)
	case DirectionPush:
		r, err := e.Push(ctx, pref)
		if err != nil {
			return nil, err
		}
		result.merge(r)
	case DirectionBoth, "":
		r, err := e.Pull(ctx, pref)
		if err != nil {
			return nil, err
		}
		result.merge(r)
		r, err = e.Push(ctx, pref)
		if err != nil {
			return nil, err
		}
		result.merge(r)
	default:
		return nil, fmt.Errorf("unknown sync direction %q", dir)
	}
	e.logger.Printf("Sync complete for %s: pushed=%d pulled=%d errors=%d",
		e.adapter.Name(), result.Pushed, result.Pulled, len(result.Errors))
	return result, nil
}

// Push reconciles local tasks into the mirror. Unmapped local tasks get
// a brand-new mirror record with a freshly minted external id; mapped
// tasks are written only when the local side changed since the last
// sync, with conflict detection against the mirror's modification time.
func (e *Engine) Push(ctx context.Context, pref Preference) (*Result, error) {
	result := &Result{}

	tasks, err := e.store.ListTasks(ctx, e.scope)
	if err != nil {
		return nil, fmt.Errorf("failed to list local tasks: %w", err)
	}

	for _, task := range tasks {
		if err := e.pushTask(ctx, task, pref, result); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("push %s: %v", task.ID, err))
		}
	}
	return result, nil
}

func (e *Engine) pushTask(ctx context.Context, task *types.Task, pref Preference, result *Result) error {
	key := e.adapter.MetadataKey()
	st, err := types.SyncStateFrom(task.Metadata, key)
	if err != nil {
		return err
	}

	if st == nil || st.ExternalID == "" {
		// Never mirrored: mint an external id and create the record.
		extID, err := e.adapter.NextExternalID()
		if err != nil {
			return err
		}
		written, err := e.adapter.Write(&mirror.Record{
			ExternalID: extID,
			Title:      task.Title,
			Status:     string(task.Status),
			Owner:      task.AssignedTo,
			Tags:       task.Tags,
			LocalID:    task.ID,
			LastSynced: task.UpdatedAt,
		})
		if err != nil {
			return err
		}
		newState := &types.SyncState{
			ExternalID:   extID,
			LastSyncedAt: laterOf(task.UpdatedAt, written.ModTime),
		}
		if _, err := e.store.UpdateSyncState(ctx, task.ID, key, newState, task.Version); err != nil {
			return err
		}
		result.Pushed++
		return nil
	}

	localChanged := task.UpdatedAt.After(st.LastSyncedAt)
	if !localChanged {
		return nil
	}

	rec, readErr := e.adapter.Read(st.ExternalID)
	if readErr != nil {
		// Mirror record vanished; recreate it from local state.
		rec = &mirror.Record{ExternalID: st.ExternalID}
	} else if rec.Internal {
		return nil
	} else if rec.ModTime.After(st.LastSyncedAt) {
		// Both sides changed since the watermark.
		conflict := types.SyncConflict{
			Agent:      e.adapter.Name(),
			Direction:  "push",
			Preference: string(pref),
			LocalAt:    task.UpdatedAt,
			RemoteAt:   rec.ModTime,
			DetectedAt: time.Now().UTC(),
		}
		recorded, err := e.recordConflict(ctx, task, st, conflict)
		if err != nil {
			return err
		}
		if pref != PreferLocal {
			// Remote wins: the local change is not applied this pass.
			return nil
		}
		task = recorded
		st, err = types.SyncStateFrom(task.Metadata, key)
		if err != nil {
			return err
		}
	}

	rec.Title = task.Title
	rec.Status = string(task.Status)
	rec.Owner = task.AssignedTo
	rec.Tags = task.Tags
	rec.LocalID = task.ID
	rec.LastSynced = task.UpdatedAt

	written, err := e.adapter.Write(rec)
	if err != nil {
		return err
	}
	st.LastSyncedAt = laterOf(task.UpdatedAt, written.ModTime)
	if _, err := e.store.UpdateSyncState(ctx, task.ID, key, st, task.Version); err != nil {
		return err
	}
	result.Pushed++
	return nil
}

// Pull reconciles mirror records into the local store. Records without a
// local counterpart seed brand-new local tasks with the mapping stored
// immediately; mapped records are applied only when the mirror side
// changed since the last sync. A missing mirror directory fails the
// whole pass.
func (e *Engine) Pull(ctx context.Context, pref Preference) (*Result, error) {
	result := &Result{}

	records, err := e.adapter.List()
	if err != nil {
		return nil, err
	}

	for _, rec := range records {
		if rec.Internal {
			continue
		}
		if err := e.pullRecord(ctx, rec, pref, result); err != nil {
			result.Errors = append(result.Errors,
				fmt.Sprintf("pull %s: %v", rec.ExternalID, err))
		}
	}
	return result, nil
}

func (e *Engine) pullRecord(ctx context.Context, rec *mirror.Record, pref Preference, result *Result) error {
	key := e.adapter.MetadataKey()

	task, err := e.locateLocal(ctx, rec)
	if err != nil && !types.IsNotFound(err) {
		return err
	}

	if task == nil {
		// No local counterpart: create one seeded from the mirror.
		task = &types.Task{
			Title:      rec.Title,
			Status:     statusFrom(rec.Status),
			AssignedTo: rec.Owner,
			Tags:       rec.Tags,
		}
		task.SetDefaults()
		task.Metadata = types.PutSyncState(nil, key, &types.SyncState{
			ExternalID:   rec.ExternalID,
			LastSyncedAt: laterOf(task.UpdatedAt, rec.ModTime),
		})
		if err := e.store.CreateTask(ctx, task); err != nil {
			return err
		}
		result.Pulled++
		return nil
	}

	st, err := types.SyncStateFrom(task.Metadata, key)
	if err != nil {
		return err
	}

	var watermark time.Time
	if st != nil {
		watermark = st.LastSyncedAt
	} else {
		// Fall back to the watermark embedded in the mirror record.
		st = &types.SyncState{ExternalID: rec.ExternalID}
		watermark = rec.LastSynced
	}

	remoteChanged := rec.ModTime.After(watermark)
	if !remoteChanged && !watermark.IsZero() {
		return nil
	}

	localChanged := task.UpdatedAt.After(watermark)
	if remoteChanged && localChanged && !watermark.IsZero() {
		conflict := types.SyncConflict{
			Agent:      e.adapter.Name(),
			Direction:  "pull",
			Preference: string(pref),
			LocalAt:    task.UpdatedAt,
			RemoteAt:   rec.ModTime,
			DetectedAt: time.Now().UTC(),
		}
		recorded, err := e.recordConflict(ctx, task, st, conflict)
		if err != nil {
			return err
		}
		if pref == PreferLocal {
			// Local wins: the mirror's change is not applied this pass.
			return nil
		}
		task = recorded
		st, err = types.SyncStateFrom(task.Metadata, key)
		if err != nil {
			return err
		}
	}

	// Apply the mirror's fields onto the local task. Pulls use the
	// task's current version at read time; they are not expected to
	// race local writers as tightly as same-process operations.
	patch := store.TaskPatch{
		Title:      &rec.Title,
		AssignedTo: &rec.Owner,
	}
	if s := statusFrom(rec.Status); s != "" {
		patch.Status = &s
	}
	if rec.Tags != nil {
		tags := rec.Tags
		patch.Tags = &tags
	}
	updated, err := e.store.UpdateTask(ctx, task.ID, patch, task.Version)
	if err != nil {
		return err
	}

	st.ExternalID = rec.ExternalID
	st.LastSyncedAt = laterOf(updated.UpdatedAt, rec.ModTime)
	if _, err := e.store.UpdateSyncState(ctx, updated.ID, key, st, updated.Version); err != nil {
		return err
	}
	result.Pulled++
	return nil
}

// locateLocal finds the local task for a mirror record: the embedded
// local-id back-reference first, then the local metadata index keyed by
// external id.
func (e *Engine) locateLocal(ctx context.Context, rec *mirror.Record) (*types.Task, error) {
	if rec.LocalID != "" {
		task, err := e.store.GetTask(ctx, rec.LocalID)
		if err == nil {
			return task, nil
		}
		if !types.IsNotFound(err) {
			return nil, err
		}
	}
	task, err := e.store.FindTaskByMetadata(ctx, e.adapter.MetadataKey(), rec.ExternalID)
	if err != nil {
		if types.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	return task, nil
}

// recordConflict appends the conflict to the task's bounded log unless
// the newest entry already covers the same pair of timestamps, so a
// full sync records exactly one entry per conflicting record.
func (e *Engine) recordConflict(ctx context.Context, task *types.Task, st *types.SyncState, c types.SyncConflict) (*types.Task, error) {
	if len(st.Conflicts) > 0 {
		prev := st.Conflicts[0]
		if prev.LocalAt.Equal(c.LocalAt) && prev.RemoteAt.Equal(c.RemoteAt) {
			return task, nil
		}
	}
	st.RecordConflict(c)
	e.logger.Printf("Conflict on task %s (%s, prefer %s): local=%s remote=%s",
		task.ID, c.Direction, c.Preference,
		c.LocalAt.Format(time.RFC3339), c.RemoteAt.Format(time.RFC3339))
	return e.store.UpdateSyncState(ctx, task.ID, e.adapter.MetadataKey(), st, task.Version)
}

func statusFrom(s string) types.Status {
	st := types.Status(s)
	if st.IsValid() {
		return st
	}
	return ""
}

func laterOf(a, b time.Time) time.Time {
	if b.After(a) {
		return b
	}
	return a
}
